// Package crawl implements the polite, depth-bounded crawl engine: the job
// state machine, the depth-layered frontier, domain admission policies, the
// per-domain politeness gate, robots.txt enforcement, and the fetch/retry/
// fallback pipeline that turns seed URLs into versioned content snapshots.
package crawl
