// Package main hosts the webharvest service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and job management
//     endpoints. Requests are validated, normalized into crawl.JobConfig, and
//     persisted via the Store before being enqueued for processing.
//   - Dispatcher & queue: accepted jobs flow through a bounded in-memory queue
//     sized by crawler.queue_depth and are picked up by runner slots sized by
//     crawler.concurrency. Each job internally runs its own fetch worker pool
//     over a depth-layered frontier.
//   - Fetch pipeline: workers canonicalize and admit URLs, consult robots.txt,
//     wait out the per-domain politeness gate, fetch with retry/backoff, detect
//     block signatures, extract readable text with goquery, and detect the
//     content language.
//   - Persistence & fanout: every attempted URL yields an immutable
//     ContentSnapshot (memory or Postgres). Raw HTML is archived to the
//     configured blob store (memory/local/GCS) keyed by content hash, and a
//     compact notification is published when a topic is configured. Progress
//     events are batched through the Hub into zap and Prometheus sinks.
//   - Configuration & plumbing: Viper populates config from env/files with the
//     WEBHARVEST prefix; zap provides structured logging; /metrics serves the
//     Prometheus registry. The process reacts to SIGTERM with a cooperative
//     drain: running jobs observe cancellation between frontier pops and
//     in-flight fetches finish normally.
package main
