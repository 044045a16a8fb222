package crawl

import "sync"

// dedupSet tracks canonical URLs already enqueued or fetched within one job.
// Dedup is job-scoped: a fresh job starts with an empty set even for URLs
// other jobs have fetched before.
type dedupSet struct {
	seen sync.Map
}

func newDedupSet() *dedupSet {
	return &dedupSet{}
}

// MarkIfNew stores the canonical URL if it has not been seen in this job and
// returns true; a false return means the URL is a duplicate.
func (d *dedupSet) MarkIfNew(canonicalURL string) bool {
	if canonicalURL == "" {
		return false
	}
	_, loaded := d.seen.LoadOrStore(canonicalURL, struct{}{})
	return !loaded
}
