package crawl

import "sync"

// frontier is the per-job, depth-layered queue of admitted URLs. Exactly two
// layers are live at once: the depth currently being drained and the next
// depth being filled. Depth d is fully drained -- every popped entry returned
// via Done -- before any depth d+1 entry is handed out, which keeps progress
// reporting deterministic and memory bounded.
type frontier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	depth    int
	maxDepth int
	current  []Entry
	next     []Entry
	inflight int
	closed   bool
}

func newFrontier(maxDepth int) *frontier {
	f := &frontier{
		depth:    1,
		maxDepth: maxDepth,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Push enqueues an admitted entry. Entries may target the draining depth or
// the next one; anything else (including depths beyond maxDepth) is refused.
func (f *frontier) Push(e Entry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || e.Depth > f.maxDepth {
		return false
	}
	switch e.Depth {
	case f.depth:
		f.current = append(f.current, e)
	case f.depth + 1:
		f.next = append(f.next, e)
	default:
		return false
	}
	f.cond.Broadcast()
	return true
}

// Pop blocks until an entry is available, the frontier is exhausted, or it is
// closed. The boolean is false once no more entries will ever be produced.
// Every successful Pop must be paired with a Done call.
func (f *frontier) Pop() (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.closed {
			return Entry{}, false
		}
		if len(f.current) > 0 {
			e := f.current[0]
			f.current = f.current[1:]
			f.inflight++
			return e, true
		}
		if f.inflight > 0 {
			// An in-flight entry may still discover links for this or
			// the next layer.
			f.cond.Wait()
			continue
		}
		if len(f.next) > 0 && f.depth < f.maxDepth {
			f.current, f.next = f.next, nil
			f.depth++
			continue
		}
		// Exhausted: wake any peers blocked in Wait so they exit too.
		f.closed = true
		f.cond.Broadcast()
		return Entry{}, false
	}
}

// Done marks one popped entry as terminally processed.
func (f *frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	f.cond.Broadcast()
}

// Close stops dequeuing; in-flight entries finish normally. Used for
// cooperative cancellation.
func (f *frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}

// Depth returns the depth currently being drained.
func (f *frontier) Depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depth
}
