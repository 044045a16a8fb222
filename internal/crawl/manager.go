package crawl

import (
	"sync"
	"sync/atomic"
)

// CancelFlag is the cooperative cancellation signal for one job. Workers
// check it between frontier pops; it never interrupts an in-flight fetch.
type CancelFlag struct {
	requested atomic.Bool
}

// Request latches the flag. Latching is one-way and idempotent.
func (f *CancelFlag) Request() {
	f.requested.Store(true)
}

// Requested reports whether cancellation has been asked for.
func (f *CancelFlag) Requested() bool {
	return f.requested.Load()
}

// Manager tracks the cancel flags of jobs currently running in this process.
type Manager struct {
	mu    sync.Mutex
	flags map[string]*CancelFlag
}

func NewManager() *Manager {
	return &Manager{flags: make(map[string]*CancelFlag)}
}

// Register tracks the flag for a job about to run. Registering an already
// tracked job returns the existing flag, so a cancel issued between enqueue
// and dispatch is never lost.
func (m *Manager) Register(jobID string) *CancelFlag {
	m.mu.Lock()
	defer m.mu.Unlock()
	if flag, ok := m.flags[jobID]; ok {
		return flag
	}
	flag := &CancelFlag{}
	m.flags[jobID] = flag
	return flag
}

// Cancel latches the flag for jobID. It reports false when the job is not
// running in this process.
func (m *Manager) Cancel(jobID string) bool {
	m.mu.Lock()
	flag, ok := m.flags[jobID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	flag.Request()
	return true
}

// Release drops the flag once the job reaches a terminal state.
func (m *Manager) Release(jobID string) {
	m.mu.Lock()
	delete(m.flags, jobID)
	m.mu.Unlock()
}

// Flag returns the tracked flag for jobID, if any.
func (m *Manager) Flag(jobID string) (*CancelFlag, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	flag, ok := m.flags[jobID]
	return flag, ok
}
