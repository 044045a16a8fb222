package crawl

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// DelayWindow is the randomized spacing enforced between consecutive fetches
// to the same domain.
type DelayWindow struct {
	Min time.Duration
	Max time.Duration
}

// Politeness is the process-wide per-domain fetch gate. One instance is
// created at startup and shared by every job, since politeness is a property
// of the target server rather than of any crawl. Fetches to distinct domains
// never contend with each other; fetches to the same domain are serialized
// with randomized spacing.
type Politeness struct {
	clock Clock

	mu    sync.Mutex
	gates map[string]*domainGate
}

type domainGate struct {
	mu   sync.Mutex
	next time.Time
}

// NewPoliteness builds the gate. clock is injectable for tests.
func NewPoliteness(clock Clock) *Politeness {
	return &Politeness{
		clock: clock,
		gates: make(map[string]*domainGate),
	}
}

// Wait blocks the caller until the domain's next allowed fetch time, then
// reserves a new slot spaced by a random duration inside the window. A
// declared robots crawl-delay raises the window floor; it never shortens the
// wait.
func (p *Politeness) Wait(ctx context.Context, domain string, window DelayWindow, crawlDelay time.Duration) error {
	gate := p.gate(domain)

	gate.mu.Lock()
	now := p.clock.Now()
	wait := gate.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	gate.next = now.Add(wait + spacing(window, crawlDelay))
	gate.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Politeness) gate(domain string) *domainGate {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gates[domain]
	if !ok {
		g = &domainGate{}
		p.gates[domain] = g
	}
	return g
}

// spacing draws the next inter-fetch gap: uniform over [min, max] with the
// floor raised to the declared crawl-delay when one exists.
func spacing(window DelayWindow, crawlDelay time.Duration) time.Duration {
	minDelay := window.Min
	maxDelay := window.Max
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	jitterRange := maxDelay - minDelay
	if crawlDelay > minDelay {
		minDelay = crawlDelay
	}
	if jitterRange <= 0 {
		return minDelay
	}
	return minDelay + rand.N(jitterRange)
}
