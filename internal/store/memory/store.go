// Package memory is an in-memory Store used by tests and single-process
// deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/inkhorn/webharvest/internal/crawl"
)

// orderedSnapshot pairs a snapshot with its insertion sequence so reads come
// back in write order even under a fake clock.
type orderedSnapshot struct {
	crawl.ContentSnapshot
	seq int
}

// Store keeps all state in process memory behind one mutex.
type Store struct {
	mu        sync.Mutex
	jobs      map[string]crawl.Job
	websites  map[string]crawl.Website // keyed by canonical URL
	snapshots map[string][]orderedSnapshot
	ids       crawl.IDGenerator
	clock     crawl.Clock
}

// New returns an empty Store. ids generates Website IDs on upsert.
func New(ids crawl.IDGenerator, clock crawl.Clock) *Store {
	return &Store{
		jobs:      make(map[string]crawl.Job),
		websites:  make(map[string]crawl.Website),
		snapshots: make(map[string][]orderedSnapshot),
		ids:       ids,
		clock:     clock,
	}
}

func (s *Store) CreateJob(_ context.Context, job crawl.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (crawl.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawl.Job{}, fmt.Errorf("job %s: %w", jobID, crawl.ErrNotFound)
	}
	return job, nil
}

func (s *Store) UpdateJob(_ context.Context, jobID string, status crawl.JobStatus, errText string, counters crawl.Counters, currentDepth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, crawl.ErrNotFound)
	}
	now := s.clock.Now()
	if status == crawl.JobStatusProcessing && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if status.IsTerminal() && job.CompletedAt == nil {
		job.CompletedAt = &now
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	job.CurrentDepth = currentDepth
	s.jobs[jobID] = job
	return nil
}

func (s *Store) UpsertWebsite(_ context.Context, canonicalURL, domain string) (crawl.Website, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if site, ok := s.websites[canonicalURL]; ok {
		return site, nil
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawl.Website{}, fmt.Errorf("generate website id: %w", err)
	}
	site := crawl.Website{
		ID:           id,
		CanonicalURL: canonicalURL,
		Domain:       domain,
	}
	s.websites[canonicalURL] = site
	return site, nil
}

func (s *Store) RecordWebsiteVisit(_ context.Context, websiteID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, site := range s.websites {
		if site.ID != websiteID {
			continue
		}
		site.ScrapeCount++
		visited := at
		site.LastScrapedAt = &visited
		s.websites[key] = site
		return nil
	}
	return fmt.Errorf("website %s: %w", websiteID, crawl.ErrNotFound)
}

func (s *Store) UpdateWebsiteRobots(_ context.Context, websiteID string, robots crawl.RobotsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, site := range s.websites {
		if site.ID != websiteID {
			continue
		}
		rec := robots
		site.Robots = &rec
		s.websites[key] = site
		return nil
	}
	return fmt.Errorf("website %s: %w", websiteID, crawl.ErrNotFound)
}

func (s *Store) InsertSnapshot(_ context.Context, snap crawl.ContentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := orderedSnapshot{ContentSnapshot: snap, seq: s.nextSeq()}
	s.snapshots[snap.JobID] = append(s.snapshots[snap.JobID], ps)
	return nil
}

// nextSeq gives snapshots a stable insertion order across jobs; FetchedAt
// alone can collide under a fake clock.
func (s *Store) nextSeq() int {
	total := 0
	for _, snaps := range s.snapshots {
		total += len(snaps)
	}
	return total
}

func (s *Store) SnapshotsByJob(_ context.Context, jobID string) ([]crawl.ContentSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	positioned := append([]orderedSnapshot(nil), s.snapshots[jobID]...)
	sort.Slice(positioned, func(i, j int) bool { return positioned[i].seq < positioned[j].seq })
	out := make([]crawl.ContentSnapshot, len(positioned))
	for i, ps := range positioned {
		out[i] = ps.ContentSnapshot
	}
	return out, nil
}

func (s *Store) SnapshotsByWebsite(_ context.Context, websiteID string) ([]crawl.ContentSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var positioned []orderedSnapshot
	for _, snaps := range s.snapshots {
		for _, ps := range snaps {
			if ps.WebsiteID == websiteID {
				positioned = append(positioned, ps)
			}
		}
	}
	sort.Slice(positioned, func(i, j int) bool { return positioned[i].seq < positioned[j].seq })
	out := make([]crawl.ContentSnapshot, len(positioned))
	for i, ps := range positioned {
		out[i] = ps.ContentSnapshot
	}
	return out, nil
}

// Website returns the row for a canonical URL; test helper.
func (s *Store) Website(canonicalURL string) (crawl.Website, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.websites[canonicalURL]
	return site, ok
}
