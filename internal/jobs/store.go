// Package jobs runs detached background invocations and tracks their
// lifecycle so clients can poll for completion.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status is the lifecycle state of a background job.
type Status string

// Job lifecycle states.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrJobNotFound indicates that no job exists for the given ID.
var ErrJobNotFound = errors.New("job not found")

// Job is a polled view of one background invocation.
type Job struct {
	ID        string         `json:"id"`
	Operation string         `json:"operation"`
	Status    Status         `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// jobStore keeps job records in memory. Terminal jobs are pruned after a
// retention window so pollers have time to observe the final state.
type jobStore struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	retention time.Duration
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

const defaultJobRetention = 30 * time.Minute

func newJobStore(retention time.Duration) *jobStore {
	if retention <= 0 {
		retention = defaultJobRetention
	}
	s := &jobStore{
		jobs:      make(map[string]*Job),
		retention: retention,
		done:      make(chan struct{}),
		now:       time.Now,
	}
	go s.pruneLoop()
	return s
}

func (s *jobStore) put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// Get returns a snapshot of the job. The copy keeps callers from racing
// with in-flight status updates.
func (s *jobStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

func (s *jobStore) update(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = s.now()
}

func (s *jobStore) pruneLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.prune()
		case <-s.done:
			return
		}
	}
}

func (s *jobStore) prune() {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		if (job.Status == StatusCompleted || job.Status == StatusFailed) && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

func (s *jobStore) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
