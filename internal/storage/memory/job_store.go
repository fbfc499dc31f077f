package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/tierfetch/internal/clock/system"
	"github.com/JakeFAU/tierfetch/internal/crawler"
)

// JobStore keeps batch jobs and their results in process memory.
type JobStore struct {
	clock crawler.Clock

	mu      sync.RWMutex
	jobs    map[string]*jobEntry
	ordered []string
}

type jobEntry struct {
	job     crawler.Job
	results []crawler.FetchResult
}

// NewJobStore returns an empty store. A nil clock reads the wall clock.
func NewJobStore(clock crawler.Clock) *JobStore {
	if clock == nil {
		clock = system.New()
	}
	return &JobStore{clock: clock, jobs: make(map[string]*jobEntry)}
}

// CreateJob inserts job. Reusing an id returns crawler.ErrConflict.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, crawler.ErrConflict)
	}
	s.jobs[job.ID] = &jobEntry{job: job}
	s.ordered = append(s.ordered, job.ID)
	return nil
}

// UpdateJobStatus moves a job to status. Counters always refresh, but a
// canceled job never leaves the canceled state.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.entry(jobID)
	if err != nil {
		return err
	}
	job := &entry.job
	job.Counters = counters
	if job.Status == crawler.JobStatusCanceled {
		return nil
	}
	now := s.clock.Now()
	job.Status = status
	job.ErrorText = errText
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.Terminal() {
		job.Finished = &now
	}
	return nil
}

// RecordResult appends result to the job's result list.
func (s *JobStore) RecordResult(_ context.Context, jobID string, result crawler.FetchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.entry(jobID)
	if err != nil {
		return err
	}
	entry.results = append(entry.results, result)
	return nil
}

// GetJob returns a snapshot of the job.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, err := s.entry(jobID)
	if err != nil {
		return crawler.Job{}, err
	}
	return entry.job, nil
}

// ListResults returns a copy of the recorded results. Unknown jobs yield an
// empty list.
func (s *JobStore) ListResults(_ context.Context, jobID string) ([]crawler.FetchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return []crawler.FetchResult{}, nil
	}
	return append([]crawler.FetchResult{}, entry.results...), nil
}

// Len reports how many jobs were created.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}

func (s *JobStore) entry(jobID string) (*jobEntry, error) {
	entry, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return entry, nil
}
