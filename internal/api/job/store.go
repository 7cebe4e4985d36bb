// Package job tracks background batch runs so they can be polled and
// cancelled by id.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/arena/internal/api/response"
	"github.com/newthinker/arena/internal/core"
)

// Status represents job status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Done reports whether s is terminal.
func (s Status) Done() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// Job represents an async job.
type Job struct {
	ID        string                `json:"id"`
	Type      string                `json:"type"`
	UserID    string                `json:"user_id"`
	Status    Status                `json:"status"`
	Current   int                   `json:"current"`
	Total     int                   `json:"total"`
	Result    any                   `json:"result,omitempty"`
	Error     *response.ErrorDetail `json:"error,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`

	cancel context.CancelFunc
}

// Progress is the completed share in percent.
func (j Job) Progress() int {
	if j.Total == 0 {
		if j.Status == StatusComplete {
			return 100
		}
		return 0
	}
	return j.Current * 100 / j.Total
}

// Store manages async jobs.
type Store struct {
	jobs    map[string]*Job
	order   []string // Track insertion order for eviction
	maxSize int
	ttl     time.Duration
	mu      sync.RWMutex
	now     func() time.Time
}

// NewStore creates a new job store. Finished jobs older than ttl are
// dropped on the next Create.
func NewStore(maxSize int, ttl time.Duration) *Store {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Store{
		jobs:    make(map[string]*Job),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Create registers a pending job. cancel, if set, is invoked by Cancel.
func (s *Store) Create(jobType, userID string, cancel context.CancelFunc) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expire(now)

	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		UserID:    userID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		cancel:    cancel,
	}

	// Evict oldest if at capacity
	if len(s.jobs) >= s.maxSize && len(s.order) > 0 {
		oldest := s.order[0]
		if j, ok := s.jobs[oldest]; ok && j.cancel != nil && !j.Status.Done() {
			j.cancel()
		}
		delete(s.jobs, oldest)
		s.order = s.order[1:]
	}

	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)

	copied := *job
	return &copied
}

func (s *Store) expire(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Status.Done() && now.Sub(j.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// Get retrieves a job by ID.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, core.Errorf(core.ErrJobNotFound, "job %s", id)
	}

	// Return copy to prevent race conditions
	jobCopy := *job
	return &jobCopy, nil
}

// Update modifies a job using an update function.
func (s *Store) Update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return core.Errorf(core.ErrJobNotFound, "job %s", id)
	}

	fn(job)
	job.UpdatedAt = s.now()
	return nil
}

// Cancel stops a running job. Cancelling a finished job is a no-op.
func (s *Store) Cancel(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, core.Errorf(core.ErrJobNotFound, "job %s", id)
	}
	if !job.Status.Done() {
		if job.cancel != nil {
			job.cancel()
		}
		job.Status = StatusCancelled
		job.UpdatedAt = s.now()
	}
	jobCopy := *job
	return &jobCopy, nil
}

// List returns all jobs in creation order.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Job, 0, len(s.jobs))
	for _, id := range s.order {
		result = append(result, *s.jobs[id])
	}
	return result
}

// Running counts jobs that have not finished.
func (s *Store) Running() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, j := range s.jobs {
		if !j.Status.Done() {
			n++
		}
	}
	return n
}
