package repository

import (
	"sort"
	"sync"

	"github.com/civchange/pdf2psd-back/internal/domain"
)

var ErrNotFound = domain.ErrNotFound

// JobStore keeps every job of this process in memory. All mutations go
// through Put, Update and Delete so readers always see a consistent copy.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*domain.Job),
	}
}

func (s *JobStore) Put(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = cloneJob(&job)
}

func (s *JobStore) Get(jobID string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, ErrNotFound
	}
	return *cloneJob(job), nil
}

// Update applies mutate to the stored job under the write lock. The job is
// left untouched when mutate returns an error.
func (s *JobStore) Update(jobID string, mutate func(*domain.Job) error) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, ErrNotFound
	}
	working := cloneJob(current)
	if err := mutate(working); err != nil {
		return *cloneJob(current), err
	}
	s.jobs[jobID] = working
	return *cloneJob(working), nil
}

func (s *JobStore) Delete(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, jobID)
}

// DeleteIf removes the job only if match still holds under the write lock.
func (s *JobStore) DeleteIf(jobID string, match func(domain.Job) bool) (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || !match(*job) {
		return domain.Job{}, false
	}
	delete(s.jobs, jobID)
	return *cloneJob(job), true
}

// Entries returns a snapshot ordered by upload time.
func (s *JobStore) Entries() []domain.Job {
	s.mu.RLock()
	items := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		items = append(items, *cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].UploadedAt.Before(items[j].UploadedAt)
	})
	return items
}

func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	return &clone
}
