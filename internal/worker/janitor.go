package worker

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/civchange/pdf2psd-back/internal/repository"
	"github.com/rs/zerolog"
)

const (
	DefaultJanitorInterval  = 30 * time.Minute
	DefaultJanitorRetention = 30 * time.Minute
)

// Janitor evicts finished and abandoned jobs together with their files.
// Jobs that are pending or processing are never touched.
type Janitor struct {
	store     *repository.JobStore
	retention time.Duration
	interval  time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewJanitor(store *repository.JobStore, retention, interval time.Duration, logger zerolog.Logger) *Janitor {
	if retention <= 0 {
		retention = DefaultJanitorRetention
	}
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	return &Janitor{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger.With().Str("component", "janitor").Logger(),
		now:       time.Now,
	}
}

func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := j.Sweep(j.now()); evicted > 0 {
				j.logger.Info().Int("evicted", evicted).Msg("janitor sweep finished")
			}
		}
	}
}

// Sweep evicts every job whose retention window ended before now and
// returns how many were removed.
func (j *Janitor) Sweep(now time.Time) int {
	cutoff := now.Add(-j.retention)
	evicted := 0
	stale := func(job domain.Job) bool {
		since, ok := job.StaleSince()
		return ok && !since.IsZero() && since.Before(cutoff)
	}
	for _, entry := range j.store.Entries() {
		if !stale(entry) {
			continue
		}
		job, ok := j.store.DeleteIf(entry.ID, stale)
		if !ok {
			continue
		}
		j.removeFile(job.ID, job.InputPath)
		j.removeFile(job.ID, job.OutputPath)
		evicted++
	}
	return evicted
}

func (j *Janitor) removeFile(jobID, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		j.logger.Warn().Err(err).Str("job_id", jobID).Str("path", path).Msg("remove job file failed")
	}
}
