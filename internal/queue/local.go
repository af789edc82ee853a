package queue

import (
	"context"

	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/rs/zerolog"
)

// LocalQueue is an in-process channel queue. Tasks are delivered once; a
// failed conversion is never retried as a whole.
type LocalQueue struct {
	ch     chan domain.ConversionTask
	logger zerolog.Logger
}

func NewLocalQueue(bufferSize int, logger zerolog.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	return &LocalQueue{
		ch:     make(chan domain.ConversionTask, bufferSize),
		logger: logger,
	}
}

// Enqueue never blocks; a full buffer is reported as ErrQueueFull.
func (q *LocalQueue) Enqueue(ctx context.Context, task domain.ConversionTask) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.ConversionTask) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-q.ch:
			if err := handler(ctx, task); err != nil {
				q.logger.Error().Err(err).Str("job_id", task.JobID).Msg("conversion task failed")
			}
		}
	}
}

func (q *LocalQueue) Pending() int {
	return len(q.ch)
}
