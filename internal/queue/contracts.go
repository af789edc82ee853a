package queue

import (
	"context"
	"errors"

	"github.com/civchange/pdf2psd-back/internal/domain"
)

var ErrQueueFull = errors.New("conversion queue is full")

// Producer hands conversion tasks to worker goroutines.
type Producer interface {
	Enqueue(ctx context.Context, task domain.ConversionTask) error
}

// Consumer receives conversion tasks and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.ConversionTask) error) error
}
