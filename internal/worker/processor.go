package worker

import (
	"context"
	"sync"
	"time"

	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/civchange/pdf2psd-back/internal/queue"
	"github.com/rs/zerolog"
)

// Executor runs one conversion task to completion.
type Executor interface {
	Execute(ctx context.Context, task domain.ConversionTask) error
}

// Processor runs a fixed pool of consumers so conversions never execute on
// request goroutines.
type Processor struct {
	consumer    queue.Consumer
	executor    Executor
	concurrency int
	logger      zerolog.Logger
}

func NewProcessor(
	consumer queue.Consumer,
	executor Executor,
	concurrency int,
	logger zerolog.Logger,
) *Processor {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Processor{
		consumer:    consumer,
		executor:    executor,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Start blocks until ctx is done and every consumer has returned.
func (p *Processor) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.consumeLoop(ctx, slot)
		}(i)
	}
	p.logger.Info().Int("concurrency", p.concurrency).Msg("conversion workers started")
	wg.Wait()
}

func (p *Processor) consumeLoop(ctx context.Context, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.executor.Execute)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.Error().Err(err).Int("worker", slot).Msg("worker consume loop error")

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
