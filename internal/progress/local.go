package progress

import (
	"context"
	"sync"

	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/rs/zerolog"
)

// LocalBroadcaster delivers events to observers in this process only.
type LocalBroadcaster struct {
	mu     sync.RWMutex
	topics map[string]map[Observer]struct{}
	logger zerolog.Logger
}

func NewLocalBroadcaster(logger zerolog.Logger) *LocalBroadcaster {
	return &LocalBroadcaster{
		topics: make(map[string]map[Observer]struct{}),
		logger: logger,
	}
}

func (b *LocalBroadcaster) Subscribe(jobID string, observer Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	observers, ok := b.topics[jobID]
	if !ok {
		observers = make(map[Observer]struct{})
		b.topics[jobID] = observers
	}
	observers[observer] = struct{}{}
}

func (b *LocalBroadcaster) Unsubscribe(jobID string, observer Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	observers, ok := b.topics[jobID]
	if !ok {
		return
	}
	delete(observers, observer)
	if len(observers) == 0 {
		delete(b.topics, jobID)
	}
}

func (b *LocalBroadcaster) Publish(_ context.Context, jobID string, event domain.Event) error {
	b.deliver(jobID, event)
	return nil
}

func (b *LocalBroadcaster) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[jobID])
}

func (b *LocalBroadcaster) Mode() string {
	return "local"
}

func (b *LocalBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = make(map[string]map[Observer]struct{})
	return nil
}

func (b *LocalBroadcaster) deliver(jobID string, event domain.Event) {
	b.mu.RLock()
	observers := make([]Observer, 0, len(b.topics[jobID]))
	for observer := range b.topics[jobID] {
		observers = append(observers, observer)
	}
	b.mu.RUnlock()

	for _, observer := range observers {
		b.notify(jobID, observer, event)
	}
}

func (b *LocalBroadcaster) notify(jobID string, observer Observer, event domain.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Error().
				Str("job_id", jobID).
				Interface("panic", recovered).
				Msg("progress observer panicked")
		}
	}()
	observer.Notify(event)
}
