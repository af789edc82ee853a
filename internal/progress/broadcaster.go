// Package progress fans job events out to live subscribers.
package progress

import (
	"context"

	"github.com/civchange/pdf2psd-back/internal/domain"
)

// Observer receives events for the topics it subscribed to. Notify is called
// from the publisher's goroutine and must not block.
type Observer interface {
	Notify(event domain.Event)
}

type Broadcaster interface {
	Subscribe(jobID string, observer Observer)
	Unsubscribe(jobID string, observer Observer)
	Publish(ctx context.Context, jobID string, event domain.Event) error
	Mode() string
	Close() error
}
