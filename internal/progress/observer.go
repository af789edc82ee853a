package progress

import (
	"sync"

	"github.com/civchange/pdf2psd-back/internal/domain"
)

// ChannelObserver buffers events for a single consumer. When the buffer is
// full the oldest event is discarded so the newest one, and in particular a
// terminal event, is always kept.
type ChannelObserver struct {
	mu      sync.Mutex
	events  chan domain.Event
	dropped int
	closed  bool
}

func NewChannelObserver(capacity int) *ChannelObserver {
	if capacity <= 0 {
		capacity = 32
	}
	return &ChannelObserver{events: make(chan domain.Event, capacity)}
}

func (o *ChannelObserver) Notify(event domain.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	for {
		select {
		case o.events <- event:
			return
		default:
		}
		select {
		case <-o.events:
			o.dropped++
		default:
		}
	}
}

func (o *ChannelObserver) Events() <-chan domain.Event {
	return o.events
}

func (o *ChannelObserver) Dropped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}

// Close stops delivery and closes the channel. Unsubscribe first.
func (o *ChannelObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.events)
}
