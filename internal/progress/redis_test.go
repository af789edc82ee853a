package progress

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRedisBroadcasterRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	broadcaster, err := NewRedisBroadcaster(ctx, RedisConfig{Addr: addr, ChannelPrefix: "test-job:"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	defer broadcaster.Close()

	observer := NewChannelObserver(4)
	broadcaster.Subscribe("job-1", observer)
	if err := broadcaster.Publish(ctx, "job-1", progressEvent("job-1", 42)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case event := <-observer.Events():
		if event.Progress != 42 || event.JobID != "job-1" {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-ctx.Done():
		t.Fatalf("expected event through redis")
	}
}
