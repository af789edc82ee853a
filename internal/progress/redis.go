package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/civchange/pdf2psd-back/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisBroadcaster shares events between API instances through Redis
// pub/sub. Every instance pattern-subscribes to the prefix and fans
// received events out to its own local observers.
type RedisBroadcaster struct {
	client *redis.Client
	pubsub *redis.PubSub
	prefix string
	local  *LocalBroadcaster
	logger zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewRedisBroadcaster(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisBroadcaster, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "job:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	pubsub := client.PSubscribe(ctx, cfg.ChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("subscribe progress channels: %w", err)
	}

	broadcaster := &RedisBroadcaster{
		client: client,
		pubsub: pubsub,
		prefix: cfg.ChannelPrefix,
		local:  NewLocalBroadcaster(logger),
		logger: logger,
		done:   make(chan struct{}),
	}
	go broadcaster.listen()
	return broadcaster, nil
}

func (b *RedisBroadcaster) Subscribe(jobID string, observer Observer) {
	b.local.Subscribe(jobID, observer)
}

func (b *RedisBroadcaster) Unsubscribe(jobID string, observer Observer) {
	b.local.Unsubscribe(jobID, observer)
}

// Publish sends the event through Redis. If Redis rejects it the event is
// still delivered to observers of this instance.
func (b *RedisBroadcaster) Publish(ctx context.Context, jobID string, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode progress event: %w", err)
	}
	if err := b.client.Publish(ctx, b.prefix+jobID, payload).Err(); err != nil {
		b.local.deliver(jobID, event)
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

func (b *RedisBroadcaster) Mode() string {
	return "redis"
}

func (b *RedisBroadcaster) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		closeErr = b.pubsub.Close()
		<-b.done
		if err := b.client.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		_ = b.local.Close()
	})
	return closeErr
}

func (b *RedisBroadcaster) listen() {
	defer close(b.done)
	for message := range b.pubsub.Channel() {
		jobID := strings.TrimPrefix(message.Channel, b.prefix)
		var event domain.Event
		if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
			b.logger.Warn().Err(err).Str("channel", message.Channel).Msg("discarding malformed progress event")
			continue
		}
		b.local.deliver(jobID, event)
	}
}
