package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultChangesChannel is the Redis channel used when none is configured.
const DefaultChangesChannel = "taskboard:changes"

// RedisBus relays changes between instances over Redis pub/sub. Publish
// writes to Redis only; local listeners are fed by Run, including changes
// published by this instance.
type RedisBus struct {
	client     *redis.Client
	channel    string
	local      *MemoryBus
	logger     *log.Logger
	retryDelay time.Duration
}

// NewRedisBus creates a bus on the given channel.
func NewRedisBus(client *redis.Client, channel string, logger *log.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChangesChannel
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisBus{
		client:     client,
		channel:    channel,
		local:      NewMemoryBus(),
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Publish sends the change to every instance subscribed to the channel.
func (b *RedisBus) Publish(ctx context.Context, change Change) error {
	data, err := sonic.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Listen registers a local listener for one collection.
func (b *RedisBus) Listen(collection string) (<-chan Change, func()) {
	return b.local.Listen(collection)
}

// Run subscribes to the channel and relays messages to local listeners
// until ctx is done, reconnecting when the subscription drops.
func (b *RedisBus) Run(ctx context.Context) {
	for {
		sub := b.client.Subscribe(ctx, b.channel)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			b.logger.WithError(err).WithField("channel", b.channel).Error("subscribe to changes failed")
		} else {
			b.pump(ctx, sub.Channel())
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			b.logger.WithField("channel", b.channel).Error("pubsub channel closed, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.retryDelay):
		}
	}
}

func (b *RedisBus) pump(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var change Change
			if err := sonic.UnmarshalString(msg.Payload, &change); err != nil {
				b.logger.WithError(err).Warn("unable to parse change")
				continue
			}
			if change.Collection == "" {
				b.logger.WithField("payload", msg.Payload).Warn("change without collection ignored")
				continue
			}
			b.local.notify(change)
		}
	}
}
