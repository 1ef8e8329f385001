package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/nautlabs/skiff/internal/dispatch"
	"github.com/nautlabs/skiff/internal/domain"
)

// Relay republishes every dispatched event to Redis channels so external
// consumers can follow sessions without holding an in-process subscription.
// Optional: the daemon runs without it.
type Relay struct {
	client *redis.Client
}

func New(ctx context.Context, addr, password string, db int) (*Relay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis.New: ping: %w", err)
	}

	return &Relay{client: client}, nil
}

func (r *Relay) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("redis.Relay.Close: %w", err)
	}
	return nil
}

func (r *Relay) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.Relay.Publish: %w", err)
	}
	return nil
}

// Run consumes a dispatcher subscription until the context ends, mirroring
// each event to the global channel and, when session-scoped, to the
// session's own channel.
func (r *Relay) Run(ctx context.Context, sub *dispatch.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			r.relay(ctx, evt)
		}
	}
}

func (r *Relay) relay(ctx context.Context, evt domain.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	if err := r.Publish(ctx, EventsChannel(), payload); err != nil {
		log.Error().Err(err).Str("channel", EventsChannel()).Msg("redis.Relay: failed to publish event")
	}

	if evt.SessionID != uuid.Nil {
		channel := SessionChannel(evt.SessionID)
		if err := r.Publish(ctx, channel, payload); err != nil {
			log.Error().Err(err).Str("channel", channel).Msg("redis.Relay: failed to publish event")
		}
	}
}

// EventsChannel returns the Redis channel carrying every event.
func EventsChannel() string {
	return "sessions"
}

// SessionChannel returns the Redis channel name for one session's events.
func SessionChannel(sessionID uuid.UUID) string {
	return "session:" + sessionID.String()
}
