package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// relayMessage is the payload exchanged on the Redis channel.  Origin is
// the publishing instance so each relay can skip its own messages.
type relayMessage struct {
	Origin  string `json:"origin"`
	Version int64  `json:"version"`
	Layout  int64  `json:"layout"`
	Event   Event  `json:"event"`
}

// RedisRelay connects the local bus to every other engine instance through
// a Redis pub/sub channel.  Locally committed events are published to the
// channel; events from other instances are delivered into the local bus.
// Pub/sub is fire-and-forget, which matches the bus's at-most-once
// contract.
type RedisRelay struct {
	rdb     *redis.Client
	bus     *Bus
	channel string
	origin  string
	logger  *slog.Logger
}

// NewRedisRelay returns a relay for the given instance id.
func NewRedisRelay(rdb *redis.Client, bus *Bus, channel, origin string, logger *slog.Logger) *RedisRelay {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RedisRelay{
		rdb:     rdb,
		bus:     bus,
		channel: channel,
		origin:  origin,
		logger:  logger.With("component", "redis-relay", "channel", channel),
	}
}

// Run relays events until ctx is cancelled.  It returns nil on
// cancellation and an error when the subscription cannot be established
// or is lost.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	sub := r.bus.Subscribe(256)
	defer sub.Close()
	incoming := pubsub.Channel()
	r.logger.Info("relay started", "origin", r.origin)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return errors.New("bus subscription closed")
			}
			if ev.Remote {
				continue
			}
			if err := r.forward(ctx, ev); err != nil {
				r.logger.Warn("publish failed", "type", ev.Kind, "seat", ev.SeatKey(), "error", err)
			}
		case msg, ok := <-incoming:
			if !ok {
				return errors.New("redis subscription closed")
			}
			if err := r.inject(msg.Payload); err != nil {
				r.logger.Warn("bad relay message", "error", err)
			}
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, ev Event) error {
	payload, err := r.encode(ev)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisRelay) encode(ev Event) ([]byte, error) {
	return json.Marshal(relayMessage{Origin: r.origin, Version: ev.Version, Layout: ev.Layout, Event: ev})
}

// inject decodes a channel message and delivers it locally unless this
// instance published it.
func (r *RedisRelay) inject(payload string) error {
	var msg relayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if msg.Origin == r.origin {
		return nil
	}
	ev := msg.Event
	ev.Version = msg.Version
	ev.Layout = msg.Layout
	if ev.Seat != nil {
		ev.Seat.Layout = msg.Layout
	}
	r.bus.Deliver(ev)
	return nil
}
