package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/seatgrid/internal/notify"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
	reconnectDelay = 2 * time.Second
	publishBuffer  = 1024
)

var errBusClosed = errors.New("bus subscription closed")

// Publisher drains seat-booked events from the bus into a durable
// RabbitMQ queue.  Messages are persistent.  A broker outage never blocks
// booking: the bus drops events for a full subscriber, and the publisher
// reconnects with exponential backoff.
type Publisher struct {
	url    string
	queue  string
	bus    *notify.Bus
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher returns a publisher for the given broker url and queue.
func NewPublisher(url, queueName string, bus *notify.Bus, logger *slog.Logger) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{
		url:    url,
		queue:  queueName,
		bus:    bus,
		logger: logger.With("component", "amqp-publisher", "queue", queueName),
		now:    time.Now,
	}
}

// Run publishes until ctx is cancelled, reconnecting to the broker as
// needed.  It returns nil on cancellation.
func (p *Publisher) Run(ctx context.Context) error {
	sub := p.bus.Subscribe(publishBuffer)
	defer sub.Close()

	var pending *SeatBookedEvent
	backoff := initialBackoff
	for {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			p.logger.Warn("dial broker failed", "error", err, "retry_in", backoff)
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff // reset after successful connect

		pending, err = p.publishLoop(ctx, conn, sub, pending)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errBusClosed) {
			return err
		}
		p.logger.Warn("publish loop ended; reconnecting", "error", err)
		if !sleepCtx(ctx, reconnectDelay) {
			return nil
		}
	}
}

// publishLoop publishes on one connection until it fails.  It returns the
// message that could not be published so it is retried after reconnect.
func (p *Publisher) publishLoop(ctx context.Context, conn *amqp.Connection, sub *notify.Subscription, pending *SeatBookedEvent) (*SeatBookedEvent, error) {
	ch, err := conn.Channel()
	if err != nil {
		return pending, fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return pending, fmt.Errorf("queue declare: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	p.logger.Info("connected to broker")

	if pending != nil {
		if err := p.publish(ctx, ch, *pending); err != nil {
			return pending, err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return nil, errors.New("connection closed")
			}
			return nil, amqpErr
		case ev, ok := <-sub.Events():
			if !ok {
				return nil, errBusClosed
			}
			msg, ok := FromNotify(ev, p.now())
			if !ok {
				continue
			}
			if err := p.publish(ctx, ch, msg); err != nil {
				return &msg, err
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ch *amqp.Channel, msg SeatBookedEvent) error {
	pub, err := p.publishing(msg)
	if err != nil {
		// Not retryable; drop it.
		p.logger.Error("marshal event failed", "seat", msg.SeatID, "error", err)
		return nil
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		return fmt.Errorf("publish %s: %w", msg.SeatID, err)
	}
	p.logger.Debug("booking event published", "seat", msg.SeatID, "user", msg.BookedBy)
	return nil
}

func (p *Publisher) publishing(msg SeatBookedEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}, nil
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
