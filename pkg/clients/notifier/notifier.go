package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AllocationCompletedEvent is published once an allocation run has been committed
type AllocationCompletedEvent struct {
	RoundID            string    `json:"roundId"`
	AllocatedSlots     int       `json:"allocatedSlots"`
	RetainedSlots      int       `json:"retainedSlots"`
	AllocatedSections  int       `json:"allocatedSections"`
	UnallocatedSection int       `json:"unallocatedSections"`
	CompletedAt        time.Time `json:"completedAt"`
}

// Publisher delivers allocation events to downstream consumers
type Publisher interface {
	PublishAllocationCompleted(ctx context.Context, event AllocationCompletedEvent) error
}

// New returns a RabbitMQ publisher, or a no-op publisher when url is empty
func New(url, queue string, logger *zap.Logger) Publisher {
	if url == "" {
		return NoopPublisher{logger: logger}
	}
	return &RabbitPublisher{url: url, queue: queue, logger: logger}
}

// RabbitPublisher publishes persistent JSON messages to a durable queue on the default exchange.
// Each publish dials its own connection.
type RabbitPublisher struct {
	url    string
	queue  string
	logger *zap.Logger
}

// PublishAllocationCompleted sends the event to the configured queue
func (p *RabbitPublisher) PublishAllocationCompleted(ctx context.Context, event AllocationCompletedEvent) error {
	msg, err := encode(event, time.Now().UTC())
	if err != nil {
		return err
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", p.queue, err)
	}

	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		msg,
	); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.queue, err)
	}

	p.logger.Debug("Published allocation event",
		zap.String("queue", p.queue),
		zap.String("round_id", event.RoundID))
	return nil
}

func encode(event AllocationCompletedEvent, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		MessageId:    event.RoundID + "/" + event.CompletedAt.UTC().Format(time.RFC3339Nano),
		Body:         body,
	}, nil
}

// NoopPublisher drops events
type NoopPublisher struct {
	logger *zap.Logger
}

// PublishAllocationCompleted logs and discards the event
func (p NoopPublisher) PublishAllocationCompleted(_ context.Context, event AllocationCompletedEvent) error {
	if p.logger != nil {
		p.logger.Debug("Notifications disabled, dropping allocation event", zap.String("round_id", event.RoundID))
	}
	return nil
}
