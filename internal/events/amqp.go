package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrBrokerUnavailable is returned when the AMQP connection cannot be used.
var ErrBrokerUnavailable = errors.New("message broker unavailable")

// AMQPEmitter publishes job events to a durable topic exchange so that
// workers in other processes can react to them.
type AMQPEmitter struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger

	mu sync.Mutex
}

// declareExchange sets up the topic exchange. Idempotent.
func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// NewAMQPEmitter connects to url and declares exchange.
func NewAMQPEmitter(url, exchange string, logger *slog.Logger) (*AMQPEmitter, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrBrokerUnavailable, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open channel: %v", ErrBrokerUnavailable, err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPEmitter{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		logger:   logger.With("component", "amqp_event_emitter"),
	}, nil
}

// EmitEvent publishes event with its type as routing key.
func (e *AMQPEmitter) EmitEvent(ctx context.Context, event *JobEvent) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ch.PublishWithContext(ctx,
		e.exchange,         // exchange
		string(event.Type), // routing key
		false,              // mandatory
		false,              // immediate
		msg,
	); err != nil {
		e.logger.Error("failed to publish event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err)
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Close closes the channel and connection.
func (e *AMQPEmitter) Close() error {
	return errors.Join(e.ch.Close(), e.conn.Close())
}

func encodeEvent(event *JobEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Timestamp:    event.CreatedAt,
		Type:         string(event.Type),
		Body:         body,
	}, nil
}

func decodeEvent(d amqp.Delivery) (*JobEvent, error) {
	var event JobEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", d.MessageId, err)
	}
	return &event, nil
}

// AMQPSubscriber receives job events from the topic exchange on a private,
// auto-deleted queue.
type AMQPSubscriber struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
	logger     *slog.Logger
}

// NewAMQPSubscriber connects to url and binds a private queue to exchange for
// the given event types.
func NewAMQPSubscriber(url, exchange string, types []Type, logger *slog.Logger) (*AMQPSubscriber, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrBrokerUnavailable, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open channel: %v", ErrBrokerUnavailable, err)
	}

	fail := func(step string, err error) (*AMQPSubscriber, error) {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	if err := declareExchange(ch, exchange); err != nil {
		return fail("declare exchange", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fail("declare queue", err)
	}
	for _, t := range types {
		if err := ch.QueueBind(q.Name, string(t), exchange, false, nil); err != nil {
			return fail("bind queue", err)
		}
	}
	deliveries, err := ch.Consume(
		q.Name,
		"",    // consumer
		true,  // auto-ack; events are hints and may be dropped
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fail("consume", err)
	}

	return &AMQPSubscriber{
		conn:       conn,
		ch:         ch,
		deliveries: deliveries,
		logger:     logger.With("component", "amqp_event_subscriber", "queue", q.Name),
	}, nil
}

// Run passes every received event to handler until ctx ends or the broker
// closes the delivery channel.
func (s *AMQPSubscriber) Run(ctx context.Context, handler EventHandler) error {
	return consume(ctx, s.deliveries, handler, s.logger)
}

func consume(ctx context.Context, deliveries <-chan amqp.Delivery, handler EventHandler, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%w: delivery channel closed", ErrBrokerUnavailable)
			}
			event, err := decodeEvent(d)
			if err != nil {
				logger.Warn("dropping undecodable event", "error", err)
				continue
			}
			if err := handler.HandleEvent(ctx, event); err != nil {
				logger.Error("handler failed to process event",
					"event_id", event.ID,
					"event_type", event.Type,
					"error", err)
			}
		}
	}
}

// Close closes the channel and connection.
func (s *AMQPSubscriber) Close() error {
	return errors.Join(s.ch.Close(), s.conn.Close())
}
