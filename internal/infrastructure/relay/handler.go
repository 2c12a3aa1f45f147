// Package relay contains delivery handlers for the transactional outbox:
// destinations the background worker drains canonical events into.
package relay

import (
	"context"

	"github.com/streadway/amqp"

	"praxis/internal/core/apperror"
	"praxis/internal/infrastructure/storage/postgres"
	"praxis/pkg/logger"
)

var _ postgres.OutboxHandler = (*LogHandler)(nil)
var _ postgres.OutboxHandler = (*AMQPHandler)(nil)

// LogHandler writes each event to the log. Default destination when no
// broker is configured.
type LogHandler struct {
	log *logger.Logger
}

// NewLogHandler creates a log-only handler.
func NewLogHandler(log *logger.Logger) *LogHandler {
	if log == nil {
		log = logger.Default()
	}
	return &LogHandler{log: log.WithComponent("relay-log")}
}

// Handle implements postgres.OutboxHandler.
func (h *LogHandler) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	h.log.Infow("event published",
		"message_id", msg.ID.String(),
		"event_type", msg.EventType,
		"payload", msg.Payload)
	return nil
}

// AMQPHandler publishes events to a RabbitMQ exchange, routed by event type.
type AMQPHandler struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPHandler dials the broker and declares a durable topic exchange.
func NewAMQPHandler(url, exchange string) (*AMQPHandler, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, apperror.NewInternal("dial amqp broker").WithCause(err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, apperror.NewInternal("open amqp channel").WithCause(err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, apperror.NewInternal("declare amqp exchange").WithCause(err)
	}
	return &AMQPHandler{conn: conn, channel: ch, exchange: exchange}, nil
}

// Handle implements postgres.OutboxHandler.
func (h *AMQPHandler) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	err := h.channel.Publish(h.exchange, msg.EventType, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID.String(),
		Timestamp:    msg.CreatedAt,
		Body:         []byte(msg.Payload),
	})
	if err != nil {
		return apperror.NewInternal("publish amqp message").WithCause(err)
	}
	return nil
}

// Close releases the channel and connection.
func (h *AMQPHandler) Close() error {
	if h.channel != nil {
		h.channel.Close()
	}
	if h.conn != nil {
		return h.conn.Close()
	}
	return nil
}
