package rabbitmq

import (
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// defaultPrefetch bounds the unacknowledged deliveries held by one consumer.
const defaultPrefetch = 16

// Handler processes one delivery body. Returning false re-queues the message.
type Handler func(body []byte) bool

// Consumer reads events from a durable queue bound to a topic exchange and
// hands each delivery to the handler registered for its routing key.
type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// NewConsumer dials the broker and opens the channel deliveries arrive on.
func NewConsumer(amqpURL string, logger *slog.Logger) (*Consumer, error) {
	cleanURL, err := SanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(defaultPrefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set consumer prefetch: %w", err)
	}

	return &Consumer{conn: conn, ch: ch, logger: logger}, nil
}

// ConsumeWithBindings declares a durable queue, binds it to exchange for each
// routing key and dispatches deliveries to the matching handler in a goroutine.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler) error {
	handlers := make(map[string]Handler, len(bindings))
	for routingKey, handler := range bindings {
		if handler != nil {
			handlers[routingKey] = handler
		}
	}
	if len(handlers) == 0 {
		return fmt.Errorf("no bindings provided for queue %s", queueName)
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}

	for routingKey := range handlers {
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", routingKey, exchange, err)
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	go func() {
		for d := range msgs {
			dispatch(d, handlers, c.logger)
		}
		c.logger.Info("delivery channel closed", "queue", q.Name)
	}()

	return nil
}

// dispatch acks deliveries the handler accepted or that nobody handles, and
// re-queues the rest. A panicking handler re-queues the delivery once; a
// redelivered message that panics again is dropped.
func dispatch(d amqp.Delivery, handlers map[string]Handler, logger *slog.Logger) {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		logger.Warn("no handler for routing key; dropping", "routing_key", d.RoutingKey)
		d.Ack(false)
		return
	}

	accepted, panicked := runHandler(handler, d.Body, logger, d.RoutingKey)
	switch {
	case accepted:
		d.Ack(false)
	case panicked && d.Redelivered:
		logger.Error("handler panicked on redelivery; dropping", "routing_key", d.RoutingKey)
		d.Nack(false, false)
	default:
		logger.Warn("handler failed; re-queuing", "routing_key", d.RoutingKey, "redelivered", d.Redelivered)
		d.Nack(false, true)
	}
}

func runHandler(handler Handler, body []byte, logger *slog.Logger, routingKey string) (accepted, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "routing_key", routingKey, "panic", r)
			accepted, panicked = false, true
		}
	}()
	return handler(body), false
}

// Close releases the channel and the connection. Deliveries already handed to
// a handler are not waited for.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
