package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/dagflow/internal/telemetry"
	"github.com/shaiso/dagflow/internal/xjson"
)

// resubscribeInterval — пауза между попытками подписки, если переподключения не было.
const resubscribeInterval = 5 * time.Second

// Handler — функция обработки сообщения.
// Ошибка возвращает сообщение в очередь один раз; Reject отправляет его в DLQ сразу.
type Handler func(ctx context.Context, msg *Delivery) error

// rejectError — ошибка обработки, повтор которой не поможет.
type rejectError struct{ err error }

func (e *rejectError) Error() string { return e.err.Error() }
func (e *rejectError) Unwrap() error { return e.err }

// Reject помечает ошибку обработчика как окончательную.
func Reject(err error) error {
	return &rejectError{err: err}
}

// Delivery — доставленное сообщение.
type Delivery struct {
	// Message — распарсенное сообщение.
	Message Message

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// verdict — что сделать с сообщением после обработки.
type verdict int

const (
	verdictAck verdict = iota
	verdictRequeue
	verdictDeadLetter
)

func (v verdict) String() string {
	switch v {
	case verdictAck:
		return "ack"
	case verdictRequeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// decide выбирает исход по ошибке обработчика.
// Повторно доставленное сообщение с ошибкой уходит в DLQ.
func decide(err error, redelivered bool) verdict {
	switch {
	case err == nil:
		return verdictAck
	case errors.As(err, new(*rejectError)):
		return verdictDeadLetter
	case redelivered:
		return verdictDeadLetter
	default:
		return verdictRequeue
	}
}

// Consumer читает очередь на собственном канале и переподписывается после разрыва.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — число неподтверждённых сообщений на канале (default: 1).
	Prefetch int
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   telemetry.OrDefault(logger).With("component", "consumer", "queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start читает очередь до отмены ctx или вызова Stop. Блокирует.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	for {
		// Подписку на переподключение берём до попытки, чтобы не пропустить его
		reconnected := c.conn.Reconnected()

		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("consumer session ended, resubscribing", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnected:
		case <-time.After(resubscribeInterval):
		}
	}
}

// session подписывается на очередь и обрабатывает сообщения до разрыва канала.
func (c *Consumer) session(ctx context.Context) error {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx,
		c.queue, // queue
		"",      // consumer tag (auto-generated)
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.logger.Info("consumer started", "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery обрабатывает одно сообщение и подтверждает его.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := xjson.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message, dead-lettering", "error", err, "body_size", len(raw.Body))
		c.settle(raw, verdictDeadLetter)
		return
	}

	logger := c.logger.With("message_id", msg.ID, "type", msg.Type)
	logger.Debug("received message", "redelivered", raw.Redelivered)

	err := c.handler(telemetry.WithLogger(ctx, logger), &Delivery{Message: msg, Raw: raw})
	v := decide(err, raw.Redelivered)
	if err != nil {
		logger.Error("handler failed", "error", err, "verdict", v.String())
	}
	c.settle(raw, v)
}

func (c *Consumer) settle(raw amqp.Delivery, v verdict) {
	var err error
	switch v {
	case verdictAck:
		err = raw.Ack(false)
	case verdictRequeue:
		err = raw.Nack(false, true)
	default:
		err = raw.Nack(false, false)
	}
	if err != nil {
		c.logger.Warn("failed to settle delivery", "verdict", v.String(), "error", err)
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// ParsePayload перекладывает payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	result, err := xjson.Convert[T](msg.Payload)
	if err != nil {
		return result, fmt.Errorf("parse %s payload: %w", msg.Type, err)
	}
	return result, nil
}
