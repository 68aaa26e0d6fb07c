package mq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/telemetry"
	"github.com/shaiso/dagflow/internal/xjson"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeEvent        MessageType = "run.event"
	MessageTypeNodeRetry    MessageType = "node.retry"
	MessageTypeTaskDispatch MessageType = "task.dispatch"
	MessageTypeTaskResult   MessageType = "task.result"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: telemetry.OrDefault(logger),
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// RetryPayload — сигнал о наступлении отложенного повтора узла.
type RetryPayload struct {
	RunID   uuid.UUID `json:"run_id"`
	NodeID  string    `json:"node_id"`
	Attempt int       `json:"attempt"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := xjson.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishEvents публикует события истории по порядку.
// Останавливается на первой ошибке.
func (p *Publisher) PublishEvents(ctx context.Context, events []domain.ExecutionEvent) error {
	for i := range events {
		ev := events[i]
		msg := NewMessage(MessageTypeEvent, ev)
		msg.ID = ev.ID.String()

		if err := p.Publish(ctx, ExchangeEvents, EventRoutingKey(string(ev.Type)), msg); err != nil {
			return fmt.Errorf("publish event %d/%d (%s): %w", i+1, len(events), ev.Type, err)
		}
	}
	return nil
}

// PublishRetry публикует сигнал повтора узла.
// Потребитель: Engine.
func (p *Publisher) PublishRetry(ctx context.Context, runID uuid.UUID, nodeID string, attempt int) error {
	msg := NewMessage(MessageTypeNodeRetry, RetryPayload{RunID: runID, NodeID: nodeID, Attempt: attempt})
	return p.Publish(ctx, ExchangeEngine, RoutingKeyRetry, msg)
}

// PublishTaskDispatch публикует задачу исполнителю.
// routingKey — тип исполнителя (или его собственная очередь).
// Потребитель: Executor.
func (p *Publisher) PublishTaskDispatch(ctx context.Context, routingKey string, task *domain.ScheduledTask) error {
	msg := NewMessage(MessageTypeTaskDispatch, task)
	msg.ID = task.ID
	return p.Publish(ctx, ExchangeTasks, RoutingKey(routingKey), msg)
}

// PublishResult публикует результат узла.
// Потребитель: Engine.
func (p *Publisher) PublishResult(ctx context.Context, result domain.NodeResult) error {
	msg := NewMessage(MessageTypeTaskResult, result)
	return p.Publish(ctx, ExchangeEngine, RoutingKeyResults, msg)
}
