package transport

import (
	"context"

	"github.com/shaiso/dagflow/internal/domain"
)

// TaskPublisher публикует задачу в очередь исполнителей.
// Реализуется mq.Publisher.
type TaskPublisher interface {
	PublishTaskDispatch(ctx context.Context, routingKey string, task *domain.ScheduledTask) error
}

// AMQPDispatcher отправляет задачу сообщением task.dispatch.
//
// Routing key — endpoint исполнителя, если он задан, иначе тип исполнителя.
type AMQPDispatcher struct {
	publisher TaskPublisher
}

// NewAMQPDispatcher создаёт AMQPDispatcher.
func NewAMQPDispatcher(publisher TaskPublisher) *AMQPDispatcher {
	return &AMQPDispatcher{publisher: publisher}
}

// Dispatch публикует задачу.
func (d *AMQPDispatcher) Dispatch(ctx context.Context, task *domain.ScheduledTask, executor domain.ExecutorInfo) error {
	routingKey := executor.Endpoint
	if routingKey == "" {
		routingKey = task.ExecutorType
	}

	t := *task
	t.ExecutorID = executor.ID
	return d.publisher.PublishTaskDispatch(ctx, routingKey, &t)
}
