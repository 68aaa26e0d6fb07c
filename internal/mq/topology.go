package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeEvents Exchange = "dagflow.events"
	ExchangeEngine Exchange = "dagflow.engine"
	ExchangeTasks  Exchange = "dagflow.tasks"
	ExchangeDLQ    Exchange = "dagflow.dlq"
)

// Queues — имена очередей.
const (
	QueueEngineResults Queue = "engine.results"
	QueueEngineRetries Queue = "engine.retries"
	QueueEventsAudit   Queue = "events.audit"
	QueueDLQTasks      Queue = "dlq.tasks"
	QueueDLQResults    Queue = "dlq.results"
)

// Routing keys.
const (
	RoutingKeyResults    RoutingKey = "results"
	RoutingKeyRetry      RoutingKey = "retry"
	RoutingKeyAllEvents  RoutingKey = "event.#"
	RoutingKeyDLQTasks   RoutingKey = "tasks"
	RoutingKeyDLQResults RoutingKey = "results"
)

// TaskQueue возвращает имя очереди задач для типа исполнителя.
func TaskQueue(executorType string) Queue {
	return Queue("tasks." + executorType)
}

// EventRoutingKey возвращает ключ маршрутизации события в topic exchange.
func EventRoutingKey(eventType string) RoutingKey {
	return RoutingKey("event." + eventType)
}

// SetupTopology объявляет обменники и очереди движка.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		return bindQueues(ch)
	})
}

// DeclareTaskQueue объявляет очередь задач исполнителя и привязывает её к dagflow.tasks.
//
// Вызывается исполнителем при старте: очередь существует только для тех типов,
// у которых есть хотя бы один AMQP-исполнитель.
func DeclareTaskQueue(ctx context.Context, conn *Connection, executorType string) (Queue, error) {
	queue := TaskQueue(executorType)

	err := conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(
			string(queue), // name
			true,          // durable
			false,         // delete when unused
			false,         // exclusive
			false,         // no-wait
			dlqArgs(RoutingKeyDLQTasks),
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		if err := ch.QueueBind(string(queue), executorType, string(ExchangeTasks), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", queue, ExchangeTasks, err)
		}
		return nil
	})

	return queue, err
}

// dlqArgs — аргументы очереди с dead-letter в dagflow.dlq.
func dlqArgs(rk RoutingKey) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(rk),
	}
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeEvents, "topic"},
		{ExchangeEngine, "direct"},
		{ExchangeTasks, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// engine.results — результаты исполнителей, с DLQ
		{QueueEngineResults, dlqArgs(RoutingKeyDLQResults)},

		// engine.retries — сигналы отложенных повторов
		{QueueEngineRetries, nil},

		// events.audit — копия всех событий истории
		{QueueEventsAudit, nil},

		{QueueDLQTasks, nil},
		{QueueDLQResults, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueEngineResults, RoutingKeyResults, ExchangeEngine},
		{QueueEngineRetries, RoutingKeyRetry, ExchangeEngine},
		{QueueEventsAudit, RoutingKeyAllEvents, ExchangeEvents},
		{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
		{QueueDLQResults, RoutingKeyDLQResults, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  dagflow RabbitMQ Topology:

    dagflow.events (topic)
    └── events.audit [routing: event.#]

    dagflow.engine (direct)
    ├── engine.results [routing: results]   Consumer: Engine   DLQ: dlq.results
    └── engine.retries [routing: retry]     Consumer: Engine

    dagflow.tasks (direct)
    └── tasks.<executor_type> [routing: <executor_type>]   Consumer: Executor   DLQ: dlq.tasks

    dagflow.dlq (direct)
    ├── dlq.tasks   [routing: tasks]
    └── dlq.results [routing: results]
  `
}
