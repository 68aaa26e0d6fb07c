// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.event      — событие истории выполнения
//   - node.retry     — наступил срок отложенного повтора узла
//   - task.dispatch  — задача для исполнителя
//   - task.result    — результат исполнителя
//
// Exchanges:
//   - dagflow.events — события истории (topic)
//   - dagflow.engine — входящие сигналы движка
//   - dagflow.tasks  — задачи исполнителям по типу
//   - dagflow.dlq    — dead letter queue
package mq
