// Package transport доставляет задачи исполнителям.
//
// Router выбирает Dispatcher по CommunicationType исполнителя:
//
//   - LOCAL — выполнение в процессе движка через worker.Runtime
//   - REST  — POST {endpoint}/tasks с TaskEnvelope
//   - GRPC  — unary вызов /dagflow.executor.v1.Executor/Dispatch (JSON codec)
//   - AMQP  — сообщение task.dispatch в exchange dagflow.tasks
//
// Доставка асинхронная: Dispatch возвращается после того, как исполнитель
// принял задачу. Результат приходит отдельно, через ResultHandler
// (LOCAL) или через API/очередь engine.results (остальные транспорты).
//
// Для KAFKA диспетчера нет, Dispatch возвращает ErrNoDispatcher.
package transport
