// Package worker выполняет отдельные задачи узлов.
//
// # Обзор
//
// Пакет содержит две части:
//
//   - Runtime — выполнение одной задачи через реестр executor'ов по типу узла.
//     Любой исход превращается в domain.NodeResult. Используется локальным
//     транспортом движка (LOCAL) и AMQP-воркером.
//   - Worker — отдельный процесс-исполнитель: читает задачи из очереди
//     tasks.<executor_type>, выполняет их через Runtime и публикует результат
//     в engine.results. Периодически отправляет heartbeat в реестр движка.
//
// # Типы узлов
//
//   - http      — HTTP-запрос (method, url, query, headers, body, timeout_sec,
//     expect_status) с заголовком Idempotency-Key = ID задачи
//   - delay     — ожидание duration ("1m30s") или duration_sec секунд
//   - transform — возвращает отрендеренный payload как outputs
//   - noop      — ничего не делает
//
// # Ошибки
//
// Инфраструктурные ошибки executor'а (сеть, таймаут) считаются временными.
// Ошибки конфигурации (ErrInvalidConfig), неизвестный тип узла и HTTP 4xx
// (кроме 408 и 429) помечаются Permanent — движок не будет их повторять.
//
//	rt := worker.NewRuntime(worker.RuntimeConfig{ExecutorID: "local"})
//	result := rt.Execute(ctx, task)
package worker
