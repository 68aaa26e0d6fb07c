// Package telemetry — логи, метрики и трассировка движка и исполнителей.
//
// Логи пишутся через slog: JSON в production, text для разработки
// (log.format). Логгер запроса или сообщения передаётся через context
// (WithLogger / FromContext) и несёт request_id, tenant_id, message_id.
//
// Метрики (metrics.go) регистрируются в prometheus default registry
// и отдаются на GET /metrics каждого бинарника.
//
// Трассировка (tracing.go) — OpenTelemetry; без tracing.enabled и endpoint
// спаны создаются, но никуда не экспортируются.
package telemetry
