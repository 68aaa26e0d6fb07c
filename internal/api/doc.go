// Package api содержит HTTP API движка.
//
// Структура:
//   - handler.go            — Handler с DI (оркестратор, хранилища, реестр, logger)
//   - routes.go             — регистрация маршрутов
//   - middleware.go         — middleware (logging, recovery, tenant)
//   - response.go           — унифицированные JSON-ответы и обработка ошибок
//   - dto.go                — Data Transfer Objects (request/response)
//   - definition_handler.go — обработчики для /definitions
//   - run_handler.go        — обработчики для /runs
//   - executor_handler.go   — обработчики для /executors
//
// Все маршруты /definitions и /runs требуют заголовок X-Tenant-ID.
package api
