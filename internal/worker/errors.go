package worker

import "errors"

// Ошибки исполнителя.
var (
	// ErrUnknownNodeType — нет executor'а для данного типа узла.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrInvalidConfig — конфигурация узла не годится для executor'а.
	// Повтор такой задачи не поможет.
	ErrInvalidConfig = errors.New("invalid node config")

	// ErrExecutionTimeout — выполнение task превысило таймаут.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")
)
