package transport

import "errors"

// Ошибки транспорта.
var (
	// ErrNoDispatcher — для типа коммуникации нет диспетчера.
	ErrNoDispatcher = errors.New("no dispatcher for communication type")

	// ErrDispatchRejected — исполнитель отказался принять задачу.
	ErrDispatchRejected = errors.New("dispatch rejected by executor")

	// ErrInvalidEndpoint — у исполнителя не задан или некорректен endpoint.
	ErrInvalidEndpoint = errors.New("invalid executor endpoint")

	// ErrNoResultHandler — локальному транспорту некуда отдать результат.
	ErrNoResultHandler = errors.New("result handler not set")
)
