package registry

import "errors"

// Ошибки реестра.
var (
	// ErrExecutorNotFound — исполнитель не зарегистрирован.
	ErrExecutorNotFound = errors.New("executor not found")

	// ErrNoExecutorAvailable — нет здорового совместимого исполнителя.
	ErrNoExecutorAvailable = errors.New("no executor available")

	// ErrInvalidExecutor — некорректные данные регистрации.
	ErrInvalidExecutor = errors.New("invalid executor")

	// ErrUnknownStrategy — неизвестная стратегия выбора.
	ErrUnknownStrategy = errors.New("unknown selection strategy")

	// ErrProbeUnsupported — для типа коммуникации нет проверки здоровья.
	ErrProbeUnsupported = errors.New("probe not supported")
)
