package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	CREATED → RUNNING → COMPLETED
//	            ↕     ↘ FAILED
//	        SUSPENDED
//	(любой нетерминальный) → CANCELLED
type RunStatus string

const (
	// RunStatusCreated — run создан, но ещё не запущен.
	RunStatusCreated RunStatus = "CREATED"

	// RunStatusRunning — run выполняется.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSuspended — run приостановлен, новые узлы не отправляются.
	RunStatusSuspended RunStatus = "SUSPENDED"

	// RunStatusCompleted — все узлы выполнены успешно.
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusFailed — run завершился с ошибкой.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён пользователем.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// ParseRunStatus парсит строку в RunStatus.
// Возвращает false для неизвестного значения.
func ParseRunStatus(s string) (RunStatus, bool) {
	switch st := RunStatus(s); st {
	case RunStatusCreated, RunStatusRunning, RunStatusSuspended,
		RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return st, true
	default:
		return "", false
	}
}

// NodeStatus — статус выполнения отдельного узла внутри run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ WAITING_RETRY → FAILED(retryable) → RUNNING ...
//	                  ↘ FAILED
type NodeStatus string

const (
	// NodeStatusPending — узел создан, но ещё не отправлен.
	NodeStatusPending NodeStatus = "PENDING"

	// NodeStatusRunning — узел отправлен исполнителю и ждёт результата.
	NodeStatusRunning NodeStatus = "RUNNING"

	// NodeStatusCompleted — узел выполнен успешно.
	NodeStatusCompleted NodeStatus = "COMPLETED"

	// NodeStatusFailed — узел завершился с ошибкой.
	// При Retryable=true узел снова готов к отправке.
	NodeStatusFailed NodeStatus = "FAILED"

	// NodeStatusWaitingRetry — ожидает отложенного retry.
	NodeStatusWaitingRetry NodeStatus = "WAITING_RETRY"

	// NodeStatusCancelled — узел отменён вместе с run.
	NodeStatusCancelled NodeStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус узла финальный.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStatus — статус запланированной задачи в scheduler.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED
//	(любой нетерминальный) → CANCELLED
type TaskStatus string

const (
	// TaskStatusPending — задача создана, но ещё не отправлена.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusRunning — задача отправлена исполнителю.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusCompleted — исполнитель вернул результат.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed — задача провалена (retry или dead-letter).
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusCancelled — задача отменена вместе с run.
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CompensationStatus — статус компенсации run.
type CompensationStatus string

const (
	CompensationStatusPending   CompensationStatus = "PENDING"
	CompensationStatusRunning   CompensationStatus = "RUNNING"
	CompensationStatusCompleted CompensationStatus = "COMPLETED"
	CompensationStatusFailed    CompensationStatus = "FAILED"
)

// CommunicationType — способ доставки задачи исполнителю.
type CommunicationType string

const (
	CommunicationGRPC  CommunicationType = "GRPC"
	CommunicationKafka CommunicationType = "KAFKA"
	CommunicationREST  CommunicationType = "REST"
	CommunicationLocal CommunicationType = "LOCAL"
	CommunicationAMQP  CommunicationType = "AMQP"
)

// Valid возвращает true для известного типа связи.
// Пустое значение допустимо: узел не требует конкретного транспорта.
func (c CommunicationType) Valid() bool {
	switch c {
	case "", CommunicationGRPC, CommunicationKafka, CommunicationREST,
		CommunicationLocal, CommunicationAMQP:
		return true
	default:
		return false
	}
}

// CompensationStrategy — порядок вызова обработчиков компенсации.
type CompensationStrategy string

const (
	// CompensationSequential — в обратном порядке завершения.
	CompensationSequential CompensationStrategy = "SEQUENTIAL"

	// CompensationParallel — все обработчики одновременно.
	CompensationParallel CompensationStrategy = "PARALLEL"

	// CompensationCustom — именованная стратегия из реестра.
	CompensationCustom CompensationStrategy = "CUSTOM"
)
