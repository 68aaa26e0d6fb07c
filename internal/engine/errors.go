package engine

import "errors"

// Ошибки валидации определения.
var (
	// ErrEmptyNodes — определение не содержит узлов.
	ErrEmptyNodes = errors.New("workflow definition has no nodes")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrInvalidNodeID — ID узла содержит недопустимые символы.
	ErrInvalidNodeID = errors.New("invalid node ID")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrEmptyExecutorType — узел не указывает тип исполнителя.
	ErrEmptyExecutorType = errors.New("node has empty executor type")

	// ErrUnknownCommunicationType — неизвестный транспорт.
	ErrUnknownCommunicationType = errors.New("unknown communication type")

	// ErrInvalidRetryPolicy — некорректные параметры retry.
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrInvalidCompensation — некорректная политика или обработчик компенсации.
	ErrInvalidCompensation = errors.New("invalid compensation settings")

	// ErrUnsupportedFormat — не удалось разобрать определение.
	ErrUnsupportedFormat = errors.New("unsupported definition format")
)

// Предупреждения анализа графа. Не блокируют публикацию.
var (
	// ErrMissingDependency — узел зависит от несуществующего узла.
	ErrMissingDependency = errors.New("node depends on unknown node")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrUnknownTransition — переход ведёт к несуществующему узлу.
	ErrUnknownTransition = errors.New("transition to unknown node")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	NodeID  string // ID узла, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(nodeID, field, message string, err error) *ValidationError {
	return &ValidationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
