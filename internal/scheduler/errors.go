package scheduler

import "errors"

// Ошибки планировщика.
var (
	// ErrTaskExists — живая задача с таким ID уже отслеживается.
	ErrTaskExists = errors.New("task already scheduled")

	// ErrTaskNotFound — задача не отслеживается (удалена или не создавалась).
	ErrTaskNotFound = errors.New("task not found")

	// ErrNoTrigger — не задан обработчик наступивших повторов.
	ErrNoTrigger = errors.New("retry trigger not set")
)
