package orchestrator

import (
	"errors"
	"fmt"

	"github.com/shaiso/dagflow/internal/domain"
)

// Ошибки оркестратора.
var (
	// ErrRunNotFound — run не найден у этого tenant.
	ErrRunNotFound = errors.New("run not found")

	// ErrDefinitionNotFound — определение не найдено у этого tenant.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrInvalidTransition — переход статуса run запрещён.
	ErrInvalidTransition = errors.New("invalid run status transition")

	// ErrTenantRequired — не указан tenant.
	ErrTenantRequired = errors.New("tenant id is required")
)

// TransitionError — запрещённый переход статуса.
type TransitionError struct {
	From domain.RunStatus
	To   domain.RunStatus
}

func (e *TransitionError) Error() string {
	if e.From.IsTerminal() {
		return fmt.Sprintf("cannot move run from %s to %s: %s is terminal", e.From, e.To, e.From)
	}
	return fmt.Sprintf("cannot move run from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
