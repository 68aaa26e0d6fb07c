package orchestrator

import "github.com/shaiso/dagflow/internal/domain"

// transitions — разрешённые переходы статусов run.
var transitions = map[domain.RunStatus][]domain.RunStatus{
	domain.RunStatusCreated:   {domain.RunStatusRunning, domain.RunStatusCancelled},
	domain.RunStatusRunning:   {domain.RunStatusSuspended, domain.RunStatusCompleted, domain.RunStatusFailed, domain.RunStatusCancelled},
	domain.RunStatusSuspended: {domain.RunStatusRunning, domain.RunStatusCancelled},
}

// ValidateTransition проверяет переход from → to.
// Возвращает *TransitionError, если переход запрещён.
func ValidateTransition(from, to domain.RunStatus) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

// CanTransition — ValidateTransition в виде bool.
func CanTransition(from, to domain.RunStatus) bool {
	return ValidateTransition(from, to) == nil
}
