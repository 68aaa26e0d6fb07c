package orchestrator

import (
	"context"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/domain"
)

// RunStore хранит runs.
// Load возвращает repo.ErrNotFound, если run нет.
type RunStore interface {
	Load(ctx context.Context, runID uuid.UUID) (*domain.WorkflowRun, error)
	Save(ctx context.Context, run *domain.WorkflowRun) error
}

// DefinitionStore ищет опубликованные определения.
// FindByID возвращает repo.ErrNotFound, если определения нет у tenant.
type DefinitionStore interface {
	FindByID(ctx context.Context, defID uuid.UUID, tenantID string) (*domain.WorkflowDefinition, error)
}

// HistoryStore — журнал событий run (только дописывание).
type HistoryStore interface {
	Append(ctx context.Context, runID uuid.UUID, events []domain.ExecutionEvent) error
	Events(ctx context.Context, runID uuid.UUID) ([]domain.ExecutionEvent, error)
}

// Publisher рассылает события наружу.
// PublishEvents останавливается на первой ошибке.
type Publisher interface {
	PublishEvents(ctx context.Context, events []domain.ExecutionEvent) error
	PublishRetry(ctx context.Context, runID uuid.UUID, nodeID string, attempt int) error
}
