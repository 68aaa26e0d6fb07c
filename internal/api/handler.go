package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/orchestrator"
	"github.com/shaiso/dagflow/internal/registry"
	"github.com/shaiso/dagflow/internal/repo"
	"github.com/shaiso/dagflow/internal/telemetry"
)

// DefinitionCatalog — публикация и чтение определений.
type DefinitionCatalog interface {
	Publish(ctx context.Context, def *domain.WorkflowDefinition) error
	FindByID(ctx context.Context, defID uuid.UUID, tenantID string) (*domain.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, tenantID string) ([]domain.WorkflowDefinition, error)
}

// RunLister — выборка runs для списков.
type RunLister interface {
	ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.WorkflowRun, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orch        *orchestrator.Orchestrator
	definitions DefinitionCatalog
	runs        RunLister
	registry    *registry.Registry
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Definitions  DefinitionCatalog
	Runs         RunLister
	Registry     *registry.Registry
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		orch:        cfg.Orchestrator,
		definitions: cfg.Definitions,
		runs:        cfg.Runs,
		registry:    cfg.Registry,
		logger:      telemetry.OrDefault(cfg.Logger).With("component", "api"),
	}
}
