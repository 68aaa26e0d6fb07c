package repo

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/dagflow/internal/domain"
)

// MemoryStore — хранилище runs, определений и истории в памяти.
//
// Реализует RunStore, DefinitionStore и HistoryStore оркестратора.
// Наружу отдаются только копии.
type MemoryStore struct {
	mu          sync.RWMutex
	runs        map[uuid.UUID]*domain.WorkflowRun
	definitions map[uuid.UUID]*domain.WorkflowDefinition
	history     map[uuid.UUID][]domain.ExecutionEvent
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[uuid.UUID]*domain.WorkflowRun),
		definitions: make(map[uuid.UUID]*domain.WorkflowDefinition),
		history:     make(map[uuid.UUID][]domain.ExecutionEvent),
	}
}

// --- Runs ---

// Load возвращает копию run.
func (s *MemoryStore) Load(_ context.Context, runID uuid.UUID) (*domain.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return run.Clone(), nil
}

// Save создаёт или заменяет run.
func (s *MemoryStore) Save(_ context.Context, run *domain.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run.Clone()
	return nil
}

// ListRuns возвращает runs tenant'а, новые первыми.
func (s *MemoryStore) ListRuns(_ context.Context, filter RunFilter) ([]domain.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []domain.WorkflowRun
	for _, run := range s.runs {
		if filter.matches(run) {
			runs = append(runs, *run.Clone())
		}
	}
	slices.SortFunc(runs, func(a, b domain.WorkflowRun) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return filter.page(runs), nil
}

// --- Definitions ---

// Publish сохраняет новую версию определения.
//
// Пустой ID генерируется, Version — следующая для (TenantID, Name).
func (s *MemoryStore) Publish(_ context.Context, def *domain.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	if _, exists := s.definitions[def.ID]; exists {
		return fmt.Errorf("definition %s: %w", def.ID, ErrAlreadyExists)
	}

	latest := 0
	for _, d := range s.definitions {
		if d.TenantID == def.TenantID && d.Name == def.Name && d.Version > latest {
			latest = d.Version
		}
	}
	def.Version = latest + 1
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}

	stored := *def
	stored.Nodes = slices.Clone(def.Nodes)
	s.definitions[def.ID] = &stored
	return nil
}

// FindByID возвращает определение tenant'а.
func (s *MemoryStore) FindByID(_ context.Context, defID uuid.UUID, tenantID string) (*domain.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[defID]
	if !ok || def.TenantID != tenantID {
		return nil, ErrNotFound
	}
	c := *def
	c.Nodes = slices.Clone(def.Nodes)
	return &c, nil
}

// ListDefinitions возвращает определения tenant'а по имени и версии.
func (s *MemoryStore) ListDefinitions(_ context.Context, tenantID string) ([]domain.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var defs []domain.WorkflowDefinition
	for _, def := range s.definitions {
		if def.TenantID == tenantID {
			defs = append(defs, *def)
		}
	}
	sortDefinitions(defs)
	return defs, nil
}

// --- History ---

// Append дописывает события run.
// Номер события должен быть больше последнего записанного.
func (s *MemoryStore) Append(_ context.Context, runID uuid.UUID, events []domain.ExecutionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.history[runID]
	last := int64(0)
	if n := len(existing); n > 0 {
		last = existing[n-1].Sequence
	}
	for _, ev := range events {
		if ev.Sequence <= last {
			return fmt.Errorf("event %d of run %s: %w", ev.Sequence, runID, ErrAlreadyExists)
		}
		last = ev.Sequence
	}
	s.history[runID] = append(existing, events...)
	return nil
}

// Events возвращает события run в порядке записи.
func (s *MemoryStore) Events(_ context.Context, runID uuid.UUID) ([]domain.ExecutionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.history[runID]), nil
}

// --- Helpers ---

// RunFilter — параметры выборки runs.
type RunFilter struct {
	TenantID     string
	Status       domain.RunStatus
	DefinitionID uuid.UUID
	Limit        int
	Offset       int
}

func (f RunFilter) matches(run *domain.WorkflowRun) bool {
	if run.TenantID != f.TenantID {
		return false
	}
	if f.Status != "" && run.Status != f.Status {
		return false
	}
	if f.DefinitionID != uuid.Nil && run.DefinitionID != f.DefinitionID {
		return false
	}
	return true
}

// limit возвращает лимит выборки (default: 50).
func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

func (f RunFilter) page(runs []domain.WorkflowRun) []domain.WorkflowRun {
	offset := max(f.Offset, 0)
	if offset >= len(runs) {
		return []domain.WorkflowRun{}
	}
	runs = runs[offset:]
	if n := f.limit(); len(runs) > n {
		runs = runs[:n]
	}
	return runs
}

func sortDefinitions(defs []domain.WorkflowDefinition) {
	slices.SortFunc(defs, func(a, b domain.WorkflowDefinition) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Version, b.Version)
	})
}
