package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/dagflow/internal/domain"
)

func testDefinition(tenant, name string) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		TenantID: tenant,
		Name:     name,
		Nodes:    []domain.NodeDefinition{{ID: "A", Type: "task", ExecutorType: "http"}},
	}
}

func testEvent(runID uuid.UUID, seq int64, at time.Time) domain.ExecutionEvent {
	ev := domain.NewEvent(runID, "t1", at, domain.NodeCompleted{NodeID: "A", Attempt: 1})
	ev.Sequence = seq
	return ev
}

func TestMemoryStore_PublishAssignsVersions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	v1 := testDefinition("t1", "orders")
	require.NoError(t, store.Publish(ctx, v1))
	v2 := testDefinition("t1", "orders")
	require.NoError(t, store.Publish(ctx, v2))
	other := testDefinition("t2", "orders")
	require.NoError(t, store.Publish(ctx, other))

	assert.NotEqual(t, uuid.Nil, v1.ID)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, 1, other.Version)
	assert.False(t, v1.CreatedAt.IsZero())

	dup := testDefinition("t1", "orders")
	dup.ID = v1.ID
	assert.ErrorIs(t, store.Publish(ctx, dup), ErrAlreadyExists)
}

func TestMemoryStore_FindByIDTenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	def := testDefinition("t1", "orders")
	require.NoError(t, store.Publish(ctx, def))

	got, err := store.FindByID(ctx, def.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Name)

	_, err = store.FindByID(ctx, def.ID, "t2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.FindByID(ctx, uuid.New(), "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListDefinitionsSorted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, name := range []string{"zeta", "alpha", "zeta"} {
		require.NoError(t, store.Publish(ctx, testDefinition("t1", name)))
	}
	require.NoError(t, store.Publish(ctx, testDefinition("t2", "beta")))

	defs, err := store.ListDefinitions(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "zeta", defs[1].Name)
	assert.Equal(t, 1, defs[1].Version)
	assert.Equal(t, 2, defs[2].Version)
}

func TestMemoryStore_RunsAreCopied(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	def := testDefinition("t1", "orders")
	require.NoError(t, store.Publish(ctx, def))
	run := domain.NewWorkflowRun(def, map[string]any{"order": "o-1"}, time.Now())
	require.NoError(t, store.Save(ctx, run))

	run.Variables["order"] = "mutated"

	loaded, err := store.Load(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "o-1", loaded.Variables["order"])

	loaded.Status = domain.RunStatusRunning
	again, err := store.Load(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCreated, again.Status)

	_, err = store.Load(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListRunsFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	def := testDefinition("t1", "orders")
	require.NoError(t, store.Publish(ctx, def))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for i := range 5 {
		run := domain.NewWorkflowRun(def, nil, base.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			run.Status = domain.RunStatusRunning
		}
		require.NoError(t, store.Save(ctx, run))
		ids = append(ids, run.ID)
	}
	foreign := domain.NewWorkflowRun(testDefinition("t2", "x"), nil, base)
	foreign.TenantID = "t2"
	require.NoError(t, store.Save(ctx, foreign))

	all, err := store.ListRuns(ctx, RunFilter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, ids[4], all[0].ID)
	assert.Equal(t, ids[0], all[4].ID)

	running, err := store.ListRuns(ctx, RunFilter{TenantID: "t1", Status: domain.RunStatusRunning})
	require.NoError(t, err)
	assert.Len(t, running, 3)

	page, err := store.ListRuns(ctx, RunFilter{TenantID: "t1", Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)

	empty, err := store.ListRuns(ctx, RunFilter{TenantID: "t1", Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_HistoryAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	runID := uuid.New()
	now := time.Now()

	require.NoError(t, store.Append(ctx, runID, []domain.ExecutionEvent{
		testEvent(runID, 1, now),
		testEvent(runID, 2, now),
	}))
	assert.ErrorIs(t, store.Append(ctx, runID, []domain.ExecutionEvent{testEvent(runID, 2, now)}), ErrAlreadyExists)
	require.NoError(t, store.Append(ctx, runID, []domain.ExecutionEvent{testEvent(runID, 3, now)}))

	events, err := store.Events(ctx, runID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[2].Sequence)

	none, err := store.Events(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}
