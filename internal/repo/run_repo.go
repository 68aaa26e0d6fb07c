package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/xjson"
)

// RunRepo — репозиторий runs в PostgreSQL.
//
// Полное состояние run хранится в JSONB, статус и tenant
// дублируются в колонках для выборок.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Load возвращает run по ID.
func (r *RunRepo) Load(ctx context.Context, runID uuid.UUID) (*domain.WorkflowRun, error) {
	var state []byte
	err := r.pool.QueryRow(ctx, `SELECT state FROM workflow_runs WHERE id = $1`, runID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select run: %w", err)
	}
	return decodeRun(state)
}

// Save создаёт или обновляет run.
func (r *RunRepo) Save(ctx context.Context, run *domain.WorkflowRun) error {
	state, err := xjson.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	query := `
		INSERT INTO workflow_runs (id, tenant_id, definition_id, status, state, last_event_seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    state = EXCLUDED.state,
		    last_event_seq = EXCLUDED.last_event_seq,
		    updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.TenantID,
		run.DefinitionID,
		string(run.Status),
		state,
		run.LastEventSeq,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// ListRuns возвращает runs tenant'а, новые первыми.
func (r *RunRepo) ListRuns(ctx context.Context, filter RunFilter) ([]domain.WorkflowRun, error) {
	query := `
		SELECT state
		FROM workflow_runs
		WHERE tenant_id = $1
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::uuid IS NULL OR definition_id = $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5
	`
	rows, err := r.pool.Query(ctx, query,
		filter.TenantID,
		nullString(string(filter.Status)),
		nullUUID(filter.DefinitionID),
		filter.limit(),
		max(filter.Offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.WorkflowRun{}
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run, err := decodeRun(state)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// --- Helpers ---

func decodeRun(state []byte) (*domain.WorkflowRun, error) {
	var run domain.WorkflowRun
	if err := xjson.Unmarshal(state, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

// nullString конвертирует пустую строку в nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullUUID конвертирует uuid.Nil в nil.
func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
