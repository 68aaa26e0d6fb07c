package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/xjson"
)

// HistoryRepo — журнал событий в PostgreSQL.
type HistoryRepo struct {
	pool *pgxpool.Pool
}

// NewHistoryRepo создаёт новый HistoryRepo.
func NewHistoryRepo(pool *pgxpool.Pool) *HistoryRepo {
	return &HistoryRepo{pool: pool}
}

// Append дописывает события одной транзакцией.
// Повтор (run_id, sequence) даёт ErrAlreadyExists.
func (r *HistoryRepo) Append(ctx context.Context, runID uuid.UUID, events []domain.ExecutionEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		raw, err := xjson.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", ev.Sequence, err)
		}
		batch.Queue(`
			INSERT INTO execution_events (run_id, sequence, id, tenant_id, type, occurred_at, event)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, runID, ev.Sequence, ev.ID, ev.TenantID, string(ev.Type), ev.OccurredAt, raw)
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("events of run %s: %w", runID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// Events возвращает события run по времени и номеру.
func (r *HistoryRepo) Events(ctx context.Context, runID uuid.UUID) ([]domain.ExecutionEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT event FROM execution_events WHERE run_id = $1 ORDER BY occurred_at, sequence`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	events := []domain.ExecutionEvent{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev domain.ExecutionEvent
		if err := xjson.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
