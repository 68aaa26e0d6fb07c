package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/xjson"
)

// DefinitionRepo — репозиторий определений в PostgreSQL.
type DefinitionRepo struct {
	pool *pgxpool.Pool
}

// NewDefinitionRepo создаёт новый DefinitionRepo.
func NewDefinitionRepo(pool *pgxpool.Pool) *DefinitionRepo {
	return &DefinitionRepo{pool: pool}
}

// Publish сохраняет новую версию определения.
//
// Пустой ID генерируется, Version — следующая для (TenantID, Name).
// Гонка двух публикаций одного имени даёт ErrAlreadyExists.
func (r *DefinitionRepo) Publish(ctx context.Context, def *domain.WorkflowDefinition) error {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var latest int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM workflow_definitions WHERE tenant_id = $1 AND name = $2`,
		def.TenantID, def.Name,
	).Scan(&latest)
	if err != nil {
		return fmt.Errorf("select latest version: %w", err)
	}
	def.Version = latest + 1

	document, err := xjson.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (id, tenant_id, name, version, document, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := tx.Exec(ctx, query, def.ID, def.TenantID, def.Name, def.Version, document, def.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("definition %s v%d: %w", def.Name, def.Version, ErrAlreadyExists)
		}
		return fmt.Errorf("insert definition: %w", err)
	}
	return tx.Commit(ctx)
}

// FindByID возвращает определение tenant'а.
func (r *DefinitionRepo) FindByID(ctx context.Context, defID uuid.UUID, tenantID string) (*domain.WorkflowDefinition, error) {
	var document []byte
	var createdAt time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT document, created_at FROM workflow_definitions WHERE id = $1 AND tenant_id = $2`,
		defID, tenantID,
	).Scan(&document, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select definition: %w", err)
	}
	return decodeDefinition(document, createdAt)
}

// ListDefinitions возвращает определения tenant'а по имени и версии.
func (r *DefinitionRepo) ListDefinitions(ctx context.Context, tenantID string) ([]domain.WorkflowDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT document, created_at FROM workflow_definitions WHERE tenant_id = $1 ORDER BY name, version`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	defs := []domain.WorkflowDefinition{}
	for rows.Next() {
		var document []byte
		var createdAt time.Time
		if err := rows.Scan(&document, &createdAt); err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		def, err := decodeDefinition(document, createdAt)
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

// decodeDefinition восстанавливает определение; CreatedAt хранится отдельной колонкой.
func decodeDefinition(document []byte, createdAt time.Time) (*domain.WorkflowDefinition, error) {
	var def domain.WorkflowDefinition
	if err := xjson.Unmarshal(document, &def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	def.CreatedAt = createdAt
	return &def, nil
}
