package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/agenticrag/internal/repository"
)

// ScopeRepo implements repository.ScopeRepository against Postgres.
type ScopeRepo struct {
	db *DB
}

// NewScopeRepo creates a new scope repository.
func NewScopeRepo(db *DB) *ScopeRepo {
	return &ScopeRepo{db: db}
}

// Create creates a new scope.
func (r *ScopeRepo) Create(ctx context.Context, scope *repository.Scope) error {
	configJSON, err := json.Marshal(scope.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO scopes (id, name, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		scope.ID, scope.Name, configJSON, scope.CreatedAt, scope.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create scope: %w", err)
	}
	return nil
}

// GetByID retrieves a scope by ID.
func (r *ScopeRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Scope, error) {
	query := `
		SELECT id, name, config, created_at, updated_at
		FROM scopes
		WHERE id = $1
	`
	return r.scanScope(ctx, query, id)
}

// GetByName retrieves a scope by its human-readable name.
func (r *ScopeRepo) GetByName(ctx context.Context, name string) (*repository.Scope, error) {
	query := `
		SELECT id, name, config, created_at, updated_at
		FROM scopes
		WHERE name = $1
	`
	return r.scanScope(ctx, query, name)
}

func (r *ScopeRepo) scanScope(ctx context.Context, query string, args ...any) (*repository.Scope, error) {
	var scope repository.Scope
	var configJSON []byte

	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&scope.ID, &scope.Name, &configJSON,
		&scope.CreatedAt, &scope.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scope: %w", err)
	}

	if err := json.Unmarshal(configJSON, &scope.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &scope, nil
}

// List retrieves all scopes with pagination.
func (r *ScopeRepo) List(ctx context.Context, limit, offset int) ([]*repository.Scope, int, error) {
	var total int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM scopes`).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count scopes: %w", err)
	}

	query := `
		SELECT id, name, config, created_at, updated_at
		FROM scopes
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []*repository.Scope
	for rows.Next() {
		var scope repository.Scope
		var configJSON []byte
		if err := rows.Scan(&scope.ID, &scope.Name, &configJSON,
			&scope.CreatedAt, &scope.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan scope: %w", err)
		}
		if err := json.Unmarshal(configJSON, &scope.Config); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal config: %w", err)
		}
		scopes = append(scopes, &scope)
	}

	return scopes, total, nil
}

// Update updates a scope's name and config.
func (r *ScopeRepo) Update(ctx context.Context, scope *repository.Scope) error {
	configJSON, err := json.Marshal(scope.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		UPDATE scopes
		SET name = $2, config = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query, scope.ID, scope.Name, configJSON)
	if err != nil {
		return fmt.Errorf("failed to update scope: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete deletes a scope.
func (r *ScopeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM scopes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete scope: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Ensure ScopeRepo implements the interface.
var _ repository.ScopeRepository = (*ScopeRepo)(nil)
