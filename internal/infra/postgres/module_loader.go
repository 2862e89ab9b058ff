package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cyberguard-progress-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ModuleLoader loads module JSONB from Postgres.
type ModuleLoader struct {
	pool *pgxpool.Pool
}

func NewModuleLoader(pool *pgxpool.Pool) *ModuleLoader {
	return &ModuleLoader{pool: pool}
}

func (l *ModuleLoader) LoadModule(ctx context.Context, moduleID string) (domain.Module, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM modules WHERE id=$1`, moduleID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Module{}, domain.ErrModuleNotFound
	}
	if err != nil {
		return domain.Module{}, fmt.Errorf("load module: %w", err)
	}
	var m domain.Module
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.Module{}, fmt.Errorf("unmarshal module %s: %w", moduleID, err)
	}
	return m, nil
}

func (l *ModuleLoader) LoadModules(ctx context.Context) ([]domain.Module, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, data FROM modules ORDER BY ord, id`)
	if err != nil {
		return nil, fmt.Errorf("load modules: %w", err)
	}
	defer rows.Close()

	var mods []domain.Module
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		var m domain.Module
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("unmarshal module %s: %w", id, err)
		}
		mods = append(mods, m)
	}
	return mods, rows.Err()
}

// UpsertModule writes a module document, replacing any previous version.
func (l *ModuleLoader) UpsertModule(ctx context.Context, m domain.Module) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO modules (id, level, ord, is_active, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET level = EXCLUDED.level, ord = EXCLUDED.ord, is_active = EXCLUDED.is_active, data = EXCLUDED.data, updated_at = NOW()`,
		m.ID, string(m.Level), m.Order, m.IsActive, raw)
	if err != nil {
		return fmt.Errorf("upsert module %s: %w", m.ID, err)
	}
	return nil
}
