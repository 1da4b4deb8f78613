package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SettingsRepo implements ports.SettingsRepository over treasury_settings.
type SettingsRepo struct {
	pool Pool
}

// NewSettingsRepo creates a new SettingsRepo.
func NewSettingsRepo(pool Pool) *SettingsRepo {
	return &SettingsRepo{pool: pool}
}

// Get returns the value stored under key, or nil.
func (r *SettingsRepo) Get(ctx context.Context, key string) (*string, error) {
	var value string
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT value FROM treasury_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}
	return &value, nil
}

// Put upserts a setting.
func (r *SettingsRepo) Put(ctx context.Context, key, value string) error {
	query := `INSERT INTO treasury_settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := conn(ctx, r.pool).Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}
