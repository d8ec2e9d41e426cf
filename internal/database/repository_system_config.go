package database

import (
	"context"
	"fmt"
)

// GetSystemConfig returns a flag, nil when the key is not set
func (r *Repository) GetSystemConfig(ctx context.Context, key string) (*SystemConfig, error) {
	query := `
		SELECT key, value, COALESCE(description, ''), updated_at, updated_by::text
		FROM system_config WHERE key = $1
	`
	c := &SystemConfig{}
	err := r.db.Pool.QueryRow(ctx, query, key).Scan(&c.Key, &c.Value, &c.Description, &c.UpdatedAt, &c.UpdatedBy)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get system config: %w", err)
	}
	return c, nil
}

// ListSystemConfig returns every flag
func (r *Repository) ListSystemConfig(ctx context.Context) ([]*SystemConfig, error) {
	query := `
		SELECT key, value, COALESCE(description, ''), updated_at, updated_by::text
		FROM system_config ORDER BY key
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list system config: %w", err)
	}
	defer rows.Close()

	var configs []*SystemConfig
	for rows.Next() {
		c := &SystemConfig{}
		if err := rows.Scan(&c.Key, &c.Value, &c.Description, &c.UpdatedAt, &c.UpdatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan system config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// SetSystemConfig writes a flag and records who changed it
func (r *Repository) SetSystemConfig(ctx context.Context, key string, value bool, operatorID string) error {
	query := `
		INSERT INTO system_config (key, value, updated_at, updated_by)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW(), updated_by = EXCLUDED.updated_by
	`
	if _, err := r.db.Pool.Exec(ctx, query, key, value, operatorID); err != nil {
		return fmt.Errorf("failed to set system config: %w", err)
	}
	return nil
}
