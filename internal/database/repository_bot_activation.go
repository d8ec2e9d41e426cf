package database

import (
	"context"
	"fmt"

	"bot-dashboard/internal/activation"

	"github.com/jackc/pgx/v5"
)

const activationColumns = `
	user_id, is_active, activated_at, total_duration_days, paused_days_remaining,
	last_pause_date, created_at, updated_at`

func scanActivation(row pgx.Row) (*activation.Record, error) {
	rec := &activation.Record{}
	err := row.Scan(
		&rec.UserID, &rec.IsActive, &rec.ActivatedAt, &rec.TotalDurationDays,
		&rec.PausedDaysRemaining, &rec.LastPauseDate, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetActivation returns the activation row for a user, nil when none exists
func (r *Repository) GetActivation(ctx context.Context, userID string) (*activation.Record, error) {
	query := `SELECT ` + activationColumns + ` FROM bot_activation WHERE user_id = $1`

	rec, err := scanActivation(r.db.Pool.QueryRow(ctx, query, userID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot activation: %w", err)
	}
	return rec, nil
}

// UpsertActivation locks the user's row, applies merge and writes the result
// in one transaction. Concurrent writers for the same user serialize on the
// row lock; the first insert for a user is protected by ON CONFLICT.
func (r *Repository) UpsertActivation(ctx context.Context, userID string, merge activation.MergeFunc) (*activation.Record, error) {
	var result *activation.Record

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = upsertActivationTx(ctx, tx, userID, merge)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func upsertActivationTx(ctx context.Context, tx txQuerier, userID string, merge activation.MergeFunc) (*activation.Record, error) {
	query := `SELECT ` + activationColumns + ` FROM bot_activation WHERE user_id = $1 FOR UPDATE`
	current, err := scanActivation(tx.QueryRow(ctx, query, userID))
	if isNoRows(err) {
		current = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to lock bot activation: %w", err)
	}

	next := merge(current)
	if next == nil {
		return nil, fmt.Errorf("activation merge returned no record")
	}

	upsert := `
		INSERT INTO bot_activation (
			user_id, is_active, activated_at, total_duration_days,
			paused_days_remaining, last_pause_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			activated_at = EXCLUDED.activated_at,
			total_duration_days = EXCLUDED.total_duration_days,
			paused_days_remaining = EXCLUDED.paused_days_remaining,
			last_pause_date = EXCLUDED.last_pause_date,
			updated_at = NOW()
		RETURNING ` + activationColumns

	result, err := scanActivation(tx.QueryRow(ctx, upsert,
		userID,
		next.IsActive,
		next.ActivatedAt,
		next.TotalDurationDays,
		next.PausedDaysRemaining,
		next.LastPauseDate,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert bot activation: %w", err)
	}
	return result, nil
}

// ListActivations returns every activation row keyed by user id
func (r *Repository) ListActivations(ctx context.Context) (map[string]*activation.Record, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+activationColumns+` FROM bot_activation`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bot activations: %w", err)
	}
	defer rows.Close()

	records := make(map[string]*activation.Record)
	for rows.Next() {
		rec, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot activation: %w", err)
		}
		records[rec.UserID] = rec
	}
	return records, rows.Err()
}
