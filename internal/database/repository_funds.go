package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// =====================================================
// USER CAPITAL
// =====================================================

// GetUserCapital returns the capital row for a user, nil when none
func (r *Repository) GetUserCapital(ctx context.Context, userID string) (*UserCapital, error) {
	query := `
		SELECT id, user_id, exchange, capital_amount, is_connected, created_at, updated_at
		FROM user_capital WHERE user_id = $1
	`
	c := &UserCapital{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&c.ID, &c.UserID, &c.Exchange, &c.CapitalAmount, &c.IsConnected, &c.CreatedAt, &c.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user capital: %w", err)
	}
	return c, nil
}

// CreateUserCapital inserts the capital row. Returns ErrDuplicate when the
// user already has capital on any exchange.
func (r *Repository) CreateUserCapital(ctx context.Context, c *UserCapital) error {
	query := `
		INSERT INTO user_capital (user_id, exchange, capital_amount, is_connected)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, is_connected, created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query, c.UserID, c.Exchange, c.CapitalAmount).Scan(
		&c.ID, &c.IsConnected, &c.CreatedAt, &c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create user capital: %w", err)
	}
	return nil
}

// DeleteUserCapital removes the capital row. Returns false when there was none.
func (r *Repository) DeleteUserCapital(ctx context.Context, userID string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM user_capital WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete user capital: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListConnectedCapital returns connected capital of approved investors with owner details
func (r *Repository) ListConnectedCapital(ctx context.Context) ([]UserCapitalWithUser, error) {
	query := `
		SELECT c.id, c.user_id, c.exchange, c.capital_amount, c.is_connected, c.created_at, c.updated_at,
			u.email, u.first_name, u.last_name
		FROM user_capital c
		JOIN users u ON u.id = c.user_id
		WHERE c.is_connected = TRUE AND u.is_operator = FALSE AND u.approval_status = 'approved'
		ORDER BY c.exchange, c.capital_amount DESC
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected capital: %w", err)
	}
	defer rows.Close()

	var result []UserCapitalWithUser
	for rows.Next() {
		var c UserCapitalWithUser
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.Exchange, &c.CapitalAmount, &c.IsConnected, &c.CreatedAt, &c.UpdatedAt,
			&c.Email, &c.FirstName, &c.LastName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan capital: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// =====================================================
// DEPOSITS AND WITHDRAWALS
// =====================================================

const transactionColumns = `
	t.id, t.user_id, t.exchange, t.amount, t.status, COALESCE(t.rejection_reason, ''),
	t.processed_at, t.processed_by::text, t.created_at, t.updated_at`

func scanTransaction(row pgx.Row, withUser bool) (*FundTransaction, error) {
	t := &FundTransaction{}
	dest := []interface{}{
		&t.ID, &t.UserID, &t.Exchange, &t.Amount, &t.Status, &t.RejectionReason,
		&t.ProcessedAt, &t.ProcessedBy, &t.CreatedAt, &t.UpdatedAt,
	}
	if withUser {
		dest = append(dest, &t.UserEmail, &t.UserName)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTransaction inserts a pending deposit or withdrawal
func (r *Repository) CreateTransaction(ctx context.Context, kind TransactionKind, t *FundTransaction) error {
	query := `
		INSERT INTO ` + kind.table() + ` (user_id, exchange, amount, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING id, status, created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query, t.UserID, t.Exchange, t.Amount).Scan(
		&t.ID, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", kind, err)
	}
	return nil
}

// GetTransaction returns one deposit or withdrawal, nil when missing
func (r *Repository) GetTransaction(ctx context.Context, kind TransactionKind, id int64) (*FundTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM ` + kind.table() + ` t WHERE t.id = $1`
	t, err := scanTransaction(r.db.Pool.QueryRow(ctx, query, id), false)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	return t, nil
}

// ListUserTransactions returns a user's deposits or withdrawals, newest first
func (r *Repository) ListUserTransactions(ctx context.Context, kind TransactionKind, userID string) ([]*FundTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM ` + kind.table() + ` t
		WHERE t.user_id = $1 ORDER BY t.created_at DESC`
	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list %ss: %w", kind, err)
	}
	defer rows.Close()

	var result []*FundTransaction
	for rows.Next() {
		t, err := scanTransaction(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// ListTransactionsByStatus returns deposits or withdrawals in a status with owner details
func (r *Repository) ListTransactionsByStatus(ctx context.Context, kind TransactionKind, status RequestStatus) ([]*FundTransaction, error) {
	query := `SELECT ` + transactionColumns + `, u.email, TRIM(u.first_name || ' ' || u.last_name)
		FROM ` + kind.table() + ` t JOIN users u ON u.id = t.user_id
		WHERE t.status = $1 ORDER BY t.created_at ASC`
	rows, err := r.db.Pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %ss: %w", kind, err)
	}
	defer rows.Close()

	var result []*FundTransaction
	for rows.Next() {
		t, err := scanTransaction(rows, true)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// ProcessTransaction moves a pending deposit or withdrawal to status.
// Returns nil when the row is missing or no longer pending.
func (r *Repository) ProcessTransaction(ctx context.Context, kind TransactionKind, id int64, status RequestStatus, operatorID, reason string) (*FundTransaction, error) {
	query := `
		UPDATE ` + kind.table() + ` t SET status = $2, processed_at = NOW(), processed_by = $3,
			rejection_reason = NULLIF($4, ''), updated_at = NOW()
		WHERE t.id = $1 AND t.status = 'pending'
		RETURNING ` + transactionColumns
	t, err := scanTransaction(r.db.Pool.QueryRow(ctx, query, id, status, operatorID, reason), false)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to process %s: %w", kind, err)
	}
	return t, nil
}

// TotalsByExchange sums a user's approved deposits, approved withdrawals and
// pending withdrawals per exchange.
func (r *Repository) TotalsByExchange(ctx context.Context, userID string) ([]ExchangeTotals, error) {
	query := `
		SELECT exchange,
			COALESCE(SUM(CASE WHEN kind = 'deposit' THEN amount END), 0),
			COALESCE(SUM(CASE WHEN kind = 'withdrawal' AND status = 'approved' THEN amount END), 0),
			COALESCE(SUM(CASE WHEN kind = 'withdrawal' AND status = 'pending' THEN amount END), 0)
		FROM (
			SELECT exchange, amount, status, 'deposit' AS kind FROM deposits
			WHERE user_id = $1 AND status = 'approved'
			UNION ALL
			SELECT exchange, amount, status, 'withdrawal' AS kind FROM withdrawals
			WHERE user_id = $1 AND status IN ('approved', 'pending')
		) movements
		GROUP BY exchange
		ORDER BY exchange
	`
	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum transactions: %w", err)
	}
	defer rows.Close()

	var totals []ExchangeTotals
	for rows.Next() {
		var t ExchangeTotals
		if err := rows.Scan(&t.Exchange, &t.Deposits, &t.Withdrawals, &t.PendingWithdrawals); err != nil {
			return nil, fmt.Errorf("failed to scan totals: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// =====================================================
// BOT EARNINGS
// =====================================================

// ListEarnings returns a user's earnings, newest first
func (r *Repository) ListEarnings(ctx context.Context, userID string) ([]*BotEarning, error) {
	query := `
		SELECT id, user_id, amount, COALESCE(note, ''), created_at
		FROM bot_earnings WHERE user_id = $1 ORDER BY created_at DESC
	`
	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list earnings: %w", err)
	}
	defer rows.Close()

	var earnings []*BotEarning
	for rows.Next() {
		e := &BotEarning{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan earning: %w", err)
		}
		earnings = append(earnings, e)
	}
	return earnings, rows.Err()
}

// TotalEarnings sums a user's earnings
func (r *Repository) TotalEarnings(ctx context.Context, userID string) (float64, error) {
	var total float64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM bot_earnings WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum earnings: %w", err)
	}
	return total, nil
}

// CreateEarning records an earning for a user
func (r *Repository) CreateEarning(ctx context.Context, e *BotEarning) error {
	query := `
		INSERT INTO bot_earnings (user_id, amount, note) VALUES ($1, $2, NULLIF($3, ''))
		RETURNING id, created_at
	`
	if err := r.db.Pool.QueryRow(ctx, query, e.UserID, e.Amount, e.Note).Scan(&e.ID, &e.CreatedAt); err != nil {
		return fmt.Errorf("failed to create earning: %w", err)
	}
	return nil
}
