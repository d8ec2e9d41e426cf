package database

import (
	"context"
	"fmt"
	"time"

	"bot-dashboard/internal/activation"
	"bot-dashboard/internal/logging"

	"github.com/jackc/pgx/v5"
)

// =====================================================
// USER CRUD OPERATIONS
// =====================================================

const userColumns = `
	id, email, password_hash, first_name, last_name,
	COALESCE(country, ''), COALESCE(phone, ''), COALESCE(telegram_handle, ''),
	secret_question_id, COALESCE(secret_answer_hash, ''),
	is_temporary_password, is_operator, approval_status, approval_date, approved_by::text,
	COALESCE(rejection_reason, ''), password_changed_at, last_login_at,
	created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.Country, &user.Phone, &user.TelegramHandle,
		&user.SecretQuestionID, &user.SecretAnswerHash,
		&user.IsTemporaryPassword, &user.IsOperator, &user.ApprovalStatus, &user.ApprovalDate, &user.ApprovedBy,
		&user.RejectionReason, &user.PasswordChangedAt, &user.LastLoginAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser creates a new user
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (
			email, password_hash, first_name, last_name, country, phone, telegram_handle,
			secret_question_id, secret_answer_hash, is_temporary_password, is_operator,
			approval_status, approval_date
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`

	if user.ApprovalStatus == "" {
		user.ApprovalStatus = ApprovalPending
	}

	err := r.db.Pool.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Country,
		user.Phone,
		user.TelegramHandle,
		user.SecretQuestionID,
		user.SecretAnswerHash,
		user.IsTemporaryPassword,
		user.IsOperator,
		user.ApprovalStatus,
		user.ApprovalDate,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by ID
func (r *Repository) GetUserByID(ctx context.Context, userID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.db.Pool.QueryRow(ctx, query, userID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email, case insensitive
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`

	user, err := scanUser(r.db.Pool.QueryRow(ctx, query, email))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// EmailExists checks if an email is already registered
func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

// UpdateUserPassword sets a new password hash and the temporary flag
func (r *Repository) UpdateUserPassword(ctx context.Context, userID, passwordHash string, temporary bool) error {
	query := `
		UPDATE users SET password_hash = $2, is_temporary_password = $3, password_changed_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, userID, passwordHash, temporary)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update password: user %s not found", userID)
	}
	return nil
}

// UpdateUserLastLogin updates the last login timestamp
func (r *Repository) UpdateUserLastLogin(ctx context.Context, userID string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// PromoteOperator marks an existing user as an approved operator
func (r *Repository) PromoteOperator(ctx context.Context, userID, passwordHash string) error {
	query := `
		UPDATE users SET is_operator = TRUE, approval_status = 'approved',
			approval_date = COALESCE(approval_date, NOW()), password_hash = $2
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to promote operator: %w", err)
	}
	return nil
}

// ListUsersByStatus lists investors with the given approval status, newest first
func (r *Repository) ListUsersByStatus(ctx context.Context, status ApprovalStatus) ([]*User, error) {
	query := `SELECT ` + userColumns + `
		FROM users WHERE is_operator = FALSE AND approval_status = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// ListApprovedInvestors returns approved non-operator users for the activation view
func (r *Repository) ListApprovedInvestors(ctx context.Context) ([]activation.UserSummary, error) {
	query := `
		SELECT id, email, first_name, last_name
		FROM users WHERE is_operator = FALSE AND approval_status = 'approved'
		ORDER BY first_name, last_name, email
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved users: %w", err)
	}
	defer rows.Close()

	var users []activation.UserSummary
	for rows.Next() {
		var u activation.UserSummary
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetApprovedInvestor looks up one approved non-operator user. Ids that are not
// valid UUIDs simply match nothing.
func (r *Repository) GetApprovedInvestor(ctx context.Context, userID string) (*activation.UserSummary, error) {
	query := `
		SELECT id, email, first_name, last_name
		FROM users WHERE id::text = $1 AND is_operator = FALSE AND approval_status = 'approved'
	`
	var u activation.UserSummary
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approved user: %w", err)
	}
	return &u, nil
}

// SetApprovalStatus records an operator review of an account.
// Returns false when the user does not exist.
func (r *Repository) SetApprovalStatus(ctx context.Context, userID string, status ApprovalStatus, operatorID, reason string) (bool, error) {
	query := `
		UPDATE users SET approval_status = $2, approval_date = NOW(), approved_by = $3,
			rejection_reason = NULLIF($4, '')
		WHERE id = $1 AND is_operator = FALSE
	`
	tag, err := r.db.Pool.Exec(ctx, query, userID, status, operatorID, reason)
	if err != nil {
		return false, fmt.Errorf("failed to update approval status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// cascadeTables lists every table holding rows keyed by user_id, children first
var cascadeTables = []string{
	"bot_earnings",
	"bot_activation",
	"user_capital",
	"deposits",
	"withdrawals",
	"plan_change_requests",
	"user_plans",
	"user_sessions",
}

// DeleteUserCascade removes a user and every row that references them in a
// single transaction. Returns false when the user does not exist or is an operator.
func (r *Repository) DeleteUserCascade(ctx context.Context, userID string) (bool, error) {
	found := false
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		found, err = deleteUserTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func deleteUserTx(ctx context.Context, tx txQuerier, userID string) (bool, error) {
	var isOperator bool
	err := tx.QueryRow(ctx, `SELECT is_operator FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&isOperator)
	if isNoRows(err) || (err == nil && isOperator) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock user: %w", err)
	}

	for _, table := range cascadeTables {
		tag, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE user_id = $1`, userID)
		if err != nil {
			return false, fmt.Errorf("failed to delete from %s: %w", table, err)
		}
		dbLog := logging.DatabaseContext("delete_cascade", table)
		dbLog.Debug().
			Str("user_id", userID).
			Int64("rows", tag.RowsAffected()).
			Msg("Deleted user rows")
	}
	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1 AND is_operator = FALSE`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete user: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// =====================================================
// SESSION CRUD OPERATIONS
// =====================================================

// CreateSession creates a new user session
func (r *Repository) CreateSession(ctx context.Context, session *UserSession) error {
	query := `
		INSERT INTO user_sessions (user_id, refresh_token_hash, ip_address, user_agent, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		RETURNING id, created_at, last_used_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		session.UserID,
		session.RefreshTokenHash,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt,
	).Scan(&session.ID, &session.CreatedAt, &session.LastUsedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionByTokenHash retrieves a live session by refresh token hash
func (r *Repository) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*UserSession, error) {
	query := `
		SELECT id, user_id, refresh_token_hash, COALESCE(ip_address, ''), COALESCE(user_agent, ''),
			expires_at, revoked_at, created_at, last_used_at
		FROM user_sessions
		WHERE refresh_token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
	`

	session := &UserSession{}
	err := r.db.Pool.QueryRow(ctx, query, tokenHash).Scan(
		&session.ID, &session.UserID, &session.RefreshTokenHash,
		&session.IPAddress, &session.UserAgent,
		&session.ExpiresAt, &session.RevokedAt, &session.CreatedAt, &session.LastUsedAt,
	)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// RevokeSession revokes a session
func (r *Repository) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE user_sessions SET revoked_at = NOW() WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAllUserSessions revokes all sessions for a user
func (r *Repository) RevokeAllUserSessions(ctx context.Context, userID string) error {
	query := `UPDATE user_sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`
	_, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke all sessions: %w", err)
	}
	return nil
}

// CountActiveSessions returns the number of live sessions for a user
func (r *Repository) CountActiveSessions(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM user_sessions WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > NOW()`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// RevokeOldestSession revokes the least recently used live session of a user
func (r *Repository) RevokeOldestSession(ctx context.Context, userID string) error {
	query := `
		UPDATE user_sessions SET revoked_at = NOW()
		WHERE id = (
			SELECT id FROM user_sessions
			WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > NOW()
			ORDER BY last_used_at ASC LIMIT 1
		)
	`
	_, err := r.db.Pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke oldest session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes expired or long revoked sessions
func (r *Repository) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	query := `DELETE FROM user_sessions WHERE expires_at < NOW() OR revoked_at < $1`
	tag, err := r.db.Pool.Exec(ctx, query, time.Now().Add(-24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// =====================================================
// SECRET QUESTIONS
// =====================================================

// ListSecretQuestions returns all recovery questions
func (r *Repository) ListSecretQuestions(ctx context.Context) ([]SecretQuestion, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, question FROM secret_questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list secret questions: %w", err)
	}
	defer rows.Close()

	var questions []SecretQuestion
	for rows.Next() {
		var q SecretQuestion
		if err := rows.Scan(&q.ID, &q.Question); err != nil {
			return nil, fmt.Errorf("failed to scan secret question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetSecretQuestion returns one question, nil when it does not exist
func (r *Repository) GetSecretQuestion(ctx context.Context, id int) (*SecretQuestion, error) {
	q := &SecretQuestion{}
	err := r.db.Pool.QueryRow(ctx, `SELECT id, question FROM secret_questions WHERE id = $1`, id).Scan(&q.ID, &q.Question)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret question: %w", err)
	}
	return q, nil
}
