package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN builds the libpq connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	l := logger.With().Str("component", "database").Logger()
	l.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: l}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// WithTx runs fn inside a transaction, committing when fn returns nil
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("count", len(migrations)).Msg("Database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

	// Secret questions for password recovery
	`CREATE TABLE IF NOT EXISTS secret_questions (
		id SERIAL PRIMARY KEY,
		question TEXT NOT NULL UNIQUE
	)`,
	`INSERT INTO secret_questions (question) VALUES
		('What was the name of your first pet?'),
		('In which city were you born?'),
		('What is your mother''s maiden name?'),
		('What was the name of your primary school?'),
		('What was the model of your first car?')
	ON CONFLICT (question) DO NOTHING`,

	// Users
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		first_name VARCHAR(100) NOT NULL DEFAULT '',
		last_name VARCHAR(100) NOT NULL DEFAULT '',
		country VARCHAR(100),
		phone VARCHAR(50),
		telegram_handle VARCHAR(100),
		secret_question_id INTEGER REFERENCES secret_questions(id),
		secret_answer_hash VARCHAR(255),
		is_temporary_password BOOLEAN NOT NULL DEFAULT FALSE,
		is_operator BOOLEAN NOT NULL DEFAULT FALSE,
		approval_status VARCHAR(20) NOT NULL DEFAULT 'pending',
		approval_date TIMESTAMPTZ,
		approved_by UUID,
		rejection_reason TEXT,
		password_changed_at TIMESTAMPTZ,
		last_login_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_approval_status ON users(approval_status)`,

	// Sessions
	`CREATE TABLE IF NOT EXISTS user_sessions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		refresh_token_hash VARCHAR(64) NOT NULL UNIQUE,
		ip_address VARCHAR(64),
		user_agent TEXT,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_sessions_user ON user_sessions(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_user_sessions_expires ON user_sessions(expires_at)`,

	// Bot activation, one row per user. Days remaining is derived, not stored.
	`CREATE TABLE IF NOT EXISTS bot_activation (
		user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		activated_at TIMESTAMPTZ,
		total_duration_days INTEGER NOT NULL DEFAULT 30,
		paused_days_remaining INTEGER,
		last_pause_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT bot_activation_total_positive CHECK (total_duration_days > 0),
		CONSTRAINT bot_activation_paused_non_negative CHECK (paused_days_remaining IS NULL OR paused_days_remaining >= 0)
	)`,

	// Capital, one exchange per user
	`CREATE TABLE IF NOT EXISTS user_capital (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
		exchange VARCHAR(20) NOT NULL,
		capital_amount DECIMAL(20, 2) NOT NULL CHECK (capital_amount > 0),
		is_connected BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_capital_exchange ON user_capital(exchange)`,

	// Deposits and withdrawals
	`CREATE TABLE IF NOT EXISTS deposits (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		exchange VARCHAR(20) NOT NULL,
		amount DECIMAL(20, 2) NOT NULL CHECK (amount > 0),
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		rejection_reason TEXT,
		processed_at TIMESTAMPTZ,
		processed_by UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deposits_user ON deposits(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_deposits_status ON deposits(status)`,
	`CREATE TABLE IF NOT EXISTS withdrawals (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		exchange VARCHAR(20) NOT NULL,
		amount DECIMAL(20, 2) NOT NULL CHECK (amount > 0),
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		rejection_reason TEXT,
		processed_at TIMESTAMPTZ,
		processed_by UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status)`,

	// Earnings
	`CREATE TABLE IF NOT EXISTS bot_earnings (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount DECIMAL(20, 2) NOT NULL,
		note TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bot_earnings_user ON bot_earnings(user_id, created_at DESC)`,

	// Plans
	`CREATE TABLE IF NOT EXISTS subscription_plans (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		price DECIMAL(20, 2) NOT NULL DEFAULT 0,
		duration_days INTEGER NOT NULL DEFAULT 30 CHECK (duration_days > 0),
		features TEXT[] NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		display_order INTEGER NOT NULL DEFAULT 0,
		created_by UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`INSERT INTO subscription_plans (name, description, price, duration_days, features, display_order)
	VALUES ('Basic', 'Default plan assigned at registration', 0, 30, ARRAY['Bot access', 'Daily earnings report'], 0)
	ON CONFLICT (name) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS user_plans (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
		plan_id BIGINT NOT NULL REFERENCES subscription_plans(id),
		activated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS plan_change_requests (
		id BIGSERIAL PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		current_plan_id BIGINT REFERENCES subscription_plans(id) ON DELETE SET NULL,
		requested_plan_id BIGINT NOT NULL REFERENCES subscription_plans(id) ON DELETE CASCADE,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		requested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ,
		processed_by UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plan_change_requests_status ON plan_change_requests(status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_plan_change_requests_one_pending
		ON plan_change_requests(user_id) WHERE status = 'pending'`,

	// Feature flags
	`CREATE TABLE IF NOT EXISTS system_config (
		key VARCHAR(100) PRIMARY KEY,
		value BOOLEAN NOT NULL DEFAULT TRUE,
		description TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_by UUID
	)`,
	`INSERT INTO system_config (key, value, description) VALUES
		('plans_enabled', TRUE, 'Users can browse plans and request changes'),
		('announcements_enabled', TRUE, 'Users can see channel announcements')
	ON CONFLICT (key) DO NOTHING`,

	// Announcements mirrored from the channel
	`CREATE TABLE IF NOT EXISTS announcements (
		id BIGINT PRIMARY KEY,
		text TEXT NOT NULL DEFAULT '',
		posted_at TIMESTAMPTZ NOT NULL,
		has_photo BOOLEAN NOT NULL DEFAULT FALSE,
		has_video BOOLEAN NOT NULL DEFAULT FALSE,
		has_document BOOLEAN NOT NULL DEFAULT FALSE,
		hidden BOOLEAN NOT NULL DEFAULT FALSE,
		hidden_by UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_announcements_posted ON announcements(posted_at DESC)`,

	// updated_at trigger
	`CREATE OR REPLACE FUNCTION update_updated_at_column()
	RETURNS TRIGGER AS $$
	BEGIN
		NEW.updated_at = NOW();
		RETURN NEW;
	END;
	$$ language 'plpgsql'`,
	`DROP TRIGGER IF EXISTS update_users_updated_at ON users`,
	`CREATE TRIGGER update_users_updated_at BEFORE UPDATE ON users
	FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
	`DROP TRIGGER IF EXISTS update_user_capital_updated_at ON user_capital`,
	`CREATE TRIGGER update_user_capital_updated_at BEFORE UPDATE ON user_capital
	FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
	`DROP TRIGGER IF EXISTS update_subscription_plans_updated_at ON subscription_plans`,
	`CREATE TRIGGER update_subscription_plans_updated_at BEFORE UPDATE ON subscription_plans
	FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
}
