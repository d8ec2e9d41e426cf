package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// BasicPlanName is the plan assigned to every new registration
const BasicPlanName = "Basic"

const planColumns = `
	id, name, description, price, duration_days, features, is_active, display_order,
	created_by::text, created_at, updated_at`

func scanPlan(row pgx.Row) (*SubscriptionPlan, error) {
	p := &SubscriptionPlan{}
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.DurationDays, &p.Features, &p.IsActive,
		&p.DisplayOrder, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Features == nil {
		p.Features = []string{}
	}
	return p, nil
}

func (r *Repository) queryPlans(ctx context.Context, query string, args ...interface{}) ([]*SubscriptionPlan, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*SubscriptionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// ListPlans returns every plan in display order
func (r *Repository) ListPlans(ctx context.Context) ([]*SubscriptionPlan, error) {
	return r.queryPlans(ctx, `SELECT `+planColumns+` FROM subscription_plans ORDER BY display_order, id`)
}

// ListActivePlans returns plans users can pick
func (r *Repository) ListActivePlans(ctx context.Context) ([]*SubscriptionPlan, error) {
	return r.queryPlans(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE is_active = TRUE ORDER BY display_order, id`)
}

// GetPlan returns a plan by id, nil when missing
func (r *Repository) GetPlan(ctx context.Context, id int64) (*SubscriptionPlan, error) {
	p, err := scanPlan(r.db.Pool.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

// GetPlanByName returns a plan by name, nil when missing
func (r *Repository) GetPlanByName(ctx context.Context, name string) (*SubscriptionPlan, error) {
	p, err := scanPlan(r.db.Pool.QueryRow(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE name = $1`, name))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan by name: %w", err)
	}
	return p, nil
}

// CreatePlan inserts a plan
func (r *Repository) CreatePlan(ctx context.Context, p *SubscriptionPlan) error {
	query := `
		INSERT INTO subscription_plans (name, description, price, duration_days, features, is_active, display_order, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		p.Name, p.Description, p.Price, p.DurationDays, p.Features, p.IsActive, p.DisplayOrder, p.CreatedBy,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

// UpdatePlan overwrites a plan. Returns false when it does not exist.
func (r *Repository) UpdatePlan(ctx context.Context, p *SubscriptionPlan) (bool, error) {
	query := `
		UPDATE subscription_plans SET name = $2, description = $3, price = $4, duration_days = $5,
			features = $6, is_active = $7, display_order = $8
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		p.ID, p.Name, p.Description, p.Price, p.DurationDays, p.Features, p.IsActive, p.DisplayOrder,
	).Scan(&p.UpdatedAt)
	if isNoRows(err) {
		return false, nil
	}
	if isUniqueViolation(err) {
		return false, ErrDuplicate
	}
	if err != nil {
		return false, fmt.Errorf("failed to update plan: %w", err)
	}
	return true, nil
}

// DeletePlan removes a plan that no user is on. Returns false when missing.
func (r *Repository) DeletePlan(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM subscription_plans WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete plan: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CountPlanUsers returns how many users are assigned to a plan
func (r *Repository) CountPlanUsers(ctx context.Context, planID int64) (int, error) {
	var n int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_plans WHERE plan_id = $1`, planID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count plan users: %w", err)
	}
	return n, nil
}

// =====================================================
// USER PLANS
// =====================================================

// GetUserPlan returns the user's plan with plan details, nil when none
func (r *Repository) GetUserPlan(ctx context.Context, userID string) (*UserPlan, error) {
	query := `
		SELECT up.id, up.user_id, up.plan_id, up.activated_at, up.expires_at, up.is_active,
			up.created_at, up.updated_at,
			p.id, p.name, p.description, p.price, p.duration_days, p.features, p.is_active,
			p.display_order, p.created_by::text, p.created_at, p.updated_at
		FROM user_plans up JOIN subscription_plans p ON p.id = up.plan_id
		WHERE up.user_id = $1
	`
	up := &UserPlan{Plan: &SubscriptionPlan{}}
	p := up.Plan
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&up.ID, &up.UserID, &up.PlanID, &up.ActivatedAt, &up.ExpiresAt, &up.IsActive,
		&up.CreatedAt, &up.UpdatedAt,
		&p.ID, &p.Name, &p.Description, &p.Price, &p.DurationDays, &p.Features, &p.IsActive,
		&p.DisplayOrder, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user plan: %w", err)
	}
	return up, nil
}

const upsertUserPlanSQL = `
	INSERT INTO user_plans (user_id, plan_id, activated_at, expires_at, is_active)
	VALUES ($1, $2, NOW(), $3, TRUE)
	ON CONFLICT (user_id) DO UPDATE SET
		plan_id = EXCLUDED.plan_id,
		activated_at = NOW(),
		expires_at = EXCLUDED.expires_at,
		is_active = TRUE,
		updated_at = NOW()
`

// AssignUserPlan sets the user's plan, replacing any existing assignment
func (r *Repository) AssignUserPlan(ctx context.Context, userID string, planID int64, expiresAt time.Time) error {
	if _, err := r.db.Pool.Exec(ctx, upsertUserPlanSQL, userID, planID, expiresAt); err != nil {
		return fmt.Errorf("failed to assign user plan: %w", err)
	}
	return nil
}

// =====================================================
// PLAN CHANGE REQUESTS
// =====================================================

const planRequestColumns = `
	r.id, r.user_id, r.current_plan_id, r.requested_plan_id, r.status, r.requested_at,
	r.processed_at, r.processed_by::text, r.created_at, r.updated_at`

func scanPlanRequest(row pgx.Row, withDetails bool) (*PlanChangeRequest, error) {
	pr := &PlanChangeRequest{}
	dest := []interface{}{
		&pr.ID, &pr.UserID, &pr.CurrentPlanID, &pr.RequestedPlanID, &pr.Status, &pr.RequestedAt,
		&pr.ProcessedAt, &pr.ProcessedBy, &pr.CreatedAt, &pr.UpdatedAt,
	}
	if withDetails {
		dest = append(dest, &pr.UserEmail, &pr.UserName, &pr.CurrentPlanName, &pr.RequestedPlanName)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return pr, nil
}

// CreatePlanChangeRequest inserts a pending request. Returns ErrDuplicate when
// the user already has one pending.
func (r *Repository) CreatePlanChangeRequest(ctx context.Context, pr *PlanChangeRequest) error {
	query := `
		INSERT INTO plan_change_requests (user_id, current_plan_id, requested_plan_id, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING id, status, requested_at, created_at, updated_at
	`
	err := r.db.Pool.QueryRow(ctx, query, pr.UserID, pr.CurrentPlanID, pr.RequestedPlanID).Scan(
		&pr.ID, &pr.Status, &pr.RequestedAt, &pr.CreatedAt, &pr.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create plan change request: %w", err)
	}
	return nil
}

// GetPlanChangeRequest returns a request by id, nil when missing
func (r *Repository) GetPlanChangeRequest(ctx context.Context, id int64) (*PlanChangeRequest, error) {
	query := `SELECT ` + planRequestColumns + ` FROM plan_change_requests r WHERE r.id = $1`
	pr, err := scanPlanRequest(r.db.Pool.QueryRow(ctx, query, id), false)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan change request: %w", err)
	}
	return pr, nil
}

// ListUserPlanChangeRequests returns a user's requests, newest first
func (r *Repository) ListUserPlanChangeRequests(ctx context.Context, userID string) ([]*PlanChangeRequest, error) {
	query := `SELECT ` + planRequestColumns + ` FROM plan_change_requests r
		WHERE r.user_id = $1 ORDER BY r.requested_at DESC`
	return r.queryPlanRequests(ctx, query, false, userID)
}

// ListPendingPlanChangeRequests returns pending requests with user and plan names
func (r *Repository) ListPendingPlanChangeRequests(ctx context.Context) ([]*PlanChangeRequest, error) {
	query := `SELECT ` + planRequestColumns + `,
			u.email, TRIM(u.first_name || ' ' || u.last_name), COALESCE(cp.name, ''), rp.name
		FROM plan_change_requests r
		JOIN users u ON u.id = r.user_id
		LEFT JOIN subscription_plans cp ON cp.id = r.current_plan_id
		JOIN subscription_plans rp ON rp.id = r.requested_plan_id
		WHERE r.status = 'pending'
		ORDER BY r.requested_at ASC`
	return r.queryPlanRequests(ctx, query, true)
}

func (r *Repository) queryPlanRequests(ctx context.Context, query string, withDetails bool, args ...interface{}) ([]*PlanChangeRequest, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan change requests: %w", err)
	}
	defer rows.Close()

	var result []*PlanChangeRequest
	for rows.Next() {
		pr, err := scanPlanRequest(rows, withDetails)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan change request: %w", err)
		}
		result = append(result, pr)
	}
	return result, rows.Err()
}

// ApprovePlanChangeRequest assigns the requested plan and marks the request
// approved in one transaction. Returns nil when the request is missing or no
// longer pending.
func (r *Repository) ApprovePlanChangeRequest(ctx context.Context, id int64, operatorID string, now time.Time) (*PlanChangeRequest, error) {
	var result *PlanChangeRequest

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		update := `
			UPDATE plan_change_requests r SET status = 'approved', processed_at = NOW(),
				processed_by = $2, updated_at = NOW()
			WHERE r.id = $1 AND r.status = 'pending'
			RETURNING ` + planRequestColumns
		pr, err := scanPlanRequest(tx.QueryRow(ctx, update, id, operatorID), false)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to approve plan change request: %w", err)
		}

		var durationDays int
		if err := tx.QueryRow(ctx, `SELECT duration_days FROM subscription_plans WHERE id = $1`, pr.RequestedPlanID).Scan(&durationDays); err != nil {
			return fmt.Errorf("failed to load requested plan: %w", err)
		}

		expiresAt := now.AddDate(0, 0, durationDays)
		if _, err := tx.Exec(ctx, upsertUserPlanSQL, pr.UserID, pr.RequestedPlanID, expiresAt); err != nil {
			return fmt.Errorf("failed to assign user plan: %w", err)
		}

		result = pr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RejectPlanChangeRequest marks a pending request rejected. Returns nil when
// the request is missing or no longer pending.
func (r *Repository) RejectPlanChangeRequest(ctx context.Context, id int64, operatorID string) (*PlanChangeRequest, error) {
	query := `
		UPDATE plan_change_requests r SET status = 'rejected', processed_at = NOW(),
			processed_by = $2, updated_at = NOW()
		WHERE r.id = $1 AND r.status = 'pending'
		RETURNING ` + planRequestColumns
	pr, err := scanPlanRequest(r.db.Pool.QueryRow(ctx, query, id, operatorID), false)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reject plan change request: %w", err)
	}
	return pr, nil
}
