package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vantage-crm/vantage-api/internal/models"
)

// RetentionPolicyRepository persists per-table retention rules.
type RetentionPolicyRepository struct {
	db *sqlx.DB
}

// NewRetentionPolicyRepository constructs the repository.
func NewRetentionPolicyRepository(db *sqlx.DB) *RetentionPolicyRepository {
	return &RetentionPolicyRepository{db: db}
}

const policyColumns = `id, table_name, retention_period_days, retention_criteria, auto_delete, is_active, last_cleanup, created_at, updated_at`

// ListActive returns every active policy row.
func (r *RetentionPolicyRepository) ListActive(ctx context.Context) ([]models.RetentionPolicy, error) {
	query := fmt.Sprintf(`SELECT %s FROM data_retention_policies WHERE is_active = true ORDER BY table_name ASC`, policyColumns)
	var policies []models.RetentionPolicy
	if err := r.db.SelectContext(ctx, &policies, query); err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	return policies, nil
}

// GetByTable fetches the active policy for a table.
func (r *RetentionPolicyRepository) GetByTable(ctx context.Context, tableName string) (*models.RetentionPolicy, error) {
	query := fmt.Sprintf(`SELECT %s FROM data_retention_policies WHERE table_name = $1 AND is_active = true`, policyColumns)
	var policy models.RetentionPolicy
	if err := r.db.GetContext(ctx, &policy, query, tableName); err != nil {
		return nil, err
	}
	return &policy, nil
}

// Create inserts a new policy row with generated defaults.
func (r *RetentionPolicyRepository) Create(ctx context.Context, policy *models.RetentionPolicy) error {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now
	const query = `INSERT INTO data_retention_policies (id, table_name, retention_period_days, retention_criteria, auto_delete, is_active, last_cleanup, created_at, updated_at)
VALUES (:id, :table_name, :retention_period_days, :retention_criteria, :auto_delete, :is_active, :last_cleanup, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, policy); err != nil {
		return fmt.Errorf("create retention policy: %w", err)
	}
	return nil
}

// UpdateRetentionPolicyParams defines the mutable policy fields.
type UpdateRetentionPolicyParams struct {
	RetentionDays *int
	Criteria      *models.RetentionCriteria
	AutoDelete    *bool
	IsActive      *bool
}

// Update persists the provided changes for a policy row.
func (r *RetentionPolicyRepository) Update(ctx context.Context, tableName string, params UpdateRetentionPolicyParams) error {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	argPos := 1

	if params.RetentionDays != nil {
		set = append(set, fmt.Sprintf("retention_period_days = $%d", argPos))
		args = append(args, *params.RetentionDays)
		argPos++
	}
	if params.Criteria != nil {
		set = append(set, fmt.Sprintf("retention_criteria = $%d", argPos))
		args = append(args, *params.Criteria)
		argPos++
	}
	if params.AutoDelete != nil {
		set = append(set, fmt.Sprintf("auto_delete = $%d", argPos))
		args = append(args, *params.AutoDelete)
		argPos++
	}
	if params.IsActive != nil {
		set = append(set, fmt.Sprintf("is_active = $%d", argPos))
		args = append(args, *params.IsActive)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}

	set = append(set, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now().UTC())
	argPos++

	query := fmt.Sprintf("UPDATE data_retention_policies SET %s WHERE table_name = $%d AND is_active = true", strings.Join(set, ", "), argPos)
	args = append(args, tableName)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update retention policy: %w", err)
	}
	return nil
}

// TouchLastCleanup advances the policy's last cleanup timestamp.
func (r *RetentionPolicyRepository) TouchLastCleanup(ctx context.Context, tableName string, ts time.Time) error {
	const query = `UPDATE data_retention_policies SET last_cleanup = $1, updated_at = $1 WHERE table_name = $2 AND is_active = true`
	if _, err := r.db.ExecContext(ctx, query, ts, tableName); err != nil {
		return fmt.Errorf("touch retention policy: %w", err)
	}
	return nil
}
