package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vantage-crm/vantage-api/internal/models"
)

// DeletionRequestRepository persists data deletion request metadata.
type DeletionRequestRepository struct {
	db *sqlx.DB
}

// NewDeletionRequestRepository constructs the repository.
func NewDeletionRequestRepository(db *sqlx.DB) *DeletionRequestRepository {
	return &DeletionRequestRepository{db: db}
}

const deletionColumns = `id, user_id, email, request_type, specific_data, reason, verification_token, verified_at, status, processed_at, completion_notes, created_at`

// Create inserts a new deletion request row with generated defaults.
func (r *DeletionRequestRepository) Create(ctx context.Context, req *models.DeletionRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.DeletionStatusPendingVerification
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO data_deletion_requests (id, user_id, email, request_type, specific_data, reason, verification_token, verified_at, status, processed_at, completion_notes, created_at)
VALUES (:id, :user_id, :email, :request_type, :specific_data, :reason, :verification_token, :verified_at, :status, :processed_at, :completion_notes, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create deletion request: %w", err)
	}
	return nil
}

// GetByID returns a deletion request row by its identifier.
func (r *DeletionRequestRepository) GetByID(ctx context.Context, id string) (*models.DeletionRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM data_deletion_requests WHERE id = $1`, deletionColumns)
	var req models.DeletionRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// MarkVerified stamps verified_at and moves the request to in_progress,
// guarded so an already-verified request is never re-stamped.
func (r *DeletionRequestRepository) MarkVerified(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE data_deletion_requests SET verified_at = $1, status = $2 WHERE id = $3 AND verified_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, ts, models.DeletionStatusInProgress, id)
	if err != nil {
		return fmt.Errorf("mark deletion request verified: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark deletion request verified: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Finish records the terminal status with completion notes.
func (r *DeletionRequestRepository) Finish(ctx context.Context, id string, status models.DeletionStatus, notes string, ts time.Time) error {
	const query = `UPDATE data_deletion_requests SET status = $1, completion_notes = $2, processed_at = $3 WHERE id = $4`
	if _, err := r.db.ExecContext(ctx, query, status, notes, ts, id); err != nil {
		return fmt.Errorf("finish deletion request: %w", err)
	}
	return nil
}

// CountByUser returns open and total request counts for one subject.
func (r *DeletionRequestRepository) CountByUser(ctx context.Context, userID string) (open, total int, err error) {
	const query = `SELECT
COUNT(*) FILTER (WHERE status IN ('pending_verification', 'in_progress')) AS open,
COUNT(*) AS total
FROM data_deletion_requests WHERE user_id = $1`
	row := r.db.QueryRowxContext(ctx, query, userID)
	if err := row.Scan(&open, &total); err != nil {
		return 0, 0, fmt.Errorf("count deletion requests: %w", err)
	}
	return open, total, nil
}
