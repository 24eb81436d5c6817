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

// ExportRequestRepository persists data export request metadata.
type ExportRequestRepository struct {
	db *sqlx.DB
}

// NewExportRequestRepository constructs the repository.
func NewExportRequestRepository(db *sqlx.DB) *ExportRequestRepository {
	return &ExportRequestRepository{db: db}
}

const exportColumns = `id, user_id, tables, export_format, verification_token, status, file_path, file_size, error_message, created_at, expires_at, completed_at`

// Create inserts a new export request row with generated defaults.
func (r *ExportRequestRepository) Create(ctx context.Context, req *models.ExportRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.ExportStatusPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO data_export_requests (id, user_id, tables, export_format, verification_token, status, file_path, file_size, error_message, created_at, expires_at, completed_at)
VALUES (:id, :user_id, :tables, :export_format, :verification_token, :status, :file_path, :file_size, :error_message, :created_at, :expires_at, :completed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create export request: %w", err)
	}
	return nil
}

// GetByID returns an export request row by its identifier.
func (r *ExportRequestRepository) GetByID(ctx context.Context, id string) (*models.ExportRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM data_export_requests WHERE id = $1`, exportColumns)
	var req models.ExportRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// UpdateExportRequestParams defines the mutable export request fields.
type UpdateExportRequestParams struct {
	Status       *models.ExportStatus
	FilePath     *string
	FileSize     *int64
	ErrorMessage *string
	CompletedAt  *time.Time
}

// Update persists the provided changes for an export request row.
func (r *ExportRequestRepository) Update(ctx context.Context, id string, params UpdateExportRequestParams) error {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.FilePath != nil {
		set = append(set, fmt.Sprintf("file_path = $%d", argPos))
		args = append(args, *params.FilePath)
		argPos++
	}
	if params.FileSize != nil {
		set = append(set, fmt.Sprintf("file_size = $%d", argPos))
		args = append(args, *params.FileSize)
		argPos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, *params.ErrorMessage)
		argPos++
	}
	if params.CompletedAt != nil {
		set = append(set, fmt.Sprintf("completed_at = $%d", argPos))
		args = append(args, *params.CompletedAt)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE data_export_requests SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update export request: %w", err)
	}
	return nil
}

// ListPending fetches pending requests (used for cold start recovery).
func (r *ExportRequestRepository) ListPending(ctx context.Context, limit int) ([]models.ExportRequest, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM data_export_requests WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`, exportColumns)
	var reqs []models.ExportRequest
	if err := r.db.SelectContext(ctx, &reqs, query, limit); err != nil {
		return nil, fmt.Errorf("list pending export requests: %w", err)
	}
	return reqs, nil
}

// CountByUser returns open and total request counts for one subject.
func (r *ExportRequestRepository) CountByUser(ctx context.Context, userID string) (open, total int, err error) {
	const query = `SELECT
COUNT(*) FILTER (WHERE status IN ('pending', 'processing')) AS open,
COUNT(*) AS total
FROM data_export_requests WHERE user_id = $1`
	row := r.db.QueryRowxContext(ctx, query, userID)
	if err := row.Scan(&open, &total); err != nil {
		return 0, 0, fmt.Errorf("count export requests: %w", err)
	}
	return open, total, nil
}
