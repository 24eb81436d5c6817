package dto

import (
	"time"

	"github.com/vantage-crm/vantage-api/internal/models"
)

// CreateRetentionPolicyRequest captures POST /retention/policies payload.
type CreateRetentionPolicyRequest struct {
	TableName           string                   `json:"table_name" binding:"required" validate:"required"`
	RetentionPeriodDays int                      `json:"retention_period_days" binding:"required" validate:"required"`
	RetentionCriteria   models.RetentionCriteria `json:"retention_criteria,omitempty"`
	AutoDelete          bool                     `json:"auto_delete"`
	IsActive            *bool                    `json:"is_active,omitempty"`
}

// UpdateRetentionPolicyRequest carries the mutable policy fields. Absent
// fields are left untouched.
type UpdateRetentionPolicyRequest struct {
	RetentionPeriodDays *int                     `json:"retention_period_days,omitempty"`
	RetentionCriteria   models.RetentionCriteria `json:"retention_criteria,omitempty"`
	AutoDelete          *bool                    `json:"auto_delete,omitempty"`
	IsActive            *bool                    `json:"is_active,omitempty"`
}

// RetentionPolicyListResponse wraps the active policy list.
type RetentionPolicyListResponse struct {
	Policies []models.RetentionPolicy `json:"policies"`
	Tables   []string                 `json:"governed_tables"`
}

// TriggerCleanupRequest captures POST /retention/cleanup payload. An empty
// table name runs the full sweep.
type TriggerCleanupRequest struct {
	Table string `json:"table,omitempty"`
}

// CleanupRunResponse reports the outcome of a manually triggered cleanup.
type CleanupRunResponse struct {
	StartedAt    time.Time              `json:"started_at"`
	FinishedAt   time.Time              `json:"finished_at"`
	Results      []models.CleanupResult `json:"results"`
	TotalDeleted int64                  `json:"total_deleted"`
	Failures     int                    `json:"failures"`
}
