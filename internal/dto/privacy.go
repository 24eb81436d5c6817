package dto

import (
	"time"

	"github.com/vantage-crm/vantage-api/internal/models"
)

// CreateExportRequest captures POST /privacy/exports payload. Tables may be
// empty to export everything the subject owns.
type CreateExportRequest struct {
	UserID string   `json:"user_id" binding:"required" validate:"required"`
	Tables []string `json:"tables,omitempty"`
	Format string   `json:"format" binding:"required,oneof=json csv xml" validate:"required"`
}

// ExportCreatedResponse is returned after an export request is accepted.
type ExportCreatedResponse struct {
	ID                  string    `json:"id"`
	Status              string    `json:"status"`
	DownloadURL         string    `json:"download_url"`
	ExpiresAt           time.Time `json:"expires_at"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// ExportStatusResponse exposes export request progress metadata.
type ExportStatusResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Format      string     `json:"format"`
	FileSize    *int64     `json:"file_size,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// CreateDeletionRequest captures POST /privacy/deletions payload. Either
// user_id or email identifies the subject.
type CreateDeletionRequest struct {
	UserID       string               `json:"user_id,omitempty"`
	Email        string               `json:"email,omitempty"`
	RequestType  string               `json:"request_type" binding:"required,oneof=full partial anonymize" validate:"required,oneof=full partial anonymize"`
	SpecificData models.DeletionScope `json:"specific_data,omitempty"`
	Reason       string               `json:"reason,omitempty"`
}

// DeletionCreatedResponse is returned after a deletion request is recorded.
type DeletionCreatedResponse struct {
	ID                  string    `json:"id"`
	Status              string    `json:"status"`
	VerificationURL     string    `json:"verification_url"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// VerifyDeletionRequest captures POST /privacy/deletions/:id/verify payload.
type VerifyDeletionRequest struct {
	Token string `json:"token" binding:"required"`
}

// DeletionResultResponse reports the executed deletion outcome.
type DeletionResultResponse struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	CompletionNotes *string    `json:"completion_notes,omitempty"`
}

// RequestCounts summarizes one subject's open and total workflow requests.
type RequestCounts struct {
	Open  int `json:"open"`
	Total int `json:"total"`
}

// ComplianceStatusResponse aggregates one subject's privacy state.
type ComplianceStatusResponse struct {
	UserID              string           `json:"user_id"`
	ComplianceStatus    string           `json:"compliance_status"`
	ComplianceUpdatedAt *time.Time       `json:"compliance_updated_at,omitempty"`
	Exports             RequestCounts    `json:"exports"`
	Deletions           RequestCounts    `json:"deletions"`
	Consents            []models.Consent `json:"consents"`
	RetrievedAt         time.Time        `json:"retrieved_at"`
}
