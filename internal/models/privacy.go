package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat enumerates supported export encodings.
type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatXML  ExportFormat = "xml"
)

// ExportStatus captures the export request lifecycle.
type ExportStatus string

const (
	ExportStatusPending    ExportStatus = "pending"
	ExportStatusProcessing ExportStatus = "processing"
	ExportStatusCompleted  ExportStatus = "completed"
	ExportStatusFailed     ExportStatus = "failed"
)

// StringList persists an optional list of table names as JSONB.
type StringList []string

// Value marshals the list for persistence.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the list.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for StringList", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	if err := json.Unmarshal(data, l); err != nil {
		return fmt.Errorf("unmarshal string list: %w", err)
	}
	return nil
}

// ExportRequest is one subject's request for a machine-readable copy of
// their data. Mutated only by the background processing step.
type ExportRequest struct {
	ID                string       `db:"id" json:"id"`
	UserID            string       `db:"user_id" json:"user_id"`
	Tables            StringList   `db:"tables" json:"tables,omitempty"`
	Format            ExportFormat `db:"export_format" json:"export_format"`
	VerificationToken string       `db:"verification_token" json:"-"`
	Status            ExportStatus `db:"status" json:"status"`
	FilePath          *string      `db:"file_path" json:"file_path,omitempty"`
	FileSize          *int64       `db:"file_size" json:"file_size,omitempty"`
	ErrorMessage      *string      `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	ExpiresAt         time.Time    `db:"expires_at" json:"expires_at"`
	CompletedAt       *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
}

// DeletionType enumerates the destructive operations a subject may request.
type DeletionType string

const (
	DeletionTypeFull      DeletionType = "full"
	DeletionTypePartial   DeletionType = "partial"
	DeletionTypeAnonymize DeletionType = "anonymize"
)

// DeletionStatus captures the deletion request lifecycle.
type DeletionStatus string

const (
	DeletionStatusPendingVerification DeletionStatus = "pending_verification"
	DeletionStatusInProgress          DeletionStatus = "in_progress"
	DeletionStatusCompleted           DeletionStatus = "completed"
	DeletionStatusFailed              DeletionStatus = "failed"
)

// DeletionScope maps a governed table name to criteria narrowing the rows
// removed by a partial deletion. Criteria use the retention criteria
// language and are always ANDed with ownership of the requesting subject.
type DeletionScope map[string]RetentionCriteria

// Value marshals the scope for persistence.
func (s DeletionScope) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal deletion scope: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the scope map.
func (s *DeletionScope) Scan(value interface{}) error {
	if value == nil {
		*s = DeletionScope{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for DeletionScope", value)
	}
	if len(data) == 0 {
		*s = DeletionScope{}
		return nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("unmarshal deletion scope: %w", err)
	}
	return nil
}

// DeletionRequest is one subject's request to erase or anonymize their data.
// Processing never starts before VerifiedAt is set, and a request transitions
// exactly once from unverified to verified.
type DeletionRequest struct {
	ID                string         `db:"id" json:"id"`
	UserID            string         `db:"user_id" json:"user_id"`
	Email             string         `db:"email" json:"email"`
	Type              DeletionType   `db:"request_type" json:"request_type"`
	Scope             DeletionScope  `db:"specific_data" json:"specific_data,omitempty"`
	Reason            *string        `db:"reason" json:"reason,omitempty"`
	VerificationToken string         `db:"verification_token" json:"-"`
	VerifiedAt        *time.Time     `db:"verified_at" json:"verified_at,omitempty"`
	Status            DeletionStatus `db:"status" json:"status"`
	ProcessedAt       *time.Time     `db:"processed_at" json:"processed_at,omitempty"`
	CompletionNotes   *string        `db:"completion_notes" json:"completion_notes,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
}
