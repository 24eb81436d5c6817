package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RetentionForever is the sentinel retention period meaning rows are kept
// indefinitely; cleanup for such policies is a no-op.
const RetentionForever = -1

// CriteriaOperator enumerates the comparison operators supported by
// retention criteria values.
type CriteriaOperator string

const (
	CriteriaOpEq  CriteriaOperator = "eq"
	CriteriaOpNeq CriteriaOperator = "neq"
	CriteriaOpLt  CriteriaOperator = "lt"
	CriteriaOpGt  CriteriaOperator = "gt"
	CriteriaOpIn  CriteriaOperator = "in"
)

// RetentionCriteria narrows which rows a policy governs beyond age. A bare
// scalar value means equality; a map with "operator" and "value" keys selects
// one of eq/neq/lt/gt/in. Logical combinators are intentionally unsupported.
type RetentionCriteria map[string]interface{}

// Value marshals criteria to JSON for persistence.
func (c RetentionCriteria) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal retention criteria: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the criteria map.
func (c *RetentionCriteria) Scan(value interface{}) error {
	if value == nil {
		*c = RetentionCriteria{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for RetentionCriteria", value)
	}
	if len(data) == 0 {
		*c = RetentionCriteria{}
		return nil
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("unmarshal retention criteria: %w", err)
	}
	return nil
}

// RetentionPolicy defines how long rows in one governed table are kept.
// At most one active policy exists per table.
type RetentionPolicy struct {
	ID            string            `db:"id" json:"id"`
	TableName     string            `db:"table_name" json:"table_name"`
	RetentionDays int               `db:"retention_period_days" json:"retention_period_days"`
	Criteria      RetentionCriteria `db:"retention_criteria" json:"retention_criteria,omitempty"`
	AutoDelete    bool              `db:"auto_delete" json:"auto_delete"`
	IsActive      bool              `db:"is_active" json:"is_active"`
	LastCleanup   *time.Time        `db:"last_cleanup" json:"last_cleanup,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// CleanupResult reports the outcome of one table's cleanup run.
type CleanupResult struct {
	Table   string `json:"table"`
	Deleted int64  `json:"deleted"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SweepResult aggregates per-table outcomes of one retention sweep.
// Per-table failures are recorded here instead of aborting the sweep.
type SweepResult struct {
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Results      []CleanupResult `json:"results"`
	TotalDeleted int64           `json:"total_deleted"`
	Failures     int             `json:"failures"`
}
