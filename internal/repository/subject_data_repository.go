package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vantage-crm/vantage-api/internal/models"
)

// SubjectDataRepository reads and destroys one subject's rows across the
// governed domain tables. Used by data collection (export) and the deletion
// executor.
type SubjectDataRepository struct {
	db *sqlx.DB
}

// NewSubjectDataRepository constructs the repository.
func NewSubjectDataRepository(db *sqlx.DB) *SubjectDataRepository {
	return &SubjectDataRepository{db: db}
}

func ownerPredicate(meta TableMeta, arg int) string {
	conds := make([]string, len(meta.OwnerColumns))
	for i, column := range meta.OwnerColumns {
		conds[i] = fmt.Sprintf("%s = $%d", column, arg)
	}
	return "(" + strings.Join(conds, " OR ") + ")"
}

// CollectRows returns every row in the table owned by the subject as generic
// maps, excluding soft-deleted rows.
func (r *SubjectDataRepository) CollectRows(ctx context.Context, meta TableMeta, userID string) ([]map[string]interface{}, error) {
	where := ownerPredicate(meta, 1)
	if meta.SoftDelete {
		where += " AND deleted_at IS NULL"
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", meta.Name, where)

	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", meta.Name, err)
	}
	defer rows.Close() //nolint:errcheck

	var records []map[string]interface{}
	for rows.Next() {
		record := map[string]interface{}{}
		if err := rows.MapScan(record); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", meta.Name, err)
		}
		for key, value := range record {
			if raw, ok := value.([]byte); ok {
				record[key] = string(raw)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect %s: %w", meta.Name, err)
	}
	return records, nil
}

// ScrubValues carries the identity replacement applied during full deletion.
type ScrubValues struct {
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Status       models.ComplianceStatus
}

// CascadeOutcome reports one table's delete attempt inside a cascade.
type CascadeOutcome struct {
	Table   string
	Deleted int64
	Err     error
}

// FullDelete runs the cascading deletion plus identity scrub inside one
// transaction. Individual cascade failures are isolated with savepoints and
// reported in the outcomes; the transaction commits only when the identity
// scrub succeeds, otherwise everything rolls back.
func (r *SubjectDataRepository) FullDelete(ctx context.Context, userID string, scrub ScrubValues) ([]CascadeOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin full deletion tx: %w", err)
	}

	outcomes := make([]CascadeOutcome, 0, len(governedTables))
	for i, meta := range CascadeTables() {
		savepoint := fmt.Sprintf("cascade_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			_ = tx.Rollback()
			return outcomes, fmt.Errorf("savepoint %s: %w", meta.Name, err)
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s", meta.Name, ownerPredicate(meta, 1))
		result, execErr := tx.ExecContext(ctx, query, userID)
		if execErr != nil {
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); err != nil {
				_ = tx.Rollback()
				return outcomes, fmt.Errorf("rollback savepoint %s: %w", meta.Name, err)
			}
			outcomes = append(outcomes, CascadeOutcome{Table: meta.Name, Err: execErr})
			continue
		}
		deleted, _ := result.RowsAffected()
		outcomes = append(outcomes, CascadeOutcome{Table: meta.Name, Deleted: deleted})
	}

	now := time.Now().UTC()
	const scrubQuery = `UPDATE users SET email = $1, first_name = $2, last_name = $3, company = NULL, password_hash = $4, active = false, compliance_status = $5, compliance_updated_at = $6, updated_at = $6 WHERE id = $7`
	if _, err := tx.ExecContext(ctx, scrubQuery, scrub.Email, scrub.FirstName, scrub.LastName, scrub.PasswordHash, scrub.Status, now, userID); err != nil {
		_ = tx.Rollback()
		return outcomes, fmt.Errorf("scrub identity record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return outcomes, fmt.Errorf("commit full deletion tx: %w", err)
	}
	return outcomes, nil
}

// ScopedDelete removes the subject's rows from one table, narrowed by the
// request's criteria. Partial deletions never touch the identity record.
func (r *SubjectDataRepository) ScopedDelete(ctx context.Context, meta TableMeta, userID string, criteria models.RetentionCriteria) (int64, error) {
	where := []string{ownerPredicate(meta, 1)}
	args := []interface{}{userID}

	where, args, err := appendCriteria(where, args, criteria)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", meta.Name, strings.Join(where, " AND "))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("scoped delete %s: %w", meta.Name, err)
	}
	return result.RowsAffected()
}

// Anonymize replaces the identity record's personal fields with anonymous
// placeholders, leaving all domain-table rows intact.
func (r *SubjectDataRepository) Anonymize(ctx context.Context, userID, email, firstName, lastName string) error {
	now := time.Now().UTC()
	const query = `UPDATE users SET email = $1, first_name = $2, last_name = $3, company = NULL, compliance_status = $4, compliance_updated_at = $5, updated_at = $5 WHERE id = $6`
	if _, err := r.db.ExecContext(ctx, query, email, firstName, lastName, models.ComplianceStatusAnonymized, now, userID); err != nil {
		return fmt.Errorf("anonymize identity record: %w", err)
	}
	return nil
}
