package repository

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vantage-crm/vantage-api/internal/models"
)

// CleanupRepository executes retention deletes against governed tables.
// Table and column identifiers come exclusively from the governed-table
// registry and validated criteria keys.
type CleanupRepository struct {
	db *sqlx.DB
}

// NewCleanupRepository constructs the repository.
func NewCleanupRepository(db *sqlx.DB) *CleanupRepository {
	return &CleanupRepository{db: db}
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidateCriteria rejects criteria with malformed column names, unknown
// operators, or non-list values for set membership. Called at the policy
// API boundary so sweeps never meet an invalid criteria object.
func ValidateCriteria(criteria models.RetentionCriteria) error {
	for column, raw := range criteria {
		if !identifierPattern.MatchString(column) {
			return fmt.Errorf("invalid criteria column %q", column)
		}
		spec, ok := raw.(map[string]interface{})
		if !ok {
			continue // bare scalar, treated as equality
		}
		op, _ := spec["operator"].(string)
		switch models.CriteriaOperator(op) {
		case models.CriteriaOpEq, models.CriteriaOpNeq, models.CriteriaOpLt, models.CriteriaOpGt:
		case models.CriteriaOpIn:
			if _, ok := spec["value"].([]interface{}); !ok {
				return fmt.Errorf("criteria column %q: in operator requires a list value", column)
			}
		default:
			return fmt.Errorf("criteria column %q: unsupported operator %q", column, op)
		}
	}
	return nil
}

// appendCriteria ANDs each criterion onto the where clause. A bare scalar is
// an equality test; a {operator, value} pair selects the comparison.
func appendCriteria(where []string, args []interface{}, criteria models.RetentionCriteria) ([]string, []interface{}, error) {
	columns := make([]string, 0, len(criteria))
	for column := range criteria {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	for _, column := range columns {
		if !identifierPattern.MatchString(column) {
			return nil, nil, fmt.Errorf("invalid criteria column %q", column)
		}
		raw := criteria[column]
		spec, ok := raw.(map[string]interface{})
		if !ok {
			where = append(where, fmt.Sprintf("%s = $%d", column, len(args)+1))
			args = append(args, raw)
			continue
		}

		op, _ := spec["operator"].(string)
		value := spec["value"]
		switch models.CriteriaOperator(op) {
		case models.CriteriaOpEq:
			where = append(where, fmt.Sprintf("%s = $%d", column, len(args)+1))
			args = append(args, value)
		case models.CriteriaOpNeq:
			where = append(where, fmt.Sprintf("%s <> $%d", column, len(args)+1))
			args = append(args, value)
		case models.CriteriaOpLt:
			where = append(where, fmt.Sprintf("%s < $%d", column, len(args)+1))
			args = append(args, value)
		case models.CriteriaOpGt:
			where = append(where, fmt.Sprintf("%s > $%d", column, len(args)+1))
			args = append(args, value)
		case models.CriteriaOpIn:
			items, ok := value.([]interface{})
			if !ok || len(items) == 0 {
				return nil, nil, fmt.Errorf("criteria column %q: in operator requires a non-empty list", column)
			}
			marks := make([]string, len(items))
			for i, item := range items {
				marks[i] = fmt.Sprintf("$%d", len(args)+1)
				args = append(args, item)
			}
			where = append(where, fmt.Sprintf("%s IN (%s)", column, strings.Join(marks, ", ")))
		default:
			return nil, nil, fmt.Errorf("criteria column %q: unsupported operator %q", column, op)
		}
	}
	return where, args, nil
}

// DeleteAgedRows removes rows older than the cutoff from a generic governed
// table, ANDing any policy criteria onto the age predicate.
func (r *CleanupRepository) DeleteAgedRows(ctx context.Context, meta TableMeta, cutoff time.Time, criteria models.RetentionCriteria) (int64, error) {
	if meta.TimeColumn == "" {
		return 0, fmt.Errorf("table %s has no timestamp column", meta.Name)
	}
	where := []string{fmt.Sprintf("%s < $1", meta.TimeColumn)}
	args := []interface{}{cutoff}

	where, args, err := appendCriteria(where, args, criteria)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", meta.Name, strings.Join(where, " AND "))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup %s: %w", meta.Name, err)
	}
	return result.RowsAffected()
}

// CountAgedRows reports how many rows DeleteAgedRows would remove, without
// deleting anything. Used by the dry-run tooling.
func (r *CleanupRepository) CountAgedRows(ctx context.Context, meta TableMeta, cutoff time.Time, criteria models.RetentionCriteria) (int64, error) {
	if meta.TimeColumn == "" {
		return 0, fmt.Errorf("table %s has no timestamp column", meta.Name)
	}
	where := []string{fmt.Sprintf("%s < $1", meta.TimeColumn)}
	args := []interface{}{cutoff}

	where, args, err := appendCriteria(where, args, criteria)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", meta.Name, strings.Join(where, " AND "))
	var count int64
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count aged rows in %s: %w", meta.Name, err)
	}
	return count, nil
}

// PurgeableExport identifies an export row eligible for purge together with
// its artifact reference.
type PurgeableExport struct {
	ID       string  `db:"id"`
	FilePath *string `db:"file_path"`
}

const purgeableExportPredicate = `(expires_at < $1 OR created_at < $2) AND status IN ('completed', 'failed')`

// ListPurgeableExports returns terminal-status export rows that are expired
// or older than the cutoff, so their artifacts can be removed first.
func (r *CleanupRepository) ListPurgeableExports(ctx context.Context, now, cutoff time.Time) ([]PurgeableExport, error) {
	query := fmt.Sprintf(`SELECT id, file_path FROM data_export_requests WHERE %s`, purgeableExportPredicate)
	var rows []PurgeableExport
	if err := r.db.SelectContext(ctx, &rows, query, now, cutoff); err != nil {
		return nil, fmt.Errorf("list purgeable exports: %w", err)
	}
	return rows, nil
}

// DeleteExportRequests removes terminal-status export rows that are expired
// or older than the cutoff.
func (r *CleanupRepository) DeleteExportRequests(ctx context.Context, now, cutoff time.Time, criteria models.RetentionCriteria) (int64, error) {
	where := []string{purgeableExportPredicate}
	args := []interface{}{now, cutoff}

	where, args, err := appendCriteria(where, args, criteria)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM data_export_requests WHERE %s", strings.Join(where, " AND "))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup data_export_requests: %w", err)
	}
	return result.RowsAffected()
}

// DeleteDeletionRequests removes deletion request rows older than the cutoff
// that already completed. In-flight requests are never purged; they are the
// compliance evidence trail.
func (r *CleanupRepository) DeleteDeletionRequests(ctx context.Context, cutoff time.Time, criteria models.RetentionCriteria) (int64, error) {
	where := []string{"created_at < $1", "status = $2"}
	args := []interface{}{cutoff, models.DeletionStatusCompleted}

	where, args, err := appendCriteria(where, args, criteria)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM data_deletion_requests WHERE %s", strings.Join(where, " AND "))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup data_deletion_requests: %w", err)
	}
	return result.RowsAffected()
}
