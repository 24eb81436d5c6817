package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/vantage-crm/vantage-api/internal/models"
	"github.com/vantage-crm/vantage-api/internal/repository"
	appErrors "github.com/vantage-crm/vantage-api/pkg/errors"
)

type cleanupStore interface {
	DeleteAgedRows(ctx context.Context, meta repository.TableMeta, cutoff time.Time, criteria models.RetentionCriteria) (int64, error)
	ListPurgeableExports(ctx context.Context, now, cutoff time.Time) ([]repository.PurgeableExport, error)
	DeleteExportRequests(ctx context.Context, now, cutoff time.Time, criteria models.RetentionCriteria) (int64, error)
	DeleteDeletionRequests(ctx context.Context, cutoff time.Time, criteria models.RetentionCriteria) (int64, error)
}

type policyProvider interface {
	Reload(ctx context.Context) error
	ActivePolicies() []models.RetentionPolicy
	PolicyFor(table string) (models.RetentionPolicy, bool)
}

type cleanupTouch interface {
	TouchLastCleanup(ctx context.Context, tableName string, ts time.Time) error
}

type artifactRemover interface {
	Delete(filename string) error
}

type sweepObserver interface {
	ObserveSweptRows(table string, deleted int64)
	IncSweepFailure(table string)
}

// CleanupService runs age-based retention deletes across governed tables.
// One failing table never aborts a sweep; failures are collected in the
// sweep result.
type CleanupService struct {
	repo     cleanupStore
	policies policyProvider
	touch    cleanupTouch
	storage  artifactRemover
	audit    auditSink
	metrics  sweepObserver
	logger   *zap.Logger
}

// NewCleanupService constructs the cleanup engine.
func NewCleanupService(repo cleanupStore, policies policyProvider, touch cleanupTouch, storage artifactRemover, audit auditSink, metrics sweepObserver, logger *zap.Logger) *CleanupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupService{
		repo:     repo,
		policies: policies,
		touch:    touch,
		storage:  storage,
		audit:    audit,
		metrics:  metrics,
		logger:   logger,
	}
}

// RunSweep executes every active policy once and aggregates the outcome.
func (s *CleanupService) RunSweep(ctx context.Context) *models.SweepResult {
	result := &models.SweepResult{StartedAt: time.Now().UTC()}

	if err := s.policies.Reload(ctx); err != nil {
		s.logger.Sugar().Warnw("policy reload failed, sweeping with previous snapshot", "error", err)
	}

	policies := s.policies.ActivePolicies()
	sort.Slice(policies, func(i, j int) bool { return policies[i].TableName < policies[j].TableName })

	for _, policy := range policies {
		// auto_delete=false keeps the policy visible but excludes it from
		// scheduled sweeps. Manual per-table runs still execute it.
		if !policy.AutoDelete {
			result.Results = append(result.Results, models.CleanupResult{Table: policy.TableName, Skipped: true})
			continue
		}
		outcome := s.runPolicy(ctx, policy)
		result.Results = append(result.Results, outcome)
		result.TotalDeleted += outcome.Deleted
		if outcome.Error != "" {
			result.Failures++
		}
	}

	result.FinishedAt = time.Now().UTC()
	s.logger.Sugar().Infow("retention sweep finished",
		"tables", len(result.Results),
		"deleted", result.TotalDeleted,
		"failures", result.Failures,
		"duration", result.FinishedAt.Sub(result.StartedAt),
	)
	s.writeSweepAudit(ctx, result)
	return result
}

// RunTable executes one table's policy on demand.
func (s *CleanupService) RunTable(ctx context.Context, table string) (*models.SweepResult, error) {
	if _, ok := repository.TableMetaFor(table); !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown table "+table)
	}
	if err := s.policies.Reload(ctx); err != nil {
		s.logger.Sugar().Warnw("policy reload failed before manual cleanup", "table", table, "error", err)
	}
	policy, ok := s.policies.PolicyFor(table)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no active retention policy for "+table)
	}

	result := &models.SweepResult{StartedAt: time.Now().UTC()}
	outcome := s.runPolicy(ctx, policy)
	result.Results = append(result.Results, outcome)
	result.TotalDeleted = outcome.Deleted
	if outcome.Error != "" {
		result.Failures = 1
	}
	result.FinishedAt = time.Now().UTC()
	s.writeSweepAudit(ctx, result)
	return result, nil
}

func (s *CleanupService) runPolicy(ctx context.Context, policy models.RetentionPolicy) models.CleanupResult {
	if policy.RetentionDays == models.RetentionForever {
		return models.CleanupResult{Table: policy.TableName, Skipped: true}
	}

	meta, ok := repository.TableMetaFor(policy.TableName)
	if !ok {
		s.logger.Sugar().Warnw("policy references unknown table", "table", policy.TableName)
		return models.CleanupResult{Table: policy.TableName, Skipped: true, Error: "unknown table"}
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -policy.RetentionDays)

	var deleted int64
	var err error
	switch meta.Name {
	case "data_export_requests":
		deleted, err = s.purgeExports(ctx, cutoff, policy.Criteria)
	case "data_deletion_requests":
		deleted, err = s.repo.DeleteDeletionRequests(ctx, cutoff, policy.Criteria)
	default:
		if meta.TimeColumn == "" {
			s.logger.Sugar().Warnw("table has no timestamp column, skipping age cleanup", "table", meta.Name)
			return models.CleanupResult{Table: meta.Name, Skipped: true}
		}
		deleted, err = s.repo.DeleteAgedRows(ctx, meta, cutoff, policy.Criteria)
	}

	if err != nil {
		s.logger.Sugar().Errorw("table cleanup failed", "table", meta.Name, "error", err)
		if s.metrics != nil {
			s.metrics.IncSweepFailure(meta.Name)
		}
		outcome := models.CleanupResult{Table: meta.Name, Error: err.Error()}
		s.writeTableAudit(ctx, outcome)
		return outcome
	}

	if s.touch != nil {
		if err := s.touch.TouchLastCleanup(ctx, meta.Name, time.Now().UTC()); err != nil {
			s.logger.Sugar().Warnw("failed to stamp last cleanup", "table", meta.Name, "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveSweptRows(meta.Name, deleted)
	}
	s.logger.Sugar().Infow("table cleanup done", "table", meta.Name, "deleted", deleted)
	outcome := models.CleanupResult{Table: meta.Name, Deleted: deleted}
	s.writeTableAudit(ctx, outcome)
	return outcome
}

// writeTableAudit records one entry per executed table with its deleted row
// count or error.
func (s *CleanupService) writeTableAudit(ctx context.Context, outcome models.CleanupResult) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		return
	}
	log := &models.AuditLog{
		Action:    models.AuditActionRetentionCleanup,
		Resource:  outcome.Table,
		NewValues: payload,
		IPAddress: "system",
		UserAgent: "retention-scheduler",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Sugar().Warnw("table cleanup audit write failed", "table", outcome.Table, "error", err)
	}
}

// purgeExports removes export artifacts from storage before deleting the
// rows that reference them. Artifact removal is best effort; a missing file
// never blocks the row purge.
func (s *CleanupService) purgeExports(ctx context.Context, cutoff time.Time, criteria models.RetentionCriteria) (int64, error) {
	now := time.Now().UTC()
	if s.storage != nil {
		purgeable, err := s.repo.ListPurgeableExports(ctx, now, cutoff)
		if err != nil {
			return 0, err
		}
		for _, row := range purgeable {
			if row.FilePath == nil || *row.FilePath == "" {
				continue
			}
			if err := s.storage.Delete(*row.FilePath); err != nil {
				s.logger.Sugar().Warnw("export artifact removal failed", "export_id", row.ID, "error", err)
			}
		}
	}
	return s.repo.DeleteExportRequests(ctx, now, cutoff, criteria)
}

func (s *CleanupService) writeSweepAudit(ctx context.Context, result *models.SweepResult) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	log := &models.AuditLog{
		Action:    models.AuditActionRetentionCleanup,
		Resource:  "retention_sweep",
		NewValues: payload,
		IPAddress: "system",
		UserAgent: "retention-scheduler",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Sugar().Warnw("sweep audit write failed", "error", err)
	}
}
