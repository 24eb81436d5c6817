package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vantage-crm/vantage-api/internal/dto"
	"github.com/vantage-crm/vantage-api/internal/models"
	"github.com/vantage-crm/vantage-api/internal/repository"
	appErrors "github.com/vantage-crm/vantage-api/pkg/errors"
)

type retentionPolicyStore interface {
	ListActive(ctx context.Context) ([]models.RetentionPolicy, error)
	GetByTable(ctx context.Context, table string) (*models.RetentionPolicy, error)
	Create(ctx context.Context, policy *models.RetentionPolicy) error
	Update(ctx context.Context, table string, params repository.UpdateRetentionPolicyParams) error
}

type auditSink interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditActor identifies who performed a privileged action, for the audit
// trail.
type AuditActor struct {
	UserID    string
	IPAddress string
	UserAgent string
}

// RetentionPolicyService manages per-table retention policies and serves the
// active set to the cleanup engine through an in-memory snapshot.
type RetentionPolicyService struct {
	repo      retentionPolicyStore
	audit     auditSink
	validator *validator.Validate
	logger    *zap.Logger

	mu       sync.RWMutex
	policies map[string]models.RetentionPolicy
}

// NewRetentionPolicyService constructs the service.
func NewRetentionPolicyService(repo retentionPolicyStore, audit auditSink, logger *zap.Logger) *RetentionPolicyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetentionPolicyService{
		repo:      repo,
		audit:     audit,
		validator: validator.New(),
		logger:    logger,
		policies:  map[string]models.RetentionPolicy{},
	}
}

// Reload replaces the in-memory snapshot with the active policies from the
// store. The previous snapshot stays in effect when loading fails.
func (s *RetentionPolicyService) Reload(ctx context.Context) error {
	policies, err := s.repo.ListActive(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load retention policies")
	}
	next := make(map[string]models.RetentionPolicy, len(policies))
	for _, policy := range policies {
		next[policy.TableName] = policy
	}
	s.mu.Lock()
	s.policies = next
	s.mu.Unlock()
	s.logger.Sugar().Infow("retention policies reloaded", "count", len(next))
	return nil
}

// ActivePolicies returns a copy of the current snapshot.
func (s *RetentionPolicyService) ActivePolicies() []models.RetentionPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policies := make([]models.RetentionPolicy, 0, len(s.policies))
	for _, policy := range s.policies {
		policies = append(policies, policy)
	}
	return policies
}

// PolicyFor returns the snapshot policy for one table.
func (s *RetentionPolicyService) PolicyFor(table string) (models.RetentionPolicy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	policy, ok := s.policies[table]
	return policy, ok
}

// List returns the cached active policies together with the governed table
// names. It never touches the store.
func (s *RetentionPolicyService) List(ctx context.Context) (*dto.RetentionPolicyListResponse, error) {
	policies := s.ActivePolicies()
	sort.Slice(policies, func(i, j int) bool { return policies[i].TableName < policies[j].TableName })
	return &dto.RetentionPolicyListResponse{
		Policies: policies,
		Tables:   repository.GovernedTableNames(),
	}, nil
}

// Get returns the cached policy for one governed table.
func (s *RetentionPolicyService) Get(table string) (*models.RetentionPolicy, error) {
	if _, ok := repository.TableMetaFor(table); !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown table "+table)
	}
	policy, ok := s.PolicyFor(table)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no retention policy for table "+table)
	}
	return &policy, nil
}

// Create validates and persists a new policy, refreshes the snapshot, and
// audits the change.
func (s *RetentionPolicyService) Create(ctx context.Context, req dto.CreateRetentionPolicyRequest, actor AuditActor) (*models.RetentionPolicy, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid policy payload")
	}
	if _, ok := repository.TableMetaFor(req.TableName); !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown table "+req.TableName)
	}
	if req.RetentionPeriodDays < models.RetentionForever || req.RetentionPeriodDays == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "retention_period_days must be positive or -1 for indefinite retention")
	}
	if err := repository.ValidateCriteria(req.RetentionCriteria); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid retention criteria")
	}

	if existing, err := s.repo.GetByTable(ctx, req.TableName); err == nil && existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an active retention policy already exists for "+req.TableName)
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing policy")
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	policy := &models.RetentionPolicy{
		TableName:     req.TableName,
		RetentionDays: req.RetentionPeriodDays,
		Criteria:      req.RetentionCriteria,
		AutoDelete:    req.AutoDelete,
		IsActive:      active,
	}
	if err := s.repo.Create(ctx, policy); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create retention policy")
	}

	if err := s.Reload(ctx); err != nil {
		s.logger.Sugar().Warnw("policy snapshot reload failed after create", "table", policy.TableName, "error", err)
	}
	s.writeAudit(ctx, actor, models.AuditActionPolicyCreate, policy.ID, nil, policy)
	return policy, nil
}

// Update applies partial changes to an existing policy, refreshes the
// snapshot, and audits the change.
func (s *RetentionPolicyService) Update(ctx context.Context, table string, req dto.UpdateRetentionPolicyRequest, actor AuditActor) (*models.RetentionPolicy, error) {
	if _, ok := repository.TableMetaFor(table); !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown table "+table)
	}
	if req.RetentionPeriodDays != nil && (*req.RetentionPeriodDays < models.RetentionForever || *req.RetentionPeriodDays == 0) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "retention_period_days must be positive or -1 for indefinite retention")
	}
	if req.RetentionCriteria != nil {
		if err := repository.ValidateCriteria(req.RetentionCriteria); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid retention criteria")
		}
	}

	before, err := s.repo.GetByTable(ctx, table)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active retention policy for "+table)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load retention policy")
	}

	params := repository.UpdateRetentionPolicyParams{
		RetentionDays: req.RetentionPeriodDays,
		AutoDelete:    req.AutoDelete,
		IsActive:      req.IsActive,
	}
	if req.RetentionCriteria != nil {
		params.Criteria = &req.RetentionCriteria
	}
	if err := s.repo.Update(ctx, table, params); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update retention policy")
	}

	after, err := s.repo.GetByTable(ctx, table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload retention policy")
	}

	if err := s.Reload(ctx); err != nil {
		s.logger.Sugar().Warnw("policy snapshot reload failed after update", "table", table, "error", err)
	}
	s.writeAudit(ctx, actor, models.AuditActionPolicyUpdate, after.ID, before, after)
	return after, nil
}

func (s *RetentionPolicyService) writeAudit(ctx context.Context, actor AuditActor, action, resourceID string, before, after interface{}) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   "retention_policy",
		ResourceID: &resourceID,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
	}
	if actor.UserID != "" {
		log.UserID = &actor.UserID
	}
	if before != nil {
		if raw, err := json.Marshal(before); err == nil {
			log.OldValues = raw
		}
	}
	if after != nil {
		if raw, err := json.Marshal(after); err == nil {
			log.NewValues = raw
		}
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Sugar().Warnw("audit write failed", "action", action, "error", err)
	}
}
