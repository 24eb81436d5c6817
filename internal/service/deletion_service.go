package service

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantage-crm/vantage-api/internal/dto"
	"github.com/vantage-crm/vantage-api/internal/models"
	"github.com/vantage-crm/vantage-api/internal/repository"
	appErrors "github.com/vantage-crm/vantage-api/pkg/errors"
)

type deletionStore interface {
	Create(ctx context.Context, req *models.DeletionRequest) error
	GetByID(ctx context.Context, id string) (*models.DeletionRequest, error)
	MarkVerified(ctx context.Context, id string, ts time.Time) error
	Finish(ctx context.Context, id string, status models.DeletionStatus, notes string, ts time.Time) error
}

type subjectResolver interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type subjectDestroyer interface {
	FullDelete(ctx context.Context, userID string, scrub repository.ScrubValues) ([]repository.CascadeOutcome, error)
	ScopedDelete(ctx context.Context, meta repository.TableMeta, userID string, criteria models.RetentionCriteria) (int64, error)
	Anonymize(ctx context.Context, userID, email, firstName, lastName string) error
}

type statusInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

type deletionObserver interface {
	IncDeletionRequest(requestType string)
}

// DeletionServiceConfig carries the knobs for the deletion workflow.
type DeletionServiceConfig struct {
	BaseURL string
}

// DeletionService runs the verified deletion workflow: request intake,
// token verification, and synchronous execution of the requested erasure.
type DeletionService struct {
	repo      deletionStore
	users     subjectResolver
	destroyer subjectDestroyer
	cache     statusInvalidator
	audit     auditSink
	metrics   deletionObserver
	validator *validator.Validate
	logger    *zap.Logger
	cfg       DeletionServiceConfig
}

// NewDeletionService constructs the deletion workflow service.
func NewDeletionService(repo deletionStore, users subjectResolver, destroyer subjectDestroyer, cache statusInvalidator, audit auditSink, metrics deletionObserver, logger *zap.Logger, cfg DeletionServiceConfig) *DeletionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeletionService{
		repo:      repo,
		users:     users,
		destroyer: destroyer,
		cache:     cache,
		audit:     audit,
		metrics:   metrics,
		validator: validator.New(),
		logger:    logger,
		cfg:       cfg,
	}
}

// VerificationURL builds the link the subject follows to confirm a request.
// It is delivered out of band; the token never appears in status responses.
func (s *DeletionService) VerificationURL(record *models.DeletionRequest) string {
	return s.cfg.BaseURL + "/api/v1/privacy/deletions/" + record.ID + "/verify?token=" + record.VerificationToken
}

// Create records a deletion request pending verification. The subject is
// resolved by id or email, whichever the request carries.
func (s *DeletionService) Create(ctx context.Context, req dto.CreateDeletionRequest, actor AuditActor) (*models.DeletionRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid deletion payload")
	}
	if req.UserID == "" && req.Email == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user_id or email is required")
	}

	deletionType := models.DeletionType(req.RequestType)
	if deletionType == models.DeletionTypePartial {
		if len(req.SpecificData) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "partial deletion requires specific_data")
		}
		for table, criteria := range req.SpecificData {
			if _, ok := repository.TableMetaFor(table); !ok {
				return nil, appErrors.Clone(appErrors.ErrValidation, "unknown table "+table)
			}
			if err := repository.ValidateCriteria(criteria); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid deletion criteria")
			}
		}
	}

	user, err := s.resolveSubject(ctx, req.UserID, req.Email)
	if err != nil {
		return nil, err
	}
	if user.ComplianceStatus == models.ComplianceStatusDeleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject data has already been deleted")
	}

	record := &models.DeletionRequest{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		Email:             user.Email,
		Type:              deletionType,
		Scope:             req.SpecificData,
		VerificationToken: newVerificationToken(),
	}
	if req.Reason != "" {
		record.Reason = &req.Reason
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create deletion request")
	}

	s.writeAudit(ctx, actor, models.AuditActionDeletionRequest, record, "")
	if s.metrics != nil {
		s.metrics.IncDeletionRequest(string(deletionType))
	}
	s.logger.Sugar().Infow("deletion request recorded", "request_id", record.ID, "type", record.Type)
	return record, nil
}

// Verify checks the verification token and, on success, executes the
// requested erasure synchronously. A request verifies exactly once.
func (s *DeletionService) Verify(ctx context.Context, id, token string, actor AuditActor) (*dto.DeletionResultResponse, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load deletion request")
	}

	if subtle.ConstantTimeCompare([]byte(record.VerificationToken), []byte(token)) != 1 {
		return nil, appErrors.ErrInvalidToken
	}

	now := time.Now().UTC()
	if err := s.repo.MarkVerified(ctx, id, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "deletion request already verified")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify deletion request")
	}
	s.writeAudit(ctx, actor, models.AuditActionDeletionVerify, record, "")

	notes, execErr := s.execute(ctx, record)
	status := models.DeletionStatusCompleted
	if execErr != nil {
		status = models.DeletionStatusFailed
		notes = execErr.Error()
	}
	processed := time.Now().UTC()
	if err := s.repo.Finish(ctx, id, status, notes, processed); err != nil {
		s.logger.Sugar().Errorw("failed to finalize deletion request", "request_id", id, "error", err)
	}
	s.writeAudit(ctx, actor, models.AuditActionDeletionExecute, record, notes)
	if s.cache != nil {
		s.cache.Invalidate(ctx, record.UserID)
	}

	if execErr != nil {
		s.logger.Sugar().Errorw("deletion execution failed", "request_id", id, "error", execErr)
		return nil, appErrors.Wrap(execErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "deletion execution failed")
	}

	return &dto.DeletionResultResponse{
		ID:              record.ID,
		Status:          string(status),
		ProcessedAt:     &processed,
		CompletionNotes: &notes,
	}, nil
}

// GetStatus exposes one deletion request's state to its owner.
func (s *DeletionService) GetStatus(ctx context.Context, id, actorID string, role models.UserRole) (*dto.DeletionResultResponse, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load deletion request")
	}
	if role != models.RoleAdmin && record.UserID != actorID {
		return nil, appErrors.ErrForbidden
	}
	return &dto.DeletionResultResponse{
		ID:              record.ID,
		Status:          string(record.Status),
		ProcessedAt:     record.ProcessedAt,
		CompletionNotes: record.CompletionNotes,
	}, nil
}

func (s *DeletionService) execute(ctx context.Context, record *models.DeletionRequest) (string, error) {
	switch record.Type {
	case models.DeletionTypeFull:
		return s.executeFull(ctx, record)
	case models.DeletionTypePartial:
		return s.executePartial(ctx, record)
	case models.DeletionTypeAnonymize:
		// Randomized so anonymized identities cannot be correlated by address.
		email := fmt.Sprintf("anonymous_%s@anonymized.local", newVerificationToken()[:16])
		if err := s.destroyer.Anonymize(ctx, record.UserID, email, "Anonymous", "User"); err != nil {
			return "", err
		}
		return "identity record anonymized", nil
	default:
		return "", fmt.Errorf("unsupported deletion type %q", record.Type)
	}
}

func (s *DeletionService) executeFull(ctx context.Context, record *models.DeletionRequest) (string, error) {
	scrub := repository.ScrubValues{
		Email:        fmt.Sprintf("deleted-%s@removed.invalid", record.UserID),
		FirstName:    "Deleted",
		LastName:     "User",
		PasswordHash: "!",
		Status:       models.ComplianceStatusDeleted,
	}
	outcomes, err := s.destroyer.FullDelete(ctx, record.UserID, scrub)
	if err != nil {
		return "", err
	}

	var total int64
	var failed []string
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", outcome.Table, outcome.Err))
			continue
		}
		total += outcome.Deleted
	}
	notes := fmt.Sprintf("deleted %d rows across %d tables, identity scrubbed", total, len(outcomes)-len(failed))
	if len(failed) > 0 {
		notes += "; failures: " + strings.Join(failed, ", ")
	}
	return notes, nil
}

func (s *DeletionService) executePartial(ctx context.Context, record *models.DeletionRequest) (string, error) {
	tables := make([]string, 0, len(record.Scope))
	for table := range record.Scope {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	var parts []string
	var total int64
	for _, table := range tables {
		meta, ok := repository.TableMetaFor(table)
		if !ok {
			return "", fmt.Errorf("unknown table %q in deletion scope", table)
		}
		deleted, err := s.destroyer.ScopedDelete(ctx, meta, record.UserID, record.Scope[table])
		if err != nil {
			return "", err
		}
		total += deleted
		parts = append(parts, fmt.Sprintf("%s: %d", table, deleted))
	}
	return fmt.Sprintf("deleted %d rows (%s)", total, strings.Join(parts, ", ")), nil
}

func (s *DeletionService) resolveSubject(ctx context.Context, userID, email string) (*models.User, error) {
	var (
		user *models.User
		err  error
	)
	if userID != "" {
		user, err = s.users.FindByID(ctx, userID)
	} else {
		user, err = s.users.FindByEmail(ctx, email)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve subject")
	}
	return user, nil
}

func (s *DeletionService) writeAudit(ctx context.Context, actor AuditActor, action string, record *models.DeletionRequest, notes string) {
	if s.audit == nil {
		return
	}
	resourceID := record.ID
	log := &models.AuditLog{
		Action:     action,
		Resource:   "data_deletion_request",
		ResourceID: &resourceID,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
	}
	if actor.UserID != "" {
		log.UserID = &actor.UserID
	}
	if notes != "" {
		log.NewValues = []byte(fmt.Sprintf(`{"notes":%q}`, notes))
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Sugar().Warnw("deletion audit write failed", "action", action, "error", err)
	}
}
