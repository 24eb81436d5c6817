package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vantage-crm/vantage-api/internal/dto"
	"github.com/vantage-crm/vantage-api/internal/models"
	appErrors "github.com/vantage-crm/vantage-api/pkg/errors"
)

type requestCounter interface {
	CountByUser(ctx context.Context, userID string) (open, total int, err error)
}

type statusCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ComplianceService aggregates one subject's privacy state, cached briefly
// so the status endpoint does not fan out on every poll.
type ComplianceService struct {
	users     subjectReader
	exports   requestCounter
	deletions requestCounter
	cache     statusCache
	ttl       time.Duration
	logger    *zap.Logger
}

// NewComplianceService constructs the service.
func NewComplianceService(users subjectReader, exports, deletions requestCounter, cache statusCache, ttl time.Duration, logger *zap.Logger) *ComplianceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ComplianceService{
		users:     users,
		exports:   exports,
		deletions: deletions,
		cache:     cache,
		ttl:       ttl,
		logger:    logger,
	}
}

func complianceCacheKey(userID string) string {
	return "compliance:status:" + userID
}

// GetStatus returns the subject's aggregated compliance state, serving from
// cache when fresh.
func (s *ComplianceService) GetStatus(ctx context.Context, userID string) (*dto.ComplianceStatusResponse, error) {
	if s.cache != nil {
		var cached dto.ComplianceStatusResponse
		if err := s.cache.Get(ctx, complianceCacheKey(userID), &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Sugar().Warnw("compliance cache read failed", "user_id", userID, "error", err)
		}
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}

	exportOpen, exportTotal, err := s.exports.CountByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count export requests")
	}
	deletionOpen, deletionTotal, err := s.deletions.CountByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count deletion requests")
	}
	consents, err := s.users.ListConsents(ctx, userID)
	if err != nil {
		s.logger.Sugar().Warnw("consents unavailable for compliance status", "user_id", userID, "error", err)
		consents = []models.Consent{}
	}

	resp := &dto.ComplianceStatusResponse{
		UserID:              user.ID,
		ComplianceStatus:    string(user.ComplianceStatus),
		ComplianceUpdatedAt: user.ComplianceUpdatedAt,
		Exports:             dto.RequestCounts{Open: exportOpen, Total: exportTotal},
		Deletions:           dto.RequestCounts{Open: deletionOpen, Total: deletionTotal},
		Consents:            consents,
		RetrievedAt:         time.Now().UTC(),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, complianceCacheKey(userID), resp, s.ttl); err != nil {
			s.logger.Sugar().Warnw("compliance cache write failed", "user_id", userID, "error", err)
		}
	}
	return resp, nil
}

// Invalidate drops the cached status after a state-changing operation.
func (s *ComplianceService) Invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, complianceCacheKey(userID)); err != nil {
		s.logger.Sugar().Warnw("compliance cache invalidation failed", "user_id", userID, "error", err)
	}
}
