package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/vantage-crm/vantage-api/internal/models"
	"github.com/vantage-crm/vantage-api/internal/repository"
	appErrors "github.com/vantage-crm/vantage-api/pkg/errors"
	"github.com/vantage-crm/vantage-api/pkg/export"
)

type subjectReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ListConsents(ctx context.Context, userID string) ([]models.Consent, error)
}

type rowCollector interface {
	CollectRows(ctx context.Context, meta repository.TableMeta, userID string) ([]map[string]interface{}, error)
}

// sensitiveFields never leave the system in an export, regardless of which
// table carries them.
var sensitiveFields = map[string]struct{}{
	"password_hash":      {},
	"verification_token": {},
	"session_id":         {},
	"refresh_token":      {},
}

// CollectorService assembles one subject's data into an export bundle. The
// profile section is mandatory; any other section that fails to load is
// omitted rather than failing the whole export.
type CollectorService struct {
	users  subjectReader
	rows   rowCollector
	logger *zap.Logger
}

// NewCollectorService constructs the collector.
func NewCollectorService(users subjectReader, rows rowCollector, logger *zap.Logger) *CollectorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollectorService{users: users, rows: rows, logger: logger}
}

// Collect gathers the subject's sections. An empty table list selects every
// activity table; otherwise only the named tables contribute sections.
func (s *CollectorService) Collect(ctx context.Context, userID string, tables []string) (export.Bundle, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject profile")
	}

	bundle := export.Bundle{
		"profile": map[string]interface{}{
			"id":         user.ID,
			"email":      user.Email,
			"first_name": user.FirstName,
			"last_name":  user.LastName,
			"company":    user.Company,
			"role":       string(user.Role),
			"created_at": user.CreatedAt,
		},
	}

	if consents, err := s.users.ListConsents(ctx, userID); err != nil {
		s.logger.Sugar().Warnw("consents section skipped", "user_id", userID, "error", err)
	} else {
		items := make([]map[string]interface{}, 0, len(consents))
		for _, consent := range consents {
			items = append(items, map[string]interface{}{
				"consent_type": consent.ConsentType,
				"granted":      consent.Granted,
				"granted_at":   consent.GrantedAt,
				"revoked_at":   consent.RevokedAt,
			})
		}
		bundle["consents"] = items
	}

	if meta, ok := repository.TableMetaFor("privacy_preferences"); ok {
		if records, err := s.rows.CollectRows(ctx, meta, userID); err != nil {
			s.logger.Sugar().Warnw("privacy preferences section skipped", "user_id", userID, "error", err)
		} else if len(records) > 0 {
			bundle["privacy_preferences"] = sanitizeRecords(records)
		}
	}

	wanted := map[string]bool{}
	for _, table := range tables {
		wanted[table] = true
	}
	for _, meta := range repository.ActivityTables() {
		if len(wanted) > 0 && !wanted[meta.Name] {
			continue
		}
		records, err := s.rows.CollectRows(ctx, meta, userID)
		if err != nil {
			s.logger.Sugar().Warnw("activity section skipped", "table", meta.Name, "user_id", userID, "error", err)
			continue
		}
		if len(records) == 0 {
			continue
		}
		bundle[meta.Name] = sanitizeRecords(records)
	}

	return bundle, nil
}

func sanitizeRecords(records []map[string]interface{}) []map[string]interface{} {
	for _, record := range records {
		for field := range sensitiveFields {
			delete(record, field)
		}
	}
	return records
}
