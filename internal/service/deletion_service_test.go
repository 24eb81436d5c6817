package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-crm/vantage-api/internal/dto"
	"github.com/vantage-crm/vantage-api/internal/models"
	"github.com/vantage-crm/vantage-api/internal/repository"
	appErrors "github.com/vantage-crm/vantage-api/pkg/errors"
)

type deletionStoreStub struct {
	requests map[string]*models.DeletionRequest
}

func newDeletionStoreStub() *deletionStoreStub {
	return &deletionStoreStub{requests: map[string]*models.DeletionRequest{}}
}

func (s *deletionStoreStub) Create(ctx context.Context, req *models.DeletionRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.DeletionStatusPendingVerification
	}
	s.requests[req.ID] = req
	return nil
}

func (s *deletionStoreStub) GetByID(ctx context.Context, id string) (*models.DeletionRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return req, nil
}

func (s *deletionStoreStub) MarkVerified(ctx context.Context, id string, ts time.Time) error {
	req, ok := s.requests[id]
	if !ok {
		return sql.ErrNoRows
	}
	if req.VerifiedAt != nil {
		return sql.ErrNoRows
	}
	req.VerifiedAt = &ts
	req.Status = models.DeletionStatusInProgress
	return nil
}

func (s *deletionStoreStub) Finish(ctx context.Context, id string, status models.DeletionStatus, notes string, ts time.Time) error {
	req, ok := s.requests[id]
	if !ok {
		return sql.ErrNoRows
	}
	req.Status = status
	req.CompletionNotes = &notes
	req.ProcessedAt = &ts
	return nil
}

type destroyerStub struct {
	fullCalls    []string
	scopedCalls  map[string]models.RetentionCriteria
	anonCalls    []string
	fullOutcomes []repository.CascadeOutcome
	fullErr      error
	scopedErr    error
}

func newDestroyerStub() *destroyerStub {
	return &destroyerStub{scopedCalls: map[string]models.RetentionCriteria{}}
}

func (s *destroyerStub) FullDelete(ctx context.Context, userID string, scrub repository.ScrubValues) ([]repository.CascadeOutcome, error) {
	s.fullCalls = append(s.fullCalls, userID)
	if s.fullErr != nil {
		return nil, s.fullErr
	}
	return s.fullOutcomes, nil
}

func (s *destroyerStub) ScopedDelete(ctx context.Context, meta repository.TableMeta, userID string, criteria models.RetentionCriteria) (int64, error) {
	if s.scopedErr != nil {
		return 0, s.scopedErr
	}
	s.scopedCalls[meta.Name] = criteria
	return 2, nil
}

func (s *destroyerStub) Anonymize(ctx context.Context, userID, email, firstName, lastName string) error {
	s.anonCalls = append(s.anonCalls, userID)
	return nil
}

type invalidatorStub struct {
	invalidated []string
}

func (s *invalidatorStub) Invalidate(ctx context.Context, userID string) {
	s.invalidated = append(s.invalidated, userID)
}

func newTestDeletionService(store *deletionStoreStub, users *subjectReaderStub, destroyer *destroyerStub, cache *invalidatorStub) *DeletionService {
	// Avoid wrapping a typed nil in the interface so the service's nil check works.
	var invalidator statusInvalidator
	if cache != nil {
		invalidator = cache
	}
	return NewDeletionService(store, users, destroyer, invalidator, &auditSinkStub{}, nil, nil, DeletionServiceConfig{BaseURL: "http://localhost:8080"})
}

func TestDeletionServiceCreateResolvesByEmail(t *testing.T) {
	store := newDeletionStoreStub()
	users := newSubjectReaderStub()
	users.users["user-1"] = testSubject()
	svc := newTestDeletionService(store, users, newDestroyerStub(), nil)

	record, err := svc.Create(context.Background(), dto.CreateDeletionRequest{
		Email:       "jane@example.com",
		RequestType: "full",
	}, AuditActor{})
	require.NoError(t, err)
	assert.Equal(t, "user-1", record.UserID)
	assert.Equal(t, models.DeletionStatusPendingVerification, record.Status)
	assert.NotEmpty(t, record.VerificationToken)
}

func TestDeletionServiceCreatePartialRequiresScope(t *testing.T) {
	users := newSubjectReaderStub()
	users.users["user-1"] = testSubject()
	svc := newTestDeletionService(newDeletionStoreStub(), users, newDestroyerStub(), nil)

	_, err := svc.Create(context.Background(), dto.CreateDeletionRequest{
		UserID:      "user-1",
		RequestType: "partial",
	}, AuditActor{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDeletionServiceCreateUnknownSubject(t *testing.T) {
	svc := newTestDeletionService(newDeletionStoreStub(), newSubjectReaderStub(), newDestroyerStub(), nil)

	_, err := svc.Create(context.Background(), dto.CreateDeletionRequest{UserID: "ghost", RequestType: "full"}, AuditActor{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestDeletionServiceVerifyWrongToken(t *testing.T) {
	store := newDeletionStoreStub()
	store.requests["del-1"] = &models.DeletionRequest{
		ID:                "del-1",
		UserID:            "user-1",
		Type:              models.DeletionTypeFull,
		VerificationToken: "real-token",
		Status:            models.DeletionStatusPendingVerification,
	}
	svc := newTestDeletionService(store, newSubjectReaderStub(), newDestroyerStub(), nil)

	_, err := svc.Verify(context.Background(), "del-1", "forged-token", AuditActor{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
}

func TestDeletionServiceVerifyExactlyOnce(t *testing.T) {
	store := newDeletionStoreStub()
	destroyer := newDestroyerStub()
	destroyer.fullOutcomes = []repository.CascadeOutcome{{Table: "leads", Deleted: 3}}
	store.requests["del-1"] = &models.DeletionRequest{
		ID:                "del-1",
		UserID:            "user-1",
		Type:              models.DeletionTypeFull,
		VerificationToken: "token",
		Status:            models.DeletionStatusPendingVerification,
	}
	cache := &invalidatorStub{}
	svc := newTestDeletionService(store, newSubjectReaderStub(), destroyer, cache)

	resp, err := svc.Verify(context.Background(), "del-1", "token", AuditActor{})
	require.NoError(t, err)
	assert.Equal(t, string(models.DeletionStatusCompleted), resp.Status)
	require.Len(t, destroyer.fullCalls, 1)
	assert.Equal(t, []string{"user-1"}, cache.invalidated)

	_, err = svc.Verify(context.Background(), "del-1", "token", AuditActor{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Len(t, destroyer.fullCalls, 1)
}

func TestDeletionServiceFullDeletionNotes(t *testing.T) {
	store := newDeletionStoreStub()
	destroyer := newDestroyerStub()
	destroyer.fullOutcomes = []repository.CascadeOutcome{
		{Table: "leads", Deleted: 5},
		{Table: "notes", Deleted: 2},
		{Table: "tasks", Err: errors.New("restrict violation")},
	}
	store.requests["del-1"] = &models.DeletionRequest{
		ID:                "del-1",
		UserID:            "user-1",
		Type:              models.DeletionTypeFull,
		VerificationToken: "token",
		Status:            models.DeletionStatusPendingVerification,
	}
	svc := newTestDeletionService(store, newSubjectReaderStub(), destroyer, nil)

	resp, err := svc.Verify(context.Background(), "del-1", "token", AuditActor{})
	require.NoError(t, err)
	require.NotNil(t, resp.CompletionNotes)
	assert.Contains(t, *resp.CompletionNotes, "deleted 7 rows")
	assert.Contains(t, *resp.CompletionNotes, "tasks: restrict violation")
}

func TestDeletionServicePartialDeletion(t *testing.T) {
	store := newDeletionStoreStub()
	destroyer := newDestroyerStub()
	store.requests["del-1"] = &models.DeletionRequest{
		ID:                "del-1",
		UserID:            "user-1",
		Type:              models.DeletionTypePartial,
		Scope:             models.DeletionScope{"notes": {"category": "personal"}},
		VerificationToken: "token",
		Status:            models.DeletionStatusPendingVerification,
	}
	svc := newTestDeletionService(store, newSubjectReaderStub(), destroyer, nil)

	resp, err := svc.Verify(context.Background(), "del-1", "token", AuditActor{})
	require.NoError(t, err)
	assert.Equal(t, string(models.DeletionStatusCompleted), resp.Status)
	require.Contains(t, destroyer.scopedCalls, "notes")
	assert.Empty(t, destroyer.fullCalls)
}

func TestDeletionServiceAnonymize(t *testing.T) {
	store := newDeletionStoreStub()
	destroyer := newDestroyerStub()
	store.requests["del-1"] = &models.DeletionRequest{
		ID:                "del-1",
		UserID:            "user-1",
		Type:              models.DeletionTypeAnonymize,
		VerificationToken: "token",
		Status:            models.DeletionStatusPendingVerification,
	}
	svc := newTestDeletionService(store, newSubjectReaderStub(), destroyer, nil)

	resp, err := svc.Verify(context.Background(), "del-1", "token", AuditActor{})
	require.NoError(t, err)
	assert.Equal(t, string(models.DeletionStatusCompleted), resp.Status)
	assert.Equal(t, []string{"user-1"}, destroyer.anonCalls)
}

func TestDeletionServiceExecutionFailureMarksFailed(t *testing.T) {
	store := newDeletionStoreStub()
	destroyer := newDestroyerStub()
	destroyer.fullErr = errors.New("scrub failed")
	store.requests["del-1"] = &models.DeletionRequest{
		ID:                "del-1",
		UserID:            "user-1",
		Type:              models.DeletionTypeFull,
		VerificationToken: "token",
		Status:            models.DeletionStatusPendingVerification,
	}
	svc := newTestDeletionService(store, newSubjectReaderStub(), destroyer, nil)

	_, err := svc.Verify(context.Background(), "del-1", "token", AuditActor{})
	require.Error(t, err)
	assert.Equal(t, models.DeletionStatusFailed, store.requests["del-1"].Status)
}

func TestDeletionServiceGetStatusOwnership(t *testing.T) {
	store := newDeletionStoreStub()
	store.requests["del-1"] = &models.DeletionRequest{ID: "del-1", UserID: "user-1", Status: models.DeletionStatusCompleted}
	svc := newTestDeletionService(store, newSubjectReaderStub(), newDestroyerStub(), nil)

	_, err := svc.GetStatus(context.Background(), "del-1", "user-2", models.RoleAgent)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	resp, err := svc.GetStatus(context.Background(), "del-1", "user-1", models.RoleAgent)
	require.NoError(t, err)
	assert.Equal(t, string(models.DeletionStatusCompleted), resp.Status)
}
