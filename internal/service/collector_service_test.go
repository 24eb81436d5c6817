package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-crm/vantage-api/internal/models"
	"github.com/vantage-crm/vantage-api/internal/repository"
)

type subjectReaderStub struct {
	users       map[string]*models.User
	consents    map[string][]models.Consent
	consentsErr error
}

func newSubjectReaderStub() *subjectReaderStub {
	return &subjectReaderStub{users: map[string]*models.User{}, consents: map[string][]models.Consent{}}
}

func (s *subjectReaderStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (s *subjectReaderStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *subjectReaderStub) ListConsents(ctx context.Context, userID string) ([]models.Consent, error) {
	if s.consentsErr != nil {
		return nil, s.consentsErr
	}
	return s.consents[userID], nil
}

type rowCollectorStub struct {
	rows map[string][]map[string]interface{}
	errs map[string]error
}

func newRowCollectorStub() *rowCollectorStub {
	return &rowCollectorStub{rows: map[string][]map[string]interface{}{}, errs: map[string]error{}}
}

func (s *rowCollectorStub) CollectRows(ctx context.Context, meta repository.TableMeta, userID string) ([]map[string]interface{}, error) {
	if err := s.errs[meta.Name]; err != nil {
		return nil, err
	}
	return s.rows[meta.Name], nil
}

func testSubject() *models.User {
	return &models.User{
		ID:               "user-1",
		Email:            "jane@example.com",
		FirstName:        "Jane",
		LastName:         "Doe",
		Role:             models.RoleAgent,
		Active:           true,
		ComplianceStatus: models.ComplianceStatusActive,
		CreatedAt:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCollectorServiceCollect(t *testing.T) {
	users := newSubjectReaderStub()
	users.users["user-1"] = testSubject()
	users.consents["user-1"] = []models.Consent{{ConsentType: "marketing", Granted: true}}
	rows := newRowCollectorStub()
	rows.rows["leads"] = []map[string]interface{}{{"id": "lead-1", "status": "open"}}
	rows.rows["notes"] = []map[string]interface{}{{"id": "note-1", "title": "call"}}

	svc := NewCollectorService(users, rows, nil)
	bundle, err := svc.Collect(context.Background(), "user-1", nil)
	require.NoError(t, err)

	profile, ok := bundle["profile"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "jane@example.com", profile["email"])
	assert.Contains(t, bundle, "consents")
	assert.Contains(t, bundle, "leads")
	assert.Contains(t, bundle, "notes")
	assert.NotContains(t, bundle, "campaigns")
}

func TestCollectorServiceTableFilter(t *testing.T) {
	users := newSubjectReaderStub()
	users.users["user-1"] = testSubject()
	rows := newRowCollectorStub()
	rows.rows["leads"] = []map[string]interface{}{{"id": "lead-1"}}
	rows.rows["notes"] = []map[string]interface{}{{"id": "note-1"}}

	svc := NewCollectorService(users, rows, nil)
	bundle, err := svc.Collect(context.Background(), "user-1", []string{"leads"})
	require.NoError(t, err)
	assert.Contains(t, bundle, "leads")
	assert.NotContains(t, bundle, "notes")
}

func TestCollectorServiceStripsSensitiveFields(t *testing.T) {
	users := newSubjectReaderStub()
	users.users["user-1"] = testSubject()
	rows := newRowCollectorStub()
	rows.rows["leads"] = []map[string]interface{}{{
		"id":                 "lead-1",
		"password_hash":      "secret",
		"verification_token": "tok",
		"session_id":         "sess",
	}}

	svc := NewCollectorService(users, rows, nil)
	bundle, err := svc.Collect(context.Background(), "user-1", nil)
	require.NoError(t, err)

	leads, ok := bundle["leads"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, leads, 1)
	assert.NotContains(t, leads[0], "password_hash")
	assert.NotContains(t, leads[0], "verification_token")
	assert.NotContains(t, leads[0], "session_id")
	assert.Contains(t, leads[0], "id")
}

func TestCollectorServiceOmitsFailedSections(t *testing.T) {
	users := newSubjectReaderStub()
	users.users["user-1"] = testSubject()
	users.consentsErr = errors.New("consents unavailable")
	rows := newRowCollectorStub()
	rows.errs["leads"] = errors.New("leads unavailable")
	rows.rows["notes"] = []map[string]interface{}{{"id": "note-1"}}

	svc := NewCollectorService(users, rows, nil)
	bundle, err := svc.Collect(context.Background(), "user-1", nil)
	require.NoError(t, err)
	assert.NotContains(t, bundle, "consents")
	assert.NotContains(t, bundle, "leads")
	assert.Contains(t, bundle, "notes")
	assert.Contains(t, bundle, "profile")
}

func TestCollectorServiceMissingSubject(t *testing.T) {
	svc := NewCollectorService(newSubjectReaderStub(), newRowCollectorStub(), nil)

	_, err := svc.Collect(context.Background(), "ghost", nil)
	require.Error(t, err)
}
