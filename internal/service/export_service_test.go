package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-crm/vantage-api/internal/dto"
	"github.com/vantage-crm/vantage-api/internal/models"
	"github.com/vantage-crm/vantage-api/internal/repository"
	appErrors "github.com/vantage-crm/vantage-api/pkg/errors"
	"github.com/vantage-crm/vantage-api/pkg/export"
	"github.com/vantage-crm/vantage-api/pkg/jobs"
	"github.com/vantage-crm/vantage-api/pkg/storage"
)

type exportStoreStub struct {
	requests map[string]*models.ExportRequest
}

func newExportStoreStub() *exportStoreStub {
	return &exportStoreStub{requests: map[string]*models.ExportRequest{}}
}

func (s *exportStoreStub) Create(ctx context.Context, req *models.ExportRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.ExportStatusPending
	}
	s.requests[req.ID] = req
	return nil
}

func (s *exportStoreStub) GetByID(ctx context.Context, id string) (*models.ExportRequest, error) {
	req, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return req, nil
}

func (s *exportStoreStub) Update(ctx context.Context, id string, params repository.UpdateExportRequestParams) error {
	req, ok := s.requests[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		req.Status = *params.Status
	}
	if params.FilePath != nil {
		req.FilePath = params.FilePath
	}
	if params.FileSize != nil {
		req.FileSize = params.FileSize
	}
	if params.ErrorMessage != nil {
		req.ErrorMessage = params.ErrorMessage
	}
	if params.CompletedAt != nil {
		req.CompletedAt = params.CompletedAt
	}
	return nil
}

func (s *exportStoreStub) ListPending(ctx context.Context, limit int) ([]models.ExportRequest, error) {
	var pending []models.ExportRequest
	for _, req := range s.requests {
		if req.Status == models.ExportStatusPending {
			pending = append(pending, *req)
		}
	}
	return pending, nil
}

func (s *exportStoreStub) CountByUser(ctx context.Context, userID string) (open, total int, err error) {
	for _, req := range s.requests {
		if req.UserID != userID {
			continue
		}
		total++
		if req.Status == models.ExportStatusPending || req.Status == models.ExportStatusProcessing {
			open++
		}
	}
	return open, total, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *queueStub) Depth() int { return len(q.jobs) }

type collectorStub struct {
	bundle export.Bundle
	err    error
}

func (c *collectorStub) Collect(ctx context.Context, userID string, tables []string) (export.Bundle, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.bundle, nil
}

func newTestExportService(t *testing.T, store *exportStoreStub, users *subjectReaderStub, collector *collectorStub, queue *queueStub) *ExportService {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	return NewExportService(store, users, collector, local, signer, queue, &auditSinkStub{}, nil, nil, ExportServiceConfig{Validity: 168 * time.Hour})
}

func TestExportServiceCreateEstimatesFromQueueDepth(t *testing.T) {
	users := newSubjectReaderStub()
	users.users["user-1"] = testSubject()
	queue := &queueStub{jobs: []jobs.Job{{ID: "queued-1"}, {ID: "queued-2"}}}
	svc := newTestExportService(t, newExportStoreStub(), users, &collectorStub{}, queue)

	resp, err := svc.Create(context.Background(), dto.CreateExportRequest{
		UserID: "user-1",
		Format: "json",
	}, AuditActor{UserID: "user-1"})
	require.NoError(t, err)

	// Two jobs already buffered plus this one, at 30s each.
	assert.True(t, resp.EstimatedCompletion.After(time.Now().UTC().Add(time.Minute)))
	assert.True(t, resp.EstimatedCompletion.Before(time.Now().UTC().Add(3*time.Minute)))
}

func TestExportServiceCreate(t *testing.T) {
	store := newExportStoreStub()
	users := newSubjectReaderStub()
	users.users["user-1"] = testSubject()
	queue := &queueStub{}
	svc := newTestExportService(t, store, users, &collectorStub{}, queue)

	resp, err := svc.Create(context.Background(), dto.CreateExportRequest{
		UserID: "user-1",
		Format: "json",
	}, AuditActor{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, string(models.ExportStatusPending), resp.Status)
	assert.NotEmpty(t, resp.DownloadURL)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, JobTypePrivacyExport, queue.jobs[0].Type)
	assert.Equal(t, resp.ID, queue.jobs[0].ID)
}

func TestExportServiceCreateUnsupportedFormat(t *testing.T) {
	svc := newTestExportService(t, newExportStoreStub(), newSubjectReaderStub(), &collectorStub{}, &queueStub{})

	_, err := svc.Create(context.Background(), dto.CreateExportRequest{UserID: "user-1", Format: "pdf"}, AuditActor{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnsupportedFormat.Code, appErrors.FromError(err).Code)
}

func TestExportServiceCreateUnknownTable(t *testing.T) {
	users := newSubjectReaderStub()
	users.users["user-1"] = testSubject()
	svc := newTestExportService(t, newExportStoreStub(), users, &collectorStub{}, &queueStub{})

	_, err := svc.Create(context.Background(), dto.CreateExportRequest{
		UserID: "user-1",
		Format: "json",
		Tables: []string{"secrets"},
	}, AuditActor{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportServiceCreateDeletedSubject(t *testing.T) {
	users := newSubjectReaderStub()
	subject := testSubject()
	subject.ComplianceStatus = models.ComplianceStatusDeleted
	users.users["user-1"] = subject
	svc := newTestExportService(t, newExportStoreStub(), users, &collectorStub{}, &queueStub{})

	_, err := svc.Create(context.Background(), dto.CreateExportRequest{UserID: "user-1", Format: "json"}, AuditActor{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestExportServiceHandleCompletesRequest(t *testing.T) {
	store := newExportStoreStub()
	users := newSubjectReaderStub()
	users.users["user-1"] = testSubject()
	collector := &collectorStub{bundle: export.Bundle{"profile": map[string]interface{}{"email": "jane@example.com"}}}
	queue := &queueStub{}
	svc := newTestExportService(t, store, users, collector, queue)

	resp, err := svc.Create(context.Background(), dto.CreateExportRequest{UserID: "user-1", Format: "json"}, AuditActor{})
	require.NoError(t, err)

	require.NoError(t, svc.Handle(context.Background(), jobs.Job{ID: resp.ID, Type: JobTypePrivacyExport}))

	record := store.requests[resp.ID]
	assert.Equal(t, models.ExportStatusCompleted, record.Status)
	require.NotNil(t, record.FilePath)
	require.NotNil(t, record.FileSize)
	assert.Positive(t, *record.FileSize)

	download, err := svc.ResolveDownload(context.Background(), lastPathSegment(resp.DownloadURL))
	require.NoError(t, err)
	defer download.File.Close()

	raw, err := io.ReadAll(download.File)
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Contains(t, payload, "profile")
}

func TestExportServiceHandleCollectFailure(t *testing.T) {
	store := newExportStoreStub()
	users := newSubjectReaderStub()
	users.users["user-1"] = testSubject()
	collector := &collectorStub{err: errors.New("db unavailable")}
	svc := newTestExportService(t, store, users, collector, &queueStub{})

	resp, err := svc.Create(context.Background(), dto.CreateExportRequest{UserID: "user-1", Format: "json"}, AuditActor{})
	require.NoError(t, err)

	require.Error(t, svc.Handle(context.Background(), jobs.Job{ID: resp.ID}))
	record := store.requests[resp.ID]
	assert.Equal(t, models.ExportStatusFailed, record.Status)
	require.NotNil(t, record.ErrorMessage)
	assert.Contains(t, *record.ErrorMessage, "db unavailable")
}

func TestExportServiceResolveDownloadRejectsForgedToken(t *testing.T) {
	svc := newTestExportService(t, newExportStoreStub(), newSubjectReaderStub(), &collectorStub{}, &queueStub{})

	_, err := svc.ResolveDownload(context.Background(), "not.a.valid.token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportServiceGetStatusOwnership(t *testing.T) {
	store := newExportStoreStub()
	store.requests["exp-1"] = &models.ExportRequest{ID: "exp-1", UserID: "user-1", Status: models.ExportStatusPending, Format: models.ExportFormatJSON}
	svc := newTestExportService(t, store, newSubjectReaderStub(), &collectorStub{}, &queueStub{})

	_, err := svc.GetStatus(context.Background(), "exp-1", "user-2", models.RoleAgent)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	resp, err := svc.GetStatus(context.Background(), "exp-1", "user-2", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "exp-1", resp.ID)
}

func TestExportServiceRecoverPending(t *testing.T) {
	store := newExportStoreStub()
	store.requests["exp-1"] = &models.ExportRequest{ID: "exp-1", UserID: "user-1", Status: models.ExportStatusPending}
	store.requests["exp-2"] = &models.ExportRequest{ID: "exp-2", UserID: "user-1", Status: models.ExportStatusCompleted}
	queue := &queueStub{}
	svc := newTestExportService(t, store, newSubjectReaderStub(), &collectorStub{}, queue)

	svc.RecoverPending(context.Background())
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "exp-1", queue.jobs[0].ID)
}

func lastPathSegment(url string) string {
	for i := len(url) - 1; i >= 0; i-- {
		if url[i] == '/' {
			return url[i+1:]
		}
	}
	return url
}
