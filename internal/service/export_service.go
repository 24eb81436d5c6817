package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantage-crm/vantage-api/internal/dto"
	"github.com/vantage-crm/vantage-api/internal/models"
	"github.com/vantage-crm/vantage-api/internal/repository"
	appErrors "github.com/vantage-crm/vantage-api/pkg/errors"
	"github.com/vantage-crm/vantage-api/pkg/export"
	"github.com/vantage-crm/vantage-api/pkg/jobs"
)

// JobTypePrivacyExport routes export jobs on the shared queue.
const JobTypePrivacyExport = "privacy-export"

type exportStore interface {
	Create(ctx context.Context, req *models.ExportRequest) error
	GetByID(ctx context.Context, id string) (*models.ExportRequest, error)
	Update(ctx context.Context, id string, params repository.UpdateExportRequestParams) error
	ListPending(ctx context.Context, limit int) ([]models.ExportRequest, error)
	CountByUser(ctx context.Context, userID string) (open, total int, err error)
}

type subjectLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type dataCollector interface {
	Collect(ctx context.Context, userID string, tables []string) (export.Bundle, error)
}

type artifactStore interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type downloadSigner interface {
	Generate(jobID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
	Depth() int
}

type exportObserver interface {
	IncExportJob(status string)
}

// Renderer serializes a collected bundle into one export encoding.
type Renderer interface {
	Render(bundle export.Bundle) ([]byte, error)
}

// ExportServiceConfig governs export validity and recovery.
type ExportServiceConfig struct {
	Validity      time.Duration
	RecoveryLimit int
	BaseURL       string
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ExportFormat
	ExpiresAt time.Time
}

// ExportService orchestrates the privacy export workflow: request intake,
// background generation, and signed download resolution.
type ExportService struct {
	repo      exportStore
	users     subjectLookup
	collector dataCollector
	storage   artifactStore
	signer    downloadSigner
	queue     jobDispatcher
	audit     auditSink
	metrics   exportObserver
	renderers map[models.ExportFormat]Renderer
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportServiceConfig
}

// NewExportService constructs the export workflow service with the default
// renderer set.
func NewExportService(repo exportStore, users subjectLookup, collector dataCollector, storage artifactStore, signer downloadSigner, queue jobDispatcher, audit auditSink, metrics exportObserver, logger *zap.Logger, cfg ExportServiceConfig) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Validity <= 0 {
		cfg.Validity = 7 * 24 * time.Hour
	}
	if cfg.RecoveryLimit <= 0 {
		cfg.RecoveryLimit = 50
	}
	return &ExportService{
		repo:      repo,
		users:     users,
		collector: collector,
		storage:   storage,
		signer:    signer,
		queue:     queue,
		audit:     audit,
		metrics:   metrics,
		renderers: map[models.ExportFormat]Renderer{
			models.ExportFormatJSON: export.NewJSONExporter(),
			models.ExportFormatCSV:  export.NewCSVExporter(),
			models.ExportFormatXML:  export.NewXMLExporter(),
		},
		validator: validator.New(),
		logger:    logger,
		cfg:       cfg,
	}
}

// SetQueue wires the background queue. The queue's handler is this service's
// Handle method, so it is attached after construction.
func (s *ExportService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// Create validates the request, persists it, and enqueues generation.
func (s *ExportService) Create(ctx context.Context, req dto.CreateExportRequest, actor AuditActor) (*dto.ExportCreatedResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	format := models.ExportFormat(req.Format)
	if _, ok := s.renderers[format]; !ok {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFormat, "unsupported export format "+req.Format)
	}
	for _, table := range req.Tables {
		if _, ok := repository.TableMetaFor(table); !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown table "+table)
		}
	}
	user, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	if user.ComplianceStatus == models.ComplianceStatusDeleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject data has been deleted")
	}

	record := &models.ExportRequest{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		Tables:            models.StringList(req.Tables),
		Format:            format,
		VerificationToken: newVerificationToken(),
		ExpiresAt:         time.Now().UTC().Add(s.cfg.Validity),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export request")
	}

	relPath := s.artifactPath(record)
	token, expiresAt, err := s.signer.Generate(record.ID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: record.ID, Type: JobTypePrivacyExport}); err != nil {
		s.failRequest(ctx, record.ID, "failed to enqueue export job")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}

	s.writeAudit(ctx, actor, models.AuditActionExportRequest, record)
	if s.metrics != nil {
		s.metrics.IncExportJob(string(models.ExportStatusPending))
	}

	// Rough ETA from queue depth, at half a minute per buffered job.
	depth := s.queue.Depth()
	if depth < 1 {
		depth = 1
	}

	return &dto.ExportCreatedResponse{
		ID:                  record.ID,
		Status:              string(models.ExportStatusPending),
		DownloadURL:         s.downloadURL(token),
		ExpiresAt:           expiresAt,
		EstimatedCompletion: time.Now().UTC().Add(time.Duration(depth) * 30 * time.Second),
	}, nil
}

// GetStatus exposes one export request's progress to its owner.
func (s *ExportService) GetStatus(ctx context.Context, id, actorID string, role models.UserRole) (*dto.ExportStatusResponse, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export request")
	}
	if role != models.RoleAdmin && record.UserID != actorID {
		return nil, appErrors.ErrForbidden
	}
	resp := &dto.ExportStatusResponse{
		ID:          record.ID,
		Status:      string(record.Status),
		Format:      string(record.Format),
		FileSize:    record.FileSize,
		CreatedAt:   record.CreatedAt,
		ExpiresAt:   record.ExpiresAt,
		CompletedAt: record.CompletedAt,
	}
	if record.ErrorMessage != nil && *record.ErrorMessage != "" {
		resp.Error = record.ErrorMessage
	}
	return resp, nil
}

// ResolveDownload validates a signed token and opens the stored artifact.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	requestID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	record, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export request")
	}
	if record.Status != models.ExportStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export not ready")
	}
	if record.FilePath == nil || *record.FilePath != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if time.Now().UTC().After(record.ExpiresAt) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export has expired")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export artifact")
	}
	return &ExportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    record.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// Handle processes a queued export job: collect, render, store, finalize.
func (s *ExportService) Handle(ctx context.Context, job jobs.Job) error {
	record, err := s.repo.GetByID(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load export request %s: %w", job.ID, err)
	}
	if record.Status == models.ExportStatusCompleted {
		return nil
	}

	processing := models.ExportStatusProcessing
	if err := s.repo.Update(ctx, record.ID, repository.UpdateExportRequestParams{Status: &processing}); err != nil {
		return fmt.Errorf("mark export processing: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncExportJob(string(processing))
	}

	bundle, err := s.collector.Collect(ctx, record.UserID, record.Tables)
	if err != nil {
		s.failRequest(ctx, record.ID, err.Error())
		return err
	}

	renderer, ok := s.renderers[record.Format]
	if !ok {
		err := fmt.Errorf("no renderer for format %s", record.Format)
		s.failRequest(ctx, record.ID, err.Error())
		return err
	}
	payload, err := renderer.Render(bundle)
	if err != nil {
		s.failRequest(ctx, record.ID, err.Error())
		return err
	}

	relPath := s.artifactPath(record)
	if _, err := s.storage.Save(relPath, payload); err != nil {
		s.failRequest(ctx, record.ID, err.Error())
		return err
	}

	completed := models.ExportStatusCompleted
	size := int64(len(payload))
	now := time.Now().UTC()
	if err := s.repo.Update(ctx, record.ID, repository.UpdateExportRequestParams{
		Status:      &completed,
		FilePath:    &relPath,
		FileSize:    &size,
		CompletedAt: &now,
	}); err != nil {
		// The artifact is orphaned if the row update fails; remove it so
		// the weekly filesystem pass has less to reap.
		_ = s.storage.Delete(relPath)
		return fmt.Errorf("mark export completed: %w", err)
	}

	if s.metrics != nil {
		s.metrics.IncExportJob(string(completed))
	}
	s.writeAudit(ctx, AuditActor{UserID: record.UserID, IPAddress: "system", UserAgent: "export-worker"}, models.AuditActionExportComplete, record)
	s.logger.Sugar().Infow("export generated", "export_id", record.ID, "format", record.Format, "bytes", size)
	return nil
}

// RecoverPending requeues requests stuck in pending, e.g. after a restart.
func (s *ExportService) RecoverPending(ctx context.Context) {
	pending, err := s.repo.ListPending(ctx, s.cfg.RecoveryLimit)
	if err != nil {
		s.logger.Sugar().Warnw("failed to list pending export requests", "error", err)
		return
	}
	for _, record := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: record.ID, Type: JobTypePrivacyExport}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue export request", "export_id", record.ID, "error", err)
		}
	}
	if len(pending) > 0 {
		s.logger.Sugar().Infow("requeued pending export requests", "count", len(pending))
	}
}

func (s *ExportService) failRequest(ctx context.Context, id, message string) {
	failed := models.ExportStatusFailed
	now := time.Now().UTC()
	if err := s.repo.Update(ctx, id, repository.UpdateExportRequestParams{
		Status:       &failed,
		ErrorMessage: &message,
		CompletedAt:  &now,
	}); err != nil {
		s.logger.Sugar().Warnw("failed to mark export failed", "export_id", id, "error", err)
	}
	if s.metrics != nil {
		s.metrics.IncExportJob(string(failed))
	}
}

func (s *ExportService) artifactPath(record *models.ExportRequest) string {
	return filepath.Join(record.UserID, fmt.Sprintf("%s.%s", record.ID, record.Format))
}

func (s *ExportService) downloadURL(token string) string {
	base := s.cfg.BaseURL
	if base == "" {
		return "/api/v1/privacy/exports/download/" + token
	}
	return base + "/api/v1/privacy/exports/download/" + token
}

func (s *ExportService) writeAudit(ctx context.Context, actor AuditActor, action string, record *models.ExportRequest) {
	if s.audit == nil {
		return
	}
	resourceID := record.ID
	log := &models.AuditLog{
		Action:     action,
		Resource:   "data_export_request",
		ResourceID: &resourceID,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
	}
	if actor.UserID != "" {
		log.UserID = &actor.UserID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Sugar().Warnw("export audit write failed", "action", action, "error", err)
	}
}
