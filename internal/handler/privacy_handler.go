package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vantage-crm/vantage-api/internal/dto"
	"github.com/vantage-crm/vantage-api/internal/models"
	"github.com/vantage-crm/vantage-api/internal/service"
	appErrors "github.com/vantage-crm/vantage-api/pkg/errors"
	"github.com/vantage-crm/vantage-api/pkg/response"
)

// PrivacyHandler exposes the data export and deletion workflows.
type PrivacyHandler struct {
	exports    *service.ExportService
	deletions  *service.DeletionService
	compliance *service.ComplianceService
}

// NewPrivacyHandler constructs the handler.
func NewPrivacyHandler(exports *service.ExportService, deletions *service.DeletionService, compliance *service.ComplianceService) *PrivacyHandler {
	return &PrivacyHandler{exports: exports, deletions: deletions, compliance: compliance}
}

// CreateExport accepts a new data export request. Non-admin callers may only
// export their own data.
func (h *PrivacyHandler) CreateExport(c *gin.Context) {
	var req dto.CreateExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if claims.Role != models.RoleAdmin && req.UserID != claims.UserID {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "cannot export another subject's data"))
		return
	}
	resp, err := h.exports.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, resp)
}

// ExportStatus returns one export request's progress.
func (h *PrivacyHandler) ExportStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	resp, err := h.exports.GetStatus(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// DownloadExport streams a completed export artifact. Access is authorized
// by the signed token alone.
func (h *PrivacyHandler) DownloadExport(c *gin.Context) {
	download, err := h.exports.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	contentType := "application/octet-stream"
	switch download.Format {
	case models.ExportFormatJSON:
		contentType = "application/json"
	case models.ExportFormatCSV:
		contentType = "text/csv"
	case models.ExportFormatXML:
		contentType = "application/xml"
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Filename))
	c.Header("Cache-Control", "no-store")

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export artifact"))
		return
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, download.File, nil)
}

// CreateDeletion records a deletion request pending verification.
func (h *PrivacyHandler) CreateDeletion(c *gin.Context) {
	var req dto.CreateDeletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid deletion payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if claims.Role != models.RoleAdmin {
		if (req.UserID != "" && req.UserID != claims.UserID) || (req.Email != "" && req.Email != claims.Email) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "cannot request deletion of another subject's data"))
			return
		}
		if req.UserID == "" && req.Email == "" {
			req.UserID = claims.UserID
		}
	}
	record, err := h.deletions.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.DeletionCreatedResponse{
		ID:                  record.ID,
		Status:              string(record.Status),
		VerificationURL:     h.deletions.VerificationURL(record),
		EstimatedCompletion: time.Now().UTC().Add(24 * time.Hour),
	})
}

// VerifyDeletion confirms a deletion request with its verification token and
// executes the erasure. The token arrives either as a query parameter (the
// form embedded in the verification URL) or in the JSON body.
func (h *PrivacyHandler) VerifyDeletion(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		var req dto.VerifyDeletionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload"))
			return
		}
		token = req.Token
	}
	resp, err := h.deletions.Verify(c.Request.Context(), c.Param("id"), token, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// DeletionStatus returns one deletion request's state.
func (h *PrivacyHandler) DeletionStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	resp, err := h.deletions.GetStatus(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// ComplianceStatus aggregates one subject's privacy state.
func (h *PrivacyHandler) ComplianceStatus(c *gin.Context) {
	resp, err := h.compliance.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}
