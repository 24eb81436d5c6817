package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantage-crm/vantage-api/internal/dto"
	"github.com/vantage-crm/vantage-api/internal/middleware"
	"github.com/vantage-crm/vantage-api/internal/models"
)

func newTestContext(t *testing.T, method, path string, payload interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, path, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestPrivacyHandlerCreateExportRejectsOtherSubject(t *testing.T) {
	handler := NewPrivacyHandler(nil, nil, nil)
	c, w := newTestContext(t, http.MethodPost, "/privacy/exports", dto.CreateExportRequest{
		UserID: "user-2",
		Format: "json",
	})
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleAgent})

	handler.CreateExport(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPrivacyHandlerCreateExportRequiresClaims(t *testing.T) {
	handler := NewPrivacyHandler(nil, nil, nil)
	c, w := newTestContext(t, http.MethodPost, "/privacy/exports", dto.CreateExportRequest{
		UserID: "user-1",
		Format: "json",
	})

	handler.CreateExport(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPrivacyHandlerCreateExportInvalidBody(t *testing.T) {
	handler := NewPrivacyHandler(nil, nil, nil)
	c, w := newTestContext(t, http.MethodPost, "/privacy/exports", map[string]string{
		"user_id": "user-1",
		"format":  "pdf",
	})
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleAgent})

	handler.CreateExport(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrivacyHandlerCreateDeletionRejectsOtherSubject(t *testing.T) {
	handler := NewPrivacyHandler(nil, nil, nil)
	c, w := newTestContext(t, http.MethodPost, "/privacy/deletions", dto.CreateDeletionRequest{
		UserID:      "user-2",
		RequestType: "full",
	})
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleAgent})

	handler.CreateDeletion(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPrivacyHandlerVerifyDeletionRequiresToken(t *testing.T) {
	handler := NewPrivacyHandler(nil, nil, nil)
	c, w := newTestContext(t, http.MethodPost, "/privacy/deletions/del-1/verify", map[string]string{})
	c.Params = gin.Params{{Key: "id", Value: "del-1"}}

	handler.VerifyDeletion(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetentionHandlerCreateInvalidBody(t *testing.T) {
	handler := NewRetentionHandler(nil, nil)
	c, w := newTestContext(t, http.MethodPost, "/retention/policies", map[string]interface{}{
		"table_name": "leads",
	})
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
