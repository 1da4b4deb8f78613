package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func auditRouter(buf *bytes.Buffer, status int) *gin.Engine {
	r := gin.New()
	r.Use(OperatorAudit(zerolog.New(buf)))
	handler := func(c *gin.Context) {
		c.Set(CtxUserID, "op-1")
		c.Status(status)
	}
	r.POST("/api/v1/withdrawals/:id/approve", handler)
	r.POST("/api/v1/settlements/:id/reject", handler)
	r.PUT("/api/v1/treasury/rate", handler)
	r.POST("/api/v1/wallet/transfer", handler)
	return r
}

func TestOperatorAudit_LogsDecisions(t *testing.T) {
	tests := []struct {
		method, path     string
		action, resource string
		resourceID       string
	}{
		{http.MethodPost, "/api/v1/withdrawals/w-1/approve", "approve", "withdrawal", "w-1"},
		{http.MethodPost, "/api/v1/settlements/s-9/reject", "reject", "settlement", "s-9"},
		{http.MethodPut, "/api/v1/treasury/rate", "update_rate", "treasury", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var buf bytes.Buffer
			w := httptest.NewRecorder()
			auditRouter(&buf, http.StatusOK).ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, tt.action, line["audit"])
			assert.Equal(t, tt.resource, line["resource"])
			assert.Equal(t, tt.resourceID, line["resource_id"])
			assert.Equal(t, "op-1", line["operator"])
		})
	}
}

func TestOperatorAudit_SkipsFailuresAndOtherRoutes(t *testing.T) {
	var buf bytes.Buffer
	w := httptest.NewRecorder()
	auditRouter(&buf, http.StatusConflict).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/withdrawals/w-1/approve", nil))
	assert.Zero(t, buf.Len())

	w = httptest.NewRecorder()
	auditRouter(&buf, http.StatusOK).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/wallet/transfer", nil))
	assert.Zero(t, buf.Len())
}
