package sms

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverly/dunning-engine/internal/config"
	"github.com/recoverly/dunning-engine/internal/inbound"
	"github.com/recoverly/dunning-engine/pkg/logger"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.DefaultDunning()
	h := NewHandler(inbound.NewHandler(cfg.SMS, "https://billing.example.com/update", logger.NewLogger(nil)))

	engine := gin.New()
	h.RegisterRoutes(engine.Group("/api/v1"))
	return engine
}

func postInbound(t *testing.T, engine *gin.Engine, payload map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sms/inbound", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(w, req)
	return w
}

func TestInboundSMSOptOut(t *testing.T) {
	engine := setupRouter()

	w := postInbound(t, engine, map[string]string{"from": "+15551234567", "body": "STOP"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string           `json:"status"`
		Data   inbound.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, inbound.ActionUnsubscribe, resp.Data.Action)
	assert.Equal(t, "+15551234567", resp.Data.From)
}

func TestInboundSMSDefaultReply(t *testing.T) {
	engine := setupRouter()

	w := postInbound(t, engine, map[string]string{"from": "+15551234567", "body": "thanks, will do"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data inbound.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, inbound.ActionDefault, resp.Data.Action)
	assert.True(t, resp.Data.Success)
}

func TestInboundSMSRejectsMissingFields(t *testing.T) {
	engine := setupRouter()

	w := postInbound(t, engine, map[string]string{"from": "+15551234567"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
