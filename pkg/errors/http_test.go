package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHTTP_Unauthorized(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/contratos", nil)

	WriteHTTP(rec, req, New(CodeAuthenticationExpired, "Token expired"))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["error"])
	assert.Equal(t, "Token expired", body["message"])
	assert.EqualValues(t, 401, body["status_code"])
	assert.Equal(t, "/api/v1/contratos", body["path"])
	assert.NotEmpty(t, body["timestamp"])
	assert.NotContains(t, body, "retry_after")
}

func TestWriteHTTP_RateLimited(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/pareceres/42", nil)

	WriteHTTP(rec, req, RateLimited("Rate limit exceeded: 10 per 1 minute"))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	var body Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "too_many_requests", body.Error)
	assert.Equal(t, "Rate limit exceeded: 10 per 1 minute", body.Detail)
	assert.Equal(t, 60, body.RetryAfter)
}

func TestNewBody_HidesInternalMessages(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	body := NewBody(errors.New("dial tcp 10.0.0.3:5432: refused"), "/x", now)

	assert.Equal(t, 500, body.StatusCode)
	assert.Equal(t, "internal_server_error", body.Error)
	assert.Equal(t, "An unexpected error occurred", body.Message)
	assert.Equal(t, "2026-03-01T12:00:00Z", body.Timestamp)
}

func TestSlug(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "forbidden", Slug(403))
	assert.Equal(t, "conflict", Slug(409))
	assert.Equal(t, "http_error_418", Slug(418))
}
