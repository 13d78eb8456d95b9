// Package testutil holds assertions shared by the accessguard tests.
//
// Require* helpers stop the test on failure; Assert* helpers record the
// failure and return false so table tests can keep checking rows.
package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/accessguard/pkg/errors"
)

// RequireErrorCode fails the test unless err is an *sserr.Error with code.
//
//	_, err := provider.Validate(ctx, "a.b")
//	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationFormat)
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	e, ok := sserr.AsError(err)
	require.True(t, ok, "want *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, e.Code, "code %s (message %q)", e.Code, e.Message)
}

// AssertErrorCode is the non-fatal form of [RequireErrorCode].
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	e, ok := sserr.AsError(err)
	if !assert.True(t, ok, "want *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, e.Code, "code %s (message %q)", e.Code, e.Message)
}

// RequireErrorBody checks that rec holds the uniform JSON error body with
// the given status and returns it decoded.
func RequireErrorBody(t testing.TB, rec *httptest.ResponseRecorder, status int) sserr.Body {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	var body sserr.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	require.Equal(t, status, body.StatusCode)
	require.Equal(t, sserr.Slug(status), body.Error)
	require.NotEmpty(t, body.Timestamp)
	return body
}

// TempConfigFile writes content to config<ext> in a per-test directory and
// returns its path.
func TempConfigFile(t testing.TB, content, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config"+ext)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// AssertJSONContains checks that the JSON encoding of v contains want.
func AssertJSONContains(t testing.TB, v any, want string) bool {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return assert.Contains(t, string(data), want)
}

// AssertJSONNotContains checks that the JSON encoding of v does not
// contain unwanted. Secrets use it to prove redaction.
func AssertJSONNotContains(t testing.TB, v any, unwanted string) bool {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return assert.NotContains(t, string(data), unwanted)
}
