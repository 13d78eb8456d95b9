package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RetryAfterSeconds is the Retry-After hint attached to every 429 response.
const RetryAfterSeconds = 60

// Body is the uniform JSON error document returned for every non-2xx
// response produced by this module.
type Body struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`

	// Code is the platform error code, e.g. "AUTH_002".
	Code string `json:"code,omitempty"`

	// Detail and RetryAfter are only set on 429 responses.
	Detail     string `json:"detail,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

var statusSlugs = map[int]string{
	http.StatusBadRequest:          "bad_request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusForbidden:           "forbidden",
	http.StatusNotFound:            "not_found",
	http.StatusMethodNotAllowed:    "method_not_allowed",
	http.StatusConflict:            "conflict",
	http.StatusUnprocessableEntity: "unprocessable_entity",
	http.StatusTooManyRequests:     "too_many_requests",
	http.StatusInternalServerError: "internal_server_error",
	http.StatusBadGateway:          "bad_gateway",
	http.StatusServiceUnavailable:  "service_unavailable",
}

// Slug returns the snake_case error key for an HTTP status, falling back
// to "http_error_<status>" for statuses without a dedicated key.
func Slug(status int) string {
	if s, ok := statusSlugs[status]; ok {
		return s
	}
	return fmt.Sprintf("http_error_%d", status)
}

// NewBody builds the error document for err as served at path. Internal
// failures are reported with a generic message.
func NewBody(err error, path string, now time.Time) Body {
	e := FromError(err)
	status := e.HTTPStatus()
	msg := e.Message
	if status == http.StatusInternalServerError {
		msg = "An unexpected error occurred"
	}
	b := Body{
		Error:      Slug(status),
		Message:    msg,
		StatusCode: status,
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		Path:       path,
		Code:       e.Code.String(),
	}
	if status == http.StatusTooManyRequests {
		b.Detail = e.Message
		b.RetryAfter = RetryAfterSeconds
	}
	return b
}

// WriteHTTP writes err to w as a [Body]. 401 responses carry a Bearer
// challenge and 429 responses carry Retry-After.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	body := NewBody(err, r.URL.Path, time.Now())
	switch body.StatusCode {
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", "Bearer")
	case http.StatusTooManyRequests:
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(body.StatusCode)
	_ = json.NewEncoder(w).Encode(body)
}
