package http1

import (
	"errors"
	"net/http"
	"time"
)

// Error taxonomy. Each maps to exactly one response status; callers wrap them
// with context using fmt.Errorf("...: %w", err).
var (
	// ErrBadRequest is returned for a malformed request line or auth payload.
	ErrBadRequest = errors.New("bad request")
	// ErrUnauthorized is returned when admin credentials are missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a path fails resolution or escapes the document root.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when no filesystem entry exists for a resolved path.
	ErrNotFound = errors.New("not found")
	// ErrInternal is returned when a read fails after a successful stat.
	ErrInternal = errors.New("internal error")
	// ErrRequestRead is returned when the connection fails before a request line
	// was received. No response is sent for it.
	ErrRequestRead = errors.New("request read failed")
)

// StatusCode maps an error from the taxonomy above to its HTTP status code.
// Unknown errors map to 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Default error bodies. The 400 and 403 bodies are plain text, the others HTML.
const (
	BadRequestBody    = "Invalid request line"
	ForbiddenBody     = "Access denied"
	NotFoundBody      = "<html><body><h1>404 Not Found</h1></body></html>"
	InternalErrorBody = "<html><body><h1>500 Internal Server Error</h1></body></html>"
)

var defaultErrorBodies = map[int]struct {
	contentType string
	body        string
}{
	http.StatusBadRequest:          {contentType: "text/plain; charset=utf-8", body: BadRequestBody},
	http.StatusForbidden:           {contentType: "text/plain; charset=utf-8", body: ForbiddenBody},
	http.StatusNotFound:            {contentType: "text/html; charset=utf-8", body: NotFoundBody},
	http.StatusInternalServerError: {contentType: "text/html; charset=utf-8", body: InternalErrorBody},
}

// ErrorResponse builds the default error page for statusCode. Codes without a
// registered page get an empty body.
func ErrorResponse(statusCode int, now time.Time) *Response {
	if def, ok := defaultErrorBodies[statusCode]; ok {
		return NewResponse(statusCode, def.contentType, []byte(def.body), now)
	}
	return NewResponse(statusCode, "", nil, now)
}
