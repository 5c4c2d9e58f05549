package http1_test

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/minihttpd/internal/http1"
)

var fixedNow = time.Date(2024, time.March, 10, 2, 46, 0, 0, time.UTC)

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "Sun, 10 Mar 2024 02:46:00 GMT", http1.FormatDate(fixedNow))

	// Non-UTC input is converted.
	loc := time.FixedZone("UTC+2", 2*3600)
	assert.Equal(t, "Sun, 10 Mar 2024 02:46:00 GMT", http1.FormatDate(fixedNow.In(loc)))
}

func TestNewResponse_HeaderOrder(t *testing.T) {
	resp := http1.NewResponse(http.StatusOK, "text/plain", []byte("hello"), fixedNow)

	var names []string
	for _, h := range resp.Headers {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"Content-Type", "Content-Length", "Date", "Server", "Connection"}, names)
	assert.Equal(t, "5", resp.Header("content-length"))
	assert.Equal(t, "close", resp.Header("Connection"))
	assert.Equal(t, http1.ServerName, resp.Header("Server"))
	assert.Equal(t, "OK", resp.Reason)
}

func TestNewResponse_NoContentType(t *testing.T) {
	resp := http1.NewResponse(http.StatusUnauthorized, "", nil, fixedNow)
	assert.Equal(t, "", resp.Header("Content-Type"))
	assert.Equal(t, "0", resp.Header("Content-Length"))
}

func TestResponse_WriteTo(t *testing.T) {
	resp := http1.NewResponse(http.StatusOK, "text/plain", []byte("hello"), fixedNow)
	resp.AddHeader("X-Extra", "1")

	var buf bytes.Buffer
	n, err := resp.WriteTo(&buf)
	require.NoError(t, err)

	want := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 5\r\n" +
		"Date: Sun, 10 Mar 2024 02:46:00 GMT\r\n" +
		"Server: minihttpd/1.0\r\n" +
		"Connection: close\r\n" +
		"X-Extra: 1\r\n" +
		"\r\n" +
		"hello"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, int64(len(want)), n)
}

func TestResponse_StripBodyKeepsLength(t *testing.T) {
	resp := http1.NewResponse(http.StatusOK, "text/html", []byte("<p>12345</p>"), fixedNow)
	resp.StripBody()

	var buf bytes.Buffer
	_, err := resp.WriteTo(&buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Content-Length: 12\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"), "HEAD response must end after the header block")
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestResponse_WriteToError(t *testing.T) {
	resp := http1.NewResponse(http.StatusOK, "text/plain", []byte("x"), fixedNow)
	_, err := resp.WriteTo(errWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

// shortWriter accepts up to limit bytes, then fails.
type shortWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	room := w.limit - w.buf.Len()
	if room <= 0 {
		return 0, errors.New("connection reset")
	}
	if len(p) > room {
		w.buf.Write(p[:room])
		return room, errors.New("connection reset")
	}
	return w.buf.Write(p)
}

func TestResponse_WriteToPartialHeader(t *testing.T) {
	resp := http1.NewResponse(http.StatusOK, "text/plain", []byte("hello"), fixedNow)
	w := &shortWriter{limit: 12}
	n, err := resp.WriteTo(w)
	require.Error(t, err)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, "HTTP/1.1 200", w.buf.String())
}

func TestErrorResponse_Bodies(t *testing.T) {
	tests := []struct {
		status int
		body   string
		ctype  string
	}{
		{http.StatusBadRequest, "Invalid request line", "text/plain; charset=utf-8"},
		{http.StatusForbidden, "Access denied", "text/plain; charset=utf-8"},
		{http.StatusNotFound, "<html><body><h1>404 Not Found</h1></body></html>", "text/html; charset=utf-8"},
		{http.StatusInternalServerError, "<html><body><h1>500 Internal Server Error</h1></body></html>", "text/html; charset=utf-8"},
		{http.StatusUnauthorized, "", ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			resp := http1.ErrorResponse(tt.status, fixedNow)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.body, string(resp.Body))
			assert.Equal(t, tt.ctype, resp.Header("Content-Type"))
			assert.Equal(t, fmt.Sprint(len(tt.body)), resp.Header("Content-Length"))
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 200},
		{fmt.Errorf("ctx: %w", http1.ErrBadRequest), 400},
		{http1.ErrUnauthorized, 401},
		{fmt.Errorf("resolve: %w", http1.ErrForbidden), 403},
		{fmt.Errorf("stat: %w", http1.ErrNotFound), 404},
		{http1.ErrInternal, 500},
		{errors.New("something else"), 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, http1.StatusCode(tt.err), "err=%v", tt.err)
	}
}
