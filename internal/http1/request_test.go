package http1_test

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/minihttpd/internal/http1"
)

func newReader(s string) *bufio.Reader {
	return bufio.NewReaderSize(strings.NewReader(s), http1.MaxRequestLineLength)
}

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantMethod  string
		wantPath    string
		wantVersion string
		wantErr     bool
	}{
		{"simple GET", "GET /index.html HTTP/1.1", "GET", "/index.html", "HTTP/1.1", false},
		{"HEAD", "HEAD / HTTP/1.0", "HEAD", "/", "HTTP/1.0", false},
		{"extra whitespace", "GET    /a   HTTP/1.1", "GET", "/a", "HTTP/1.1", false},
		{"extra tokens ignored", "GET /a HTTP/1.1 junk", "GET", "/a", "HTTP/1.1", false},
		{"lowercase method kept", "post /x HTTP/1.1", "post", "/x", "HTTP/1.1", false},
		{"method only", "GET", "", "", "", true},
		{"two tokens", "GET /", "", "", "", true},
		{"empty", "", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http1.ParseRequestLine(tt.line)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, http1.ErrBadRequest), "expected ErrBadRequest, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, req.Method)
			assert.Equal(t, tt.wantPath, req.Path)
			assert.Equal(t, tt.wantVersion, req.Version)
			assert.Equal(t, tt.line, req.Line)
		})
	}
}

func TestReadRequest_DrainsHeaders(t *testing.T) {
	br := newReader("GET /a.txt HTTP/1.1\r\nHost: example\r\nAccept: */*\r\n\r\nleftover")
	req, err := http1.ReadRequest(br)
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/a.txt", req.Path)
	assert.Equal(t, "GET /a.txt HTTP/1.1", req.Line)

	rest, _ := io.ReadAll(br)
	assert.Equal(t, "leftover", string(rest), "header drain must stop at the blank line")
}

func TestReadRequest_BareLFAndEOF(t *testing.T) {
	req, err := http1.ReadRequest(newReader("GET / HTTP/1.1\nHost: x\n"))
	require.NoError(t, err)
	assert.Equal(t, "/", req.Path)

	// No trailing newline at all.
	req, err = http1.ReadRequest(newReader("HEAD /f HTTP/1.0"))
	require.NoError(t, err)
	assert.Equal(t, "HEAD", req.Method)
	assert.True(t, req.IsHead())
}

func TestReadRequest_InvalidLine(t *testing.T) {
	req, err := http1.ReadRequest(newReader("GET\r\n\r\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, http1.ErrBadRequest)
	require.NotNil(t, req)
	assert.Equal(t, "GET", req.Line)
}

func TestReadRequest_EmptyConnection(t *testing.T) {
	_, err := http1.ReadRequest(newReader(""))
	assert.ErrorIs(t, err, http1.ErrBadRequest)
}

func TestReadRequest_OverlongRequestLine(t *testing.T) {
	long := "GET /" + strings.Repeat("a", http1.MaxRequestLineLength+10) + " HTTP/1.1\r\n\r\n"
	_, err := http1.ReadRequest(newReader(long))
	assert.ErrorIs(t, err, http1.ErrBadRequest)
}

func TestReadRequest_OverlongHeaderDiscarded(t *testing.T) {
	huge := "X-Big: " + strings.Repeat("b", 3*http1.MaxRequestLineLength) + "\r\n"
	br := newReader("GET /ok HTTP/1.1\r\n" + huge + "Host: x\r\n\r\nbody")
	req, err := http1.ReadRequest(br)
	require.NoError(t, err)
	assert.Equal(t, "/ok", req.Path)

	rest, _ := io.ReadAll(br)
	assert.Equal(t, "body", string(rest))
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestReadRequest_ReadFailure(t *testing.T) {
	br := bufio.NewReaderSize(failingReader{err: errors.New("connection reset by peer")}, http1.MaxRequestLineLength)
	req, err := http1.ReadRequest(br)
	assert.Nil(t, req)
	assert.ErrorIs(t, err, http1.ErrRequestRead)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"/index.html", "/index.html", false},
		{"/a%20b.txt", "/a b.txt", false},
		{"/search?q=1", "/search", false},
		{"/page#frag", "/page", false},
		{"/%2e%2e/etc/passwd", "/../etc/passwd", false},
		{"/bad%zz", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			req := &http1.Request{Method: "GET", Path: tt.raw, Version: "HTTP/1.1"}
			got, err := req.CleanPath()
			if tt.wantErr {
				assert.ErrorIs(t, err, http1.ErrBadRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
