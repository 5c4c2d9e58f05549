package http1

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// MaxRequestLineLength bounds the request line. Readers passed to ReadRequest
// should be created with bufio.NewReaderSize(conn, MaxRequestLineLength).
const MaxRequestLineLength = 8192

// Request holds the parsed request line. Headers are drained and discarded.
type Request struct {
	Method  string
	Path    string // raw request target, as received
	Version string
	Line    string // trimmed request line, used for logging
}

// ParseRequestLine splits a trimmed request line on whitespace. Fewer than
// three tokens is ErrBadRequest; extra tokens are ignored.
func ParseRequestLine(line string) (*Request, error) {
	parts := strings.Fields(line)
	if len(parts) < 3 {
		return nil, fmt.Errorf("malformed request line %q: %w", line, ErrBadRequest)
	}
	return &Request{
		Method:  parts[0],
		Path:    parts[1],
		Version: parts[2],
		Line:    line,
	}, nil
}

// ReadRequest reads one request line and drains header lines until an empty
// line or EOF.
//
// On ErrBadRequest the returned Request is non-nil and carries only Line, so
// the caller can still log what was received. ErrRequestRead means the
// connection failed before any request line arrived.
func ReadRequest(br *bufio.Reader) (*Request, error) {
	raw, err := br.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		line := strings.TrimSpace(string(raw))
		discardLine(br)
		return &Request{Line: line}, fmt.Errorf("request line exceeds %d bytes: %w", MaxRequestLineLength, ErrBadRequest)
	case errors.Is(err, io.EOF):
		if len(raw) == 0 {
			return &Request{}, fmt.Errorf("connection closed before request line: %w", ErrBadRequest)
		}
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrRequestRead, err)
	}

	line := strings.TrimSpace(string(raw))
	req, perr := ParseRequestLine(line)
	if perr != nil {
		return &Request{Line: line}, perr
	}
	if err == nil {
		drainHeaders(br)
	}
	return req, nil
}

// drainHeaders consumes header lines up to the blank line that ends them.
// Read errors end the drain silently: the request line is already known.
func drainHeaders(br *bufio.Reader) {
	for {
		raw, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			discardLine(br)
			continue
		}
		if strings.TrimSpace(string(raw)) == "" || err != nil {
			return
		}
	}
}

// discardLine drops the remainder of an over-long line chunk by chunk.
func discardLine(br *bufio.Reader) {
	for {
		_, err := br.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return
		}
	}
}

// CleanPath strips any query string or fragment from the request target and
// percent-decodes the remainder.
func (r *Request) CleanPath() (string, error) {
	p := r.Path
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", fmt.Errorf("undecodable path %q: %w", r.Path, ErrBadRequest)
	}
	return decoded, nil
}

// IsHead reports whether the request asks for headers only.
func (r *Request) IsHead() bool {
	return r.Method == "HEAD"
}
