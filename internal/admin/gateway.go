// Package admin serves the Basic-Auth protected statistics page on the
// admin port.
package admin

import (
	"bufio"
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"example.com/minihttpd/internal/http1"
	"example.com/minihttpd/internal/logger"
	"example.com/minihttpd/internal/util"
)

const (
	// DefaultBufferSize bounds the single read of an admin request.
	DefaultBufferSize = 1024
	// Realm is advertised in the WWW-Authenticate challenge.
	Realm = "Admin Interface"

	logTailLines   = 10
	noLogsMessage  = "No logs available"
	refreshSeconds = 30
)

// Credentials is the username/password pair accepted by the gateway.
type Credentials struct {
	Username string
	Password string
}

// authState is the outcome of checking a request's Authorization header.
type authState int

const (
	awaitingAuth authState = iota
	unauthorized
	badRequest
	authorized
)

func (s authState) String() string {
	switch s {
	case unauthorized:
		return "unauthorized"
	case badRequest:
		return "bad_request"
	case authorized:
		return "authorized"
	default:
		return "awaiting_auth"
	}
}

// Gateway answers one request per admin connection.
//
// The request is taken from a single Read of at most bufferSize bytes. An
// Authorization header that does not arrive in that read is treated as
// missing.
type Gateway struct {
	expected    []byte
	bufferSize  int
	readTimeout time.Duration
	log         *logger.Logger
	now         func() time.Time
}

// NewGateway returns a Gateway accepting creds. A non-positive bufferSize
// selects DefaultBufferSize.
func NewGateway(creds Credentials, lg *logger.Logger, bufferSize int) *Gateway {
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Gateway{
		expected:   []byte(creds.Username + ":" + creds.Password),
		bufferSize: bufferSize,
		log:        lg,
		now:        time.Now,
	}
}

// SetReadTimeout bounds how long ServeConn waits for the request bytes.
// Zero disables the deadline.
func (g *Gateway) SetReadTimeout(d time.Duration) {
	g.readTimeout = d
}

// ServeConn reads the request, authenticates it and writes exactly one
// response. The connection is closed on return.
func (g *Gateway) ServeConn(conn net.Conn) {
	defer conn.Close()
	peer := util.PeerAddr(conn)

	if g.readTimeout > 0 {
		if err := conn.SetReadDeadline(g.now().Add(g.readTimeout)); err != nil {
			g.log.Warn("Failed to set admin read deadline", logger.LogFields{"peer": peer, "error": err.Error()})
		}
	}

	buf := make([]byte, g.bufferSize)
	n, err := conn.Read(buf)
	if n == 0 && err != nil {
		if errors.Is(err, io.EOF) {
			g.log.Debug("Admin connection closed before request", logger.LogFields{"peer": peer})
			return
		}
		// Nothing usable arrived; the empty request is answered as unauthorized.
		g.log.Debug("Admin request read failed", logger.LogFields{"peer": peer, "error": err.Error()})
	}

	state := g.authenticate(buf[:n])
	resp := g.respond(state)
	if _, err := resp.WriteTo(conn); err != nil {
		g.log.Warn("Failed to write admin response", logger.LogFields{"peer": peer, "error": err.Error()})
	}
	g.log.Info("Admin request", logger.LogFields{
		"peer":   peer,
		"state":  state.String(),
		"status": resp.StatusCode,
	})
}

// authenticate scans the raw request for an Authorization header and checks
// its Basic credentials.
func (g *Gateway) authenticate(raw []byte) authState {
	token, ok := findBasicToken(raw)
	if !ok {
		return unauthorized
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil || !utf8.Valid(decoded) {
		return badRequest
	}
	if subtle.ConstantTimeCompare(decoded, g.expected) != 1 {
		return unauthorized
	}
	return authorized
}

// findBasicToken returns the credentials token of the first
// "Authorization: Basic <token>" line. Header name and scheme are matched
// case-insensitively.
func findBasicToken(raw []byte) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, len(raw)+1), len(raw)+1)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		name, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "Authorization") {
			continue
		}
		scheme, token, found := strings.Cut(strings.TrimSpace(value), " ")
		if !found || !strings.EqualFold(scheme, "Basic") {
			return "", false
		}
		return strings.TrimSpace(token), true
	}
	return "", false
}

func (g *Gateway) respond(state authState) *http1.Response {
	now := g.now()
	switch state {
	case authorized:
		return http1.NewResponse(http.StatusOK, "text/html; charset=utf-8", g.renderStatusPage(), now)
	case badRequest:
		return http1.NewResponse(http.StatusBadRequest, "", nil, now)
	default:
		resp := http1.NewResponse(http.StatusUnauthorized, "", nil, now)
		resp.AddHeader("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", Realm))
		return resp
	}
}

func (g *Gateway) renderStatusPage() []byte {
	logs := noLogsMessage
	if lines, err := tailLines(g.log.LogFilePath(), logTailLines); err == nil {
		logs = strings.Join(lines, "\n")
	} else {
		g.log.Debug("Admin page could not read log file", logger.LogFields{"error": err.Error()})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<html><head><meta http-equiv="refresh" content="%d"><title>%s</title></head>`, refreshSeconds, Realm)
	fmt.Fprintf(&sb, "<body><h1>%s</h1><pre>", Realm)
	fmt.Fprintf(&sb, "Total Request: %d\nUptime: %d seconds\n", g.log.TotalRequests(), g.log.Uptime())
	if size, ok := logFileSize(g.log.LogFilePath()); ok {
		fmt.Fprintf(&sb, "Log size: %s\n", humanize.Bytes(size))
	}
	fmt.Fprintf(&sb, "\nLast %d Log Entries:\n%s</pre></body></html>", logTailLines, html.EscapeString(logs))
	return []byte(sb.String())
}

// tailLines returns up to n trailing lines of the file at path, most recent
// first.
func tailLines(path string, n int) ([]string, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) < n {
			ring = append(ring, sc.Text())
			continue
		}
		ring[next] = sc.Text()
		next = (next + 1) % n
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(ring))
	for i := 0; i < len(ring); i++ {
		// Walk backwards from the newest slot.
		idx := (next - 1 - i + 2*len(ring)) % len(ring)
		out = append(out, ring[idx])
	}
	return out, nil
}

func logFileSize(path string) (uint64, bool) {
	if path == "" {
		return 0, false
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return uint64(fi.Size()), true
}
