// Package testutil runs minihttpd in-process and talks to it over raw TCP.
package testutil

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"

	"example.com/minihttpd/internal/config"
	"example.com/minihttpd/internal/logger"
	"example.com/minihttpd/internal/server"
)

// TestRequest is sent verbatim when Raw is set; otherwise it is rendered as
// "<Method> <Path> HTTP/1.1" followed by Headers.
type TestRequest struct {
	Method  string
	Path    string
	Headers []string // "Name: value" lines
	Raw     string
}

// Render returns the bytes written to the socket.
func (r TestRequest) Render() string {
	if r.Raw != "" {
		return r.Raw
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s HTTP/1.1\r\n", r.Method, r.Path)
	for _, h := range r.Headers {
		sb.WriteString(h)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	return sb.String()
}

// BasicAuthHeader renders an Authorization header line for user:pass.
func BasicAuthHeader(user, pass string) string {
	return "Authorization: Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// BodyMatcher defines a way to match the response body.
type BodyMatcher interface {
	Match(body []byte) (bool, string)
}

// ExactBodyMatcher matches the body exactly.
type ExactBodyMatcher struct {
	ExpectedBody []byte
}

func (m *ExactBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Equal(m.ExpectedBody, body) {
		return true, ""
	}
	return false, fmt.Sprintf("bodies do not match exactly. Expected: %q, Got: %q", m.ExpectedBody, body)
}

// StringContainsBodyMatcher checks that the body contains every substring.
type StringContainsBodyMatcher struct {
	Substrings []string
}

func (m *StringContainsBodyMatcher) Match(body []byte) (bool, string) {
	for _, s := range m.Substrings {
		if !bytes.Contains(body, []byte(s)) {
			return false, fmt.Sprintf("body does not contain substring: %q. Body: %q", s, body)
		}
	}
	return true, ""
}

// ExpectedResponse models the expected outcome of a request.
type ExpectedResponse struct {
	StatusCode   int
	Headers      map[string]string // exact values, names case-insensitive
	HeaderOrder  []string          // when set, the exact header name sequence
	BodyMatcher  BodyMatcher
	ExpectNoBody bool
}

// HeaderField is one response header as received.
type HeaderField struct {
	Name  string
	Value string
}

// ActualResponse is a parsed raw response. Headers keep wire order.
type ActualResponse struct {
	StatusLine string
	StatusCode int
	Headers    []HeaderField
	Body       []byte
	Raw        []byte
}

// Header returns the first value for name, compared case-insensitively.
func (r *ActualResponse) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// E2ETestCase pairs a request with its expected response.
type E2ETestCase struct {
	Name     string
	Request  TestRequest
	Expected ExpectedResponse
}

// ServerInstance is a server running inside the test process.
type ServerInstance struct {
	Server     *server.Server
	Config     *config.Config
	ConfigPath string
	Logger     *logger.Logger
	MainAddr   string
	AdminAddr  string

	cancel context.CancelFunc
	done   chan error
}

// GetFreePort asks the kernel for a free open port that is ready to use.
func GetFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// WriteTempConfig writes configData as JSON or TOML into dir and returns the
// file path.
func WriteTempConfig(dir string, configData interface{}, format string) (string, error) {
	var (
		data []byte
		ext  string
		err  error
	)
	switch strings.ToLower(format) {
	case "json":
		data, err = json.MarshalIndent(configData, "", "  ")
		ext = ".json"
	case "toml":
		buf := new(bytes.Buffer)
		if err = toml.NewEncoder(buf).Encode(configData); err == nil {
			data = buf.Bytes()
		}
		ext = ".toml"
	default:
		err = fmt.Errorf("unsupported config format: %s", format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal config data to %s: %w", format, err)
	}

	p := filepath.Join(dir, "config"+ext)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write temp config file: %w", err)
	}
	return p, nil
}

// StartTestServer loads configPath exactly as the CLI does and serves it
// until Stop.
func StartTestServer(configPath string) (*ServerInstance, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	lg, err := logger.NewLogger(cfg.LogFile, cfg.Logging)
	if err != nil {
		return nil, err
	}
	srv, err := server.NewServer(cfg, lg)
	if err != nil {
		lg.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Listen(ctx); err != nil {
		cancel()
		lg.Close()
		return nil, err
	}
	inst := &ServerInstance{
		Server:     srv,
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     lg,
		MainAddr:   srv.MainAddr().String(),
		AdminAddr:  srv.AdminAddr().String(),
		cancel:     cancel,
		done:       make(chan error, 1),
	}
	go func() { inst.done <- srv.Run(ctx) }()
	return inst, nil
}

// Stop cancels the server, waits for it to drain and closes its logger.
func (s *ServerInstance) Stop() error {
	s.cancel()
	var runErr error
	select {
	case runErr = <-s.done:
	case <-time.After(10 * time.Second):
		runErr = fmt.Errorf("server did not stop within 10s")
	}
	if err := s.Logger.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// ReadLog returns the request log file contents.
func (s *ServerInstance) ReadLog() (string, error) {
	data, err := os.ReadFile(s.Config.LogFile)
	return string(data), err
}

// SendRaw writes raw to addr, reads until the server closes the connection
// and parses what arrived.
func SendRaw(addr, raw string) (*ActualResponse, error) {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(conn, raw); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return ParseRawResponse(data)
}

// ParseRawResponse splits a complete HTTP/1.1 response. The body is whatever
// follows the blank line; Content-Length is not consulted.
func ParseRawResponse(data []byte) (*ActualResponse, error) {
	head, body, found := bytes.Cut(data, []byte("\r\n\r\n"))
	if !found {
		return nil, fmt.Errorf("no header terminator in response %q", data)
	}
	lines := strings.Split(string(head), "\r\n")
	resp := &ActualResponse{StatusLine: lines[0], Body: body, Raw: data}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) < 2 || parts[0] != "HTTP/1.1" {
		return nil, fmt.Errorf("malformed status line %q", lines[0])
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed status code in %q: %w", lines[0], err)
	}
	resp.StatusCode = code

	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		resp.Headers = append(resp.Headers, HeaderField{Name: name, Value: strings.TrimSpace(value)})
	}
	return resp, nil
}

// CheckResponse reports every difference between actual and expected.
func CheckResponse(t *testing.T, actual *ActualResponse, expected ExpectedResponse) {
	t.Helper()
	if actual.StatusCode != expected.StatusCode {
		t.Errorf("status: expected %d, got %d (%q)", expected.StatusCode, actual.StatusCode, actual.StatusLine)
	}
	for name, want := range expected.Headers {
		if got := actual.Header(name); got != want {
			t.Errorf("header %s: expected %q, got %q", name, want, got)
		}
	}
	if expected.HeaderOrder != nil {
		names := make([]string, 0, len(actual.Headers))
		for _, h := range actual.Headers {
			names = append(names, h.Name)
		}
		if strings.Join(names, ",") != strings.Join(expected.HeaderOrder, ",") {
			t.Errorf("header order: expected %v, got %v", expected.HeaderOrder, names)
		}
	}
	if expected.ExpectNoBody {
		if len(actual.Body) != 0 {
			t.Errorf("expected no body, got %d bytes: %q", len(actual.Body), actual.Body)
		}
	} else if expected.BodyMatcher != nil {
		if ok, desc := expected.BodyMatcher.Match(actual.Body); !ok {
			t.Error(desc)
		}
	}
}

// RunTestCases sends each case to addr as a subtest.
func RunTestCases(t *testing.T, addr string, cases []E2ETestCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			actual, err := SendRaw(addr, tc.Request.Render())
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			CheckResponse(t, actual, tc.Expected)
		})
	}
}
