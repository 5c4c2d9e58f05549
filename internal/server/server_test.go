package server

import (
	"bufio"
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/minihttpd/internal/config"
	"example.com/minihttpd/internal/logger"
	"example.com/minihttpd/internal/util"
)

func strPtr(s string) *string { return &s }

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>home</h1>"), 0o644))
	cfg := &config.Config{
		Host:         "127.0.0.1",
		Port:         0,
		AdminPort:    0,
		DocumentRoot: root,
		LogFile:      filepath.Join(t.TempDir(), "server.log"),
		Server: &config.ServerConfig{
			GracefulShutdownTimeout: strPtr("2s"),
		},
		Admin: &config.AdminConfig{
			Username: strPtr("ops"),
			Password: strPtr("s3cret"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newTestServerWithLogger(t *testing.T, cfg *config.Config) (*Server, *logger.Logger) {
	t.Helper()
	lg, err := logger.NewTestLogger(cfg.LogFile, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { lg.Close() })
	srv, err := NewServer(cfg, lg)
	require.NoError(t, err)
	return srv, lg
}

func rawRequest(t *testing.T, addr net.Addr, raw string) *http.Response {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = io.WriteString(conn, raw)
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body = io.NopCloser(strings.NewReader(string(body)))
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestNewServer_Errors(t *testing.T) {
	_, err := NewServer(nil, logger.NewDiscardLogger())
	assert.Error(t, err)

	cfg := newTestConfig(t)
	_, err = NewServer(cfg, nil)
	assert.Error(t, err)

	cfg.StaticFiles.MimeTypesPath = strPtr(filepath.Join(t.TempDir(), "missing.json"))
	_, err = NewServer(cfg, logger.NewDiscardLogger())
	assert.ErrorContains(t, err, "failed to load custom MIME types file")
}

func TestServer_RunServesBothListeners(t *testing.T) {
	for _, kind := range []string{config.DispatcherUnbounded, config.DispatcherPool} {
		t.Run(kind, func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Server.Dispatcher = strPtr(kind)
			cfg.MaxThreads = 2
			srv, lg := newTestServerWithLogger(t, cfg)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			require.NoError(t, srv.Listen(ctx))
			require.NotNil(t, srv.MainAddr())
			require.NotNil(t, srv.AdminAddr())
			assert.NotEqual(t, srv.MainAddr().String(), srv.AdminAddr().String())

			runErr := make(chan error, 1)
			go func() { runErr <- srv.Run(ctx) }()

			resp := rawRequest(t, srv.MainAddr(), "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "<h1>home</h1>", readBody(t, resp))
			// The request is logged after the response is written.
			require.Eventually(t, func() bool { return lg.TotalRequests() == 1 }, 2*time.Second, 10*time.Millisecond)

			resp = rawRequest(t, srv.AdminAddr(), "GET / HTTP/1.1\r\n\r\n")
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

			token := base64.StdEncoding.EncodeToString([]byte("ops:s3cret"))
			resp = rawRequest(t, srv.AdminAddr(), "GET / HTTP/1.1\r\nAuthorization: Basic "+token+"\r\n\r\n")
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, readBody(t, resp), "Total Request: 1")

			cancel()
			select {
			case err := <-runErr:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("Run did not return after cancellation")
			}

			_, err := net.DialTimeout("tcp", srv.MainAddr().String(), 500*time.Millisecond)
			assert.Error(t, err, "main listener should be closed after shutdown")
		})
	}
}

func TestServer_ListenAddrInUse(t *testing.T) {
	held, err := util.CreateListener(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer held.Close()

	cfg := newTestConfig(t)
	cfg.Port = util.ListenerPort(held)
	srv, _ := newTestServerWithLogger(t, cfg)

	err = srv.Listen(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in use")
	assert.Nil(t, srv.MainAddr())
}

func TestServer_ShutdownTimesOut(t *testing.T) {
	cfg := newTestConfig(t)
	release := make(chan struct{})
	started := make(chan struct{})
	blocking := connHandlerFunc(func(c net.Conn) {
		defer c.Close()
		close(started)
		<-release
	})
	srv := newServerWithHandlers(cfg, logger.NewDiscardLogger(), blocking, blocking)
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Listen(ctx))
	go srv.Run(ctx)

	conn, err := net.Dial("tcp", srv.MainAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	err = srv.Shutdown(50 * time.Millisecond)
	assert.ErrorContains(t, err, "graceful shutdown timed out")
}

func TestServer_ShutdownBeforeListen(t *testing.T) {
	srv, _ := newTestServerWithLogger(t, newTestConfig(t))
	assert.NoError(t, srv.Shutdown(time.Second))
}

func TestServer_RunReturnsAfterShutdown(t *testing.T) {
	srv, _ := newTestServerWithLogger(t, newTestConfig(t))
	require.NoError(t, srv.Listen(context.Background()))

	runErr := make(chan error, 1)
	go func() { runErr <- srv.Run(context.Background()) }()

	resp := rawRequest(t, srv.MainAddr(), "GET / HTTP/1.1\r\n\r\n")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(time.Second))
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run still blocked after Shutdown returned")
	}
	assert.NoError(t, srv.Shutdown(time.Second), "second Shutdown is a no-op")
}
