package server

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// --- Mock net.Listener ---
type mockListener struct {
	acceptChan chan net.Conn
	errChan    chan error
	closeOnce  sync.Once
	closed     chan struct{}
	addr       net.Addr
}

func newMockListener() *mockListener {
	return &mockListener{
		acceptChan: make(chan net.Conn, 4),
		errChan:    make(chan error, 1),
		closed:     make(chan struct{}),
		addr:       &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8080},
	}
}

func (m *mockListener) Accept() (net.Conn, error) {
	select {
	case conn := <-m.acceptChan:
		return conn, nil
	case err := <-m.errChan:
		return nil, err
	case <-m.closed:
		return nil, net.ErrClosed
	}
}

func (m *mockListener) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockListener) Addr() net.Addr { return m.addr }

// InjectConn makes the next Accept return c.
func (m *mockListener) InjectConn(c net.Conn) { m.acceptChan <- c }

// InjectAcceptError makes the next Accept return e.
func (m *mockListener) InjectAcceptError(e error) { m.errChan <- e }

// --- Mock net.Conn ---
type mockConn struct {
	mu           sync.Mutex
	readBuffer   *bytes.Buffer
	readErr      error // returned once the read buffer is drained; io.EOF when nil
	writeBuffer  *bytes.Buffer
	writeErr     error
	remoteAddr   net.Addr
	readDeadline time.Time
	closeOnce    sync.Once
	closed       chan struct{}
}

func newMockConn(remote string, request string) *mockConn {
	rAddr, _ := net.ResolveTCPAddr("tcp", remote)
	return &mockConn{
		readBuffer:  bytes.NewBufferString(request),
		writeBuffer: bytes.NewBuffer(nil),
		remoteAddr:  rAddr,
		closed:      make(chan struct{}),
	}
}

func (m *mockConn) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closed:
		return 0, io.EOF
	default:
	}
	if m.readBuffer.Len() == 0 {
		if m.readErr != nil {
			return 0, m.readErr
		}
		return 0, io.EOF
	}
	return m.readBuffer.Read(b)
}

func (m *mockConn) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closed:
		return 0, errors.New("write to closed mockConn")
	default:
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.writeBuffer.Write(b)
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8080}
}

func (m *mockConn) RemoteAddr() net.Addr {
	if m.remoteAddr == nil {
		return nil
	}
	return m.remoteAddr
}

func (m *mockConn) SetDeadline(t time.Time) error { return m.SetReadDeadline(t) }

func (m *mockConn) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	m.readDeadline = t
	m.mu.Unlock()
	return nil
}

func (m *mockConn) SetWriteDeadline(time.Time) error { return nil }

func (m *mockConn) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeBuffer.String()
}

func (m *mockConn) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}
