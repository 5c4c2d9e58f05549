package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// CreateListener creates a TCP listener on address with SO_REUSEADDR set, so
// a restarted server can rebind while old connections sit in TIME_WAIT.
func CreateListener(ctx context.Context, network, address string) (net.Listener, error) {
	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return nil, fmt.Errorf("unsupported network type: %s, only 'tcp', 'tcp4', or 'tcp6' are supported for CreateListener", network)
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	l, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s %s: %w", network, address, err)
	}
	return l, nil
}

func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return fmt.Errorf("raw control failed for %s %s: %w", network, address, err)
	}
	if sockErr != nil {
		return fmt.Errorf("setsockopt SO_REUSEADDR failed for %s %s: %w", network, address, sockErr)
	}
	return nil
}

// IsAddrInUse reports whether err was caused by the address already being bound.
func IsAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}

// ListenerPort returns the TCP port l is bound to, or 0 for non-TCP listeners.
func ListenerPort(l net.Listener) int {
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// PeerAddr returns the remote address of conn as a string, "unknown" when
// the connection does not report one.
func PeerAddr(conn net.Conn) string {
	if conn == nil {
		return "unknown"
	}
	addr := conn.RemoteAddr()
	if addr == nil {
		return "unknown"
	}
	return addr.String()
}
