package server

import (
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"example.com/minihttpd/internal/logger"
	"example.com/minihttpd/internal/util"
)

// acceptRetryDelay is the pause after a temporary Accept failure.
const acceptRetryDelay = 50 * time.Millisecond

// Acceptor feeds connections from one listener to a handler through a
// dispatcher.
type Acceptor struct {
	name       string
	listener   net.Listener
	handler    ConnHandler
	dispatcher Dispatcher
	log        *logger.Logger
}

// NewAcceptor wires listener to handler. name labels diagnostics ("main",
// "admin").
func NewAcceptor(name string, listener net.Listener, handler ConnHandler, dispatcher Dispatcher, lg *logger.Logger) *Acceptor {
	if dispatcher == nil {
		dispatcher = NewUnboundedDispatcher()
	}
	if lg == nil {
		lg = logger.NewDiscardLogger()
	}
	return &Acceptor{
		name:       name,
		listener:   listener,
		handler:    handler,
		dispatcher: dispatcher,
		log:        lg,
	}
}

// Addr returns the listener address.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Serve accepts until the listener is closed, then returns nil. Any other
// non-temporary Accept error is returned. Serve does not wait for in-flight
// connections; see Wait.
func (a *Acceptor) Serve() error {
	a.log.Info("Listening", logger.LogFields{"listener": a.name, "address": a.listener.Addr().String()})
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				a.log.Debug("Listener closed, accept loop exiting", logger.LogFields{"listener": a.name})
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(acceptRetryDelay)
				continue
			}
			a.log.LogError(fmt.Sprintf("Accept failed on %s listener: %v", a.name, err))
			return fmt.Errorf("%s listener accept: %w", a.name, err)
		}

		connID := uuid.NewString()
		a.dispatcher.Dispatch(func() { a.serveConn(conn, connID) })
	}
}

// serveConn runs the handler and contains any panic to this connection.
func (a *Acceptor) serveConn(conn net.Conn, connID string) {
	peer := util.PeerAddr(conn)
	defer func() {
		if r := recover(); r != nil {
			conn.Close()
			a.log.LogError(fmt.Sprintf("Panic while serving %s on %s listener: %v", peer, a.name, r))
			a.log.Error("Connection handler panicked", logger.LogFields{
				"listener": a.name,
				"conn_id":  connID,
				"peer":     peer,
				"stack":    string(debug.Stack()),
			})
		}
	}()
	a.log.Debug("Accepted connection", logger.LogFields{"listener": a.name, "conn_id": connID, "peer": peer})
	a.handler.ServeConn(conn)
	a.log.Debug("Connection finished", logger.LogFields{"listener": a.name, "conn_id": connID})
}

// Close stops accepting. In-flight connections keep running.
func (a *Acceptor) Close() error {
	return a.listener.Close()
}

// Wait blocks until every dispatched connection has finished.
func (a *Acceptor) Wait() {
	a.dispatcher.Wait()
}
