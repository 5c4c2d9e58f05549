package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/minihttpd/internal/admin"
	"example.com/minihttpd/internal/config"
	"example.com/minihttpd/internal/handlers/staticfileserver"
	"example.com/minihttpd/internal/logger"
	"example.com/minihttpd/internal/util"
)

// Server owns the main and admin listeners and their acceptors.
type Server struct {
	cfg          *config.Config
	log          *logger.Logger
	mainHandler  ConnHandler
	adminHandler ConnHandler

	mu        sync.Mutex
	main      *Acceptor
	admin     *Acceptor
	closeOnce sync.Once
	closed    chan struct{} // closed once the listeners are closed
}

// NewServer builds the static file pipeline and the admin gateway from cfg.
// Nothing is bound until Listen or Run.
func NewServer(cfg *config.Config, lg *logger.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	files, err := staticfileserver.New(cfg.StaticFiles, lg, cfg.OriginalFilePath())
	if err != nil {
		return nil, err
	}
	mainHandler, err := NewRequestHandler(cfg.DocumentRoot, files, lg, cfg.ReadTimeout())
	if err != nil {
		return nil, err
	}
	username, password := cfg.AdminCredentials()
	gateway := admin.NewGateway(admin.Credentials{Username: username, Password: password}, lg, cfg.AdminBufferSize())
	gateway.SetReadTimeout(cfg.ReadTimeout())

	return newServerWithHandlers(cfg, lg, mainHandler, gateway), nil
}

func newServerWithHandlers(cfg *config.Config, lg *logger.Logger, mainHandler, adminHandler ConnHandler) *Server {
	return &Server{
		cfg:          cfg,
		log:          lg,
		mainHandler:  mainHandler,
		adminHandler: adminHandler,
		closed:       make(chan struct{}),
	}
}

// Listen binds both listeners. It is a no-op when already bound.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.main != nil {
		return nil
	}

	mainDispatcher, err := NewDispatcher(s.cfg.DispatcherKind(), s.cfg.MaxThreads)
	if err != nil {
		return err
	}
	adminDispatcher, err := NewDispatcher(s.cfg.DispatcherKind(), s.cfg.MaxThreads)
	if err != nil {
		return err
	}

	mainLn, err := listen(ctx, "main", s.cfg.MainAddr())
	if err != nil {
		return err
	}
	adminLn, err := listen(ctx, "admin", s.cfg.AdminAddr())
	if err != nil {
		mainLn.Close()
		return err
	}

	s.main = NewAcceptor("main", mainLn, s.mainHandler, mainDispatcher, s.log)
	s.admin = NewAcceptor("admin", adminLn, s.adminHandler, adminDispatcher, s.log)
	s.log.Info("Server listening", logger.LogFields{
		"address":       mainLn.Addr().String(),
		"admin_address": adminLn.Addr().String(),
		"document_root": s.cfg.DocumentRoot,
		"dispatcher":    s.cfg.DispatcherKind(),
	})
	return nil
}

func listen(ctx context.Context, name, addr string) (net.Listener, error) {
	l, err := util.CreateListener(ctx, "tcp", addr)
	if err != nil {
		if util.IsAddrInUse(err) {
			return nil, fmt.Errorf("%s listener: address %s already in use: %w", name, addr, err)
		}
		return nil, fmt.Errorf("%s listener: %w", name, err)
	}
	return l, nil
}

// MainAddr returns the bound main listener address, nil before Listen.
func (s *Server) MainAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.main == nil {
		return nil
	}
	return s.main.Addr()
}

// AdminAddr returns the bound admin listener address, nil before Listen.
func (s *Server) AdminAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.admin == nil {
		return nil
	}
	return s.admin.Addr()
}

// Run binds (if needed) and serves both listeners until ctx is cancelled, an
// acceptor fails or Shutdown is called. On cancellation or failure it shuts
// down gracefully itself; after an explicit Shutdown it returns once both
// accept loops have stopped.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	s.log.StartPeriodicStats(ctx, s.cfg.StatsInterval())

	s.mu.Lock()
	mainAcc, adminAcc := s.main, s.admin
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(mainAcc.Serve)
	g.Go(adminAcc.Serve)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return s.Shutdown(s.cfg.GracefulShutdownTimeout())
		case <-s.closed:
			return nil
		}
	})
	return g.Wait()
}

// Shutdown closes both listeners and waits up to timeout for in-flight
// connections. It is safe to call more than once.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	mainAcc, adminAcc := s.main, s.admin
	s.mu.Unlock()
	if mainAcc == nil {
		return nil
	}

	s.closeOnce.Do(func() {
		s.log.Info("Shutting down", logger.LogFields{"timeout": timeout.String()})
		for _, a := range []*Acceptor{mainAcc, adminAcc} {
			if err := a.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("Error closing listener", logger.LogFields{"listener": a.name, "error": err.Error()})
			}
		}
		close(s.closed)
	})

	done := make(chan struct{})
	go func() {
		mainAcc.Wait()
		adminAcc.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		s.log.Info("All connections finished")
		return nil
	case <-timer.C:
		s.log.Warn("Graceful shutdown timed out with connections still active", logger.LogFields{"timeout": timeout.String()})
		return fmt.Errorf("graceful shutdown timed out after %s", timeout)
	}
}
