package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"example.com/minihttpd/internal/config"
	"example.com/minihttpd/internal/logger"
	"example.com/minihttpd/internal/server"
)

// loadConfig resolves the --config path and loads it with the command's
// override flags applied.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(configFile)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", configFile, err)
	}
	return config.Load(absPath, cmd.Flags())
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	lg, err := logger.NewLogger(cfg.LogFile, cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		if cerr := lg.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "error closing log files: %v\n", cerr)
		}
	}()
	lg.Info("Configuration loaded", logger.LogFields{"config": cfg.OriginalFilePath()})

	srv, err := server.NewServer(cfg, lg)
	if err != nil {
		lg.Error("Failed to initialize server", logger.LogFields{"error": err.Error()})
		return fmt.Errorf("init server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go reopenOnHangup(ctx, lg)

	if err := srv.Listen(ctx); err != nil {
		lg.Error("Failed to bind listeners", logger.LogFields{"error": err.Error()})
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Server listening on %s\n", srv.MainAddr())
	fmt.Fprintf(cmd.OutOrStdout(), "Admin interface listening on %s\n", srv.AdminAddr())

	if err := srv.Run(ctx); err != nil {
		lg.Error("Server exited with an error", logger.LogFields{"error": err.Error()})
		return err
	}
	lg.Info("Server has shut down gracefully")
	return nil
}

// reopenOnHangup reopens the log files on every SIGHUP until ctx is done.
func reopenOnHangup(ctx context.Context, lg *logger.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := lg.ReopenLogFile(); err != nil {
				lg.Error("Failed to reopen log files", logger.LogFields{"error": err.Error()})
			}
		}
	}
}
