// Command reelkitd runs the media-editing session service: REST endpoints
// for sessions, media and templates, plus the streaming chat websocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/openreel/reelkit/config"
	"github.com/openreel/reelkit/logger"
	"github.com/openreel/reelkit/server"
	"github.com/openreel/reelkit/telemetry"
	"github.com/openreel/reelkit/version"
)

const shutdownGrace = 10 * time.Second

var (
	flagConfig  string
	flagAddr    string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "reelkitd",
	Short:         "Session-oriented media editing service",
	Version:       version.GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			logger.SetLevel(slog.LevelDebug)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.SetVersionTemplate(version.GetVersionInfo() + "\n")
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to the YAML config file")
	rootCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

func serve(ctx context.Context) error {
	// Environment overrides come from .env when present; a missing file
	// is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.Server.Addr = flagAddr
	}

	if cfg.Telemetry.OTLPEndpoint != "" {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		telemetry.SetupGlobal(tp)
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := tp.Shutdown(shutCtx); err != nil {
				logger.Error("trace provider shutdown failed", "error", err)
			}
		}()
	}

	srv, err := server.New(cfg, server.Options{})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("reelkitd listening", append([]any{"addr", cfg.Server.Addr}, version.GetBuildInfo()...)...)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
