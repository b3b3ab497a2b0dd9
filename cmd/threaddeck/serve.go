package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codefionn/threaddeck/internal/config"
	"github.com/codefionn/threaddeck/internal/lockfile"
	"github.com/codefionn/threaddeck/internal/logger"
	"github.com/codefionn/threaddeck/internal/pprof"
	"github.com/codefionn/threaddeck/internal/session"
	"github.com/codefionn/threaddeck/internal/web"
)

const shutdownTimeout = 10 * time.Second

var (
	listenAddr string
	authToken  string
	profiling  pprof.Config
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session and the web server",
	Long:  "Start the thread session, serve the HTTP and WebSocket API and reload workspaces when the config file changes.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "Listen address (overrides the config)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token required by the API (overrides the config)")
	rootCmd.PersistentFlags().StringVar(&profiling.HTTPAddr, "pprof-addr", "", "Serve /debug/pprof on this address")
	rootCmd.PersistentFlags().StringVar(&profiling.CPUProfile, "cpu-profile", "", "Write a CPU profile to this file")
	rootCmd.PersistentFlags().StringVar(&profiling.HeapProfile, "heap-profile", "", "Write a heap profile to this file on shutdown")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if authToken != "" {
		cfg.AuthToken = authToken
	}
	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Global().Close()

	lock := lockfile.New(cfg.DataDir)
	if err := lock.TryAcquire(cfg.ListenAddr); err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("%v", err)
		}
	}()

	var profiler *pprof.Handler
	if profiling.Enabled() {
		profiler = pprof.NewHandler(profiling)
		if err := profiler.Start(); err != nil {
			return err
		}
		defer profiler.Stop(context.Background())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := session.New(cfg, session.Deps{})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if err := sess.Start(ctx); err != nil {
		_ = sess.Close(context.Background())
		return fmt.Errorf("failed to start session: %w", err)
	}

	server := web.NewServer(cfg.ListenAddr, cfg.AuthToken, sess)
	if err := server.Start(); err != nil {
		_ = sess.Close(context.Background())
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving threaddeck on http://%s\n", server.Addr())

	watcher, err := config.Watch(configPath(), sess.ApplyConfig)
	if err != nil {
		logger.Warn("config reload disabled: %v", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if watcher != nil {
		errs = append(errs, watcher.Close())
	}
	errs = append(errs, server.Stop(shutdownCtx))
	errs = append(errs, sess.Close(shutdownCtx))
	if profiler != nil {
		errs = append(errs, profiler.Stop(shutdownCtx))
	}
	return errors.Join(errs...)
}
