package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/lightci/internal/artifact"
	"github.com/me/lightci/internal/broadcast"
	"github.com/me/lightci/internal/config"
	"github.com/me/lightci/internal/engine"
	"github.com/me/lightci/internal/executor"
	"github.com/me/lightci/internal/logging"
	"github.com/me/lightci/internal/server"
	"github.com/me/lightci/internal/store"
	"github.com/me/lightci/internal/workspace"
)

func main() {
	cfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Database path")
	flag.StringVar(&cfg.WorkspaceRoot, "workspace-root", cfg.WorkspaceRoot, "Root directory for build workspaces")
	flag.StringVar(&cfg.ArtifactRoot, "artifact-root", cfg.ArtifactRoot, "Root directory for stored artifacts")
	flag.StringVar(&cfg.Executor, "executor", cfg.Executor, "Step executor: local, docker")
	flag.StringVar(&cfg.DockerImage, "docker-image", cfg.DockerImage, "Image for the docker executor")
	flag.IntVar(&cfg.ArtifactKeep, "artifact-keep", cfg.ArtifactKeep, "Artifact versions kept per id (0 disables retention)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(config.DataDir(), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", config.DataDir(), err)
			os.Exit(1)
		}
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", cfg.DBPath)

	// Executor registry: local is always available, docker by request.
	reg := executor.NewRegistry(logger)
	reg.Register(executor.NewLocalExecutor(cfg.WorkspaceRoot, logger))
	reg.Register(executor.NewDockerExecutor(cfg.WorkspaceRoot, cfg.DockerImage, logger))

	exec, err := reg.Get(executor.Type(cfg.Executor))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	manager, err := workspace.NewManager(cfg.WorkspaceRoot, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workspace root: %v\n", err)
		os.Exit(1)
	}

	artifacts, err := artifact.NewStore(cfg.ArtifactRoot, artifact.RetentionPolicy{KeepLast: cfg.ArtifactKeep}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "artifact root: %v\n", err)
		os.Exit(1)
	}

	broker := broadcast.NewBroker(0, logger)
	defer broker.Close()

	eng := engine.New(st, exec, broker, logger,
		engine.WithWorkspaceManager(manager),
		engine.WithGitHelper(workspace.NewGitHelper(workspace.GitConfig{Depth: 1}, logger)),
	)

	srv := server.New(cfg, eng, logger, server.WithArtifactStore(artifacts))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Serve until interrupted, then drain in-flight builds.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server listening", "addr", cfg.Addr, "executor", cfg.Executor)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "server: %v\n", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	eng.Wait()
}
