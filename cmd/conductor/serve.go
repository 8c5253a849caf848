package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"conductor/internal/backend"
	"conductor/internal/chat"
	"conductor/internal/config"
	"conductor/internal/logging"
	"conductor/internal/notify"
	"conductor/internal/observability"
	"conductor/internal/orchestrator"
	"conductor/internal/ports"
	httpserver "conductor/internal/server/http"
	"conductor/internal/signals"
	"conductor/internal/task"
	"conductor/internal/workspace"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context) error {
	cfg, err := config.Load(config.WithConfigPath(discoverConfigPath()))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Configure(os.Stderr, cfg.Logging.Level)
	logger := logging.NewComponentLogger("Main")
	logger.Info("Starting conductor %s on %s", version, cfg.Server.Addr)

	tracerProvider, err := observability.NewTracerProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := task.New(task.Config{
		MaxConcurrent:   cfg.Registry.MaxConcurrent,
		RetentionWindow: cfg.Registry.RetentionWindow,
		SweepInterval:   cfg.Registry.SweepInterval,
	}, logging.NewComponentLogger("TaskRegistry"))
	registry.Start()
	defer registry.Stop()

	execBackend, err := backend.NewLocal(backend.LocalConfig{
		WorkDir:        cfg.Backend.WorkDir,
		Shell:          cfg.Backend.Shell,
		DefaultTimeout: cfg.Backend.DefaultTimeout,
	}, logging.NewComponentLogger("LocalBackend"))
	if err != nil {
		return fmt.Errorf("init backend: %w", err)
	}

	store, chatService, notifier, err := buildCollaborators(cfg)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		ChatEnabled:        cfg.Orchestrator.ChatEnabled && chatService != nil,
		DefaultObservers:   cfg.Orchestrator.DefaultObservers,
		ResponseTimeout:    cfg.Orchestrator.ResponseTimeout,
		ReleaseDelay:       cfg.Orchestrator.ReleaseDelay,
		OutputPreviewLimit: cfg.Orchestrator.OutputPreviewLimit,
	}, orchestrator.Dependencies{
		Registry:  registry,
		Backend:   execBackend,
		Workspace: store,
		Chat:      chatService,
		Notifier:  notifier,
		Metrics:   orchestrator.MustNewMetrics(promRegistry),
		Tracer:    tracerProvider.Tracer(),
		Logger:    logging.NewComponentLogger("Orchestrator"),
	})
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	signalHandler := signals.New(signals.Dependencies{
		Registry:  registry,
		Backend:   execBackend,
		Workspace: store,
		Chat:      chatService,
		Metrics:   signals.MustNewMetrics(promRegistry),
		Logger:    logging.NewComponentLogger("SignalHandler"),
	})

	server, err := httpserver.New(cfg.Server, httpserver.Dependencies{
		Orchestrator: orch,
		Signals:      signalHandler,
		Registry:     registry,
		Backend:      execBackend,
		Workspace:    store,
		Chat:         chatService,
		Gatherer:     promRegistry,
		Tracer:       tracerProvider.Tracer(),
		Logger:       logging.NewComponentLogger("HTTPServer"),
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("Server listening on %s", cfg.Server.Addr)
		return server.Start()
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown: %v", err)
		}
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("Tracer shutdown: %v", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// buildCollaborators constructs the workspace, chat and notification clients.
// In dev mode everything stays in memory; otherwise a collaborator with an
// empty base URL is simply absent.
func buildCollaborators(cfg config.Config) (ports.WorkspaceStore, ports.ChatService, ports.AgentNotifier, error) {
	if devMode {
		return workspace.NewMemoryStore(), chat.NewRecording(), nil, nil
	}

	var store ports.WorkspaceStore
	if cfg.Workspace.BaseURL != "" {
		client, err := workspace.NewClient(workspace.ClientConfig{
			BaseURL:   cfg.Workspace.BaseURL,
			AuthToken: cfg.Workspace.AuthToken,
			Timeout:   cfg.Workspace.Timeout,
		}, logging.NewComponentLogger("WorkspaceClient"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init workspace client: %w", err)
		}
		store = client
	} else {
		store = workspace.NewMemoryStore()
	}

	var chatService ports.ChatService
	if cfg.Chat.BaseURL != "" {
		client, err := chat.NewClient(chat.ClientConfig{
			BaseURL:   cfg.Chat.BaseURL,
			AuthToken: cfg.Chat.AuthToken,
			Timeout:   cfg.Chat.Timeout,
		}, logging.NewComponentLogger("ChatClient"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init chat client: %w", err)
		}
		chatService = client
	}

	var notifier ports.AgentNotifier
	if cfg.Notify.BaseURL != "" {
		client, err := notify.NewClient(notify.ClientConfig{
			BaseURL:   cfg.Notify.BaseURL,
			AuthToken: cfg.Notify.AuthToken,
			Timeout:   cfg.Notify.Timeout,
		}, logging.NewComponentLogger("Notifier"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init notify client: %w", err)
		}
		notifier = client
	}

	return store, chatService, notifier, nil
}
