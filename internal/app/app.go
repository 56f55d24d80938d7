package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	apphttp "github.com/yungbote/neurobridge-struggle/internal/http"
	"github.com/yungbote/neurobridge-struggle/internal/observability"
	"github.com/yungbote/neurobridge-struggle/internal/platform/logger"
	"github.com/yungbote/neurobridge-struggle/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Storage  Storage
	Services Services
	Metrics  *observability.Metrics
	Server   *apphttp.Server

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
	done         chan struct{}
}

func New(ctx context.Context) (*App, error) {
	cfg := LoadConfig()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	var metrics *observability.Metrics
	if observability.Enabled() {
		metrics = observability.New()
	}

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	storage, err := wireStorage(log, cfg, clients)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}
	svcs, err := wireServices(log, cfg, clients, storage, metrics)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}
	server := wireServer(log, cfg, clients, svcs, metrics)

	return &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Storage:      storage,
		Services:     svcs,
		Metrics:      metrics,
		Server:       server,
		otelShutdown: otelShutdown,
	}, nil
}

// Start recovers persisted sessions, then launches background workers. It
// returns once recovery has finished.
func (a *App) Start(ctx context.Context) error {
	if a == nil || a.cancel != nil {
		return nil
	}
	if _, err := a.Services.Lifecycle.Recover(ctx); err != nil {
		return fmt.Errorf("recover sessions: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	if err := a.Services.Scheduler.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("start lifecycle scheduler: %w", err)
	}

	if a.Services.Bus != nil {
		hub := a.Services.Hub
		if err := a.Services.Bus.StartForwarder(ctx, func(m realtime.Message) { hub.Broadcast(m) }); err != nil {
			cancel()
			return fmt.Errorf("start realtime forwarder: %w", err)
		}
	}

	if a.Metrics != nil {
		a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		a.Metrics.NewSLOEvaluator(a.Log).Start(ctx)
		if a.Clients.DB != nil {
			a.Metrics.StartPostgresCollector(ctx, a.Log, a.Clients.DB.DB())
		}
		if a.Clients.Redis != nil {
			a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis)
		}
	}

	go func() {
		defer close(a.done)
		if a.Services.Consumer == nil {
			<-ctx.Done()
			return
		}
		if err := a.Services.Consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Log.Error("signal consumer stopped", "error", err)
		}
	}()
	return nil
}

// Run serves HTTP until the server is shut down.
func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("HTTP server listening", "port", a.Cfg.Port)
	return a.Server.Run()
}

// Close drains in order: stop accepting requests, stop background work,
// write every active session, then release clients.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("http shutdown", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
		a.Services.Scheduler.Stop()
		select {
		case <-a.done:
		case <-ctx.Done():
		}
	}
	if a.Services.Store != nil {
		if err := a.Services.Store.Close(ctx); err != nil {
			a.Log.Error("session store close", "error", err)
		}
	}
	if a.Services.Bus != nil {
		_ = a.Services.Bus.Close()
	}
	a.Clients.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otelShutdown(shutdownCtx); err != nil {
		a.Log.Warn("otel shutdown", "error", err)
	}
	a.Log.Sync()
}
