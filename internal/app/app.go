package app

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/adforge-backend/internal/data/db"
	apphttp "github.com/yungbote/adforge-backend/internal/http"
	"github.com/yungbote/adforge-backend/internal/observability"
	"github.com/yungbote/adforge-backend/internal/platform/envutil"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
	"github.com/yungbote/adforge-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *apphttp.Server
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	SSEHub   *realtime.SSEHub

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	otelShutdown := observability.InitOTel(context.Background(), log, cfg.Otel)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	clients, err := wireClients(log, cfg)
	if err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	hub := realtime.NewSSEHub(log)
	reposet := wireRepos(theDB, log)
	serviceset := wireServices(theDB, log, cfg, reposet, clients)
	handlerset := wireHandlers(theDB, log, serviceset, hub)
	middleware := wireMiddleware(log, cfg)

	server := apphttp.NewServer(apphttp.RouterConfig{
		Log:             log,
		ServiceName:     cfg.Otel.ServiceName,
		TracingEnabled:  cfg.Otel.Enabled,
		CORSOrigins:     cfg.CORSOrigins,
		AuthMiddleware:  middleware.Auth,
		MatrixHandler:   handlerset.Matrix,
		RealtimeHandler: handlerset.Realtime,
		HealthHandler:   handlerset.Health,
	})

	return &App{
		Log:          log,
		DB:           theDB,
		Server:       server,
		Cfg:          cfg,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		SSEHub:       hub,
		pg:           pg,
		otelShutdown: otelShutdown,
	}, nil
}

// Start begins forwarding row events from the bus to SSE subscribers.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.Clients.Bus.StartForwarder(ctx, a.SSEHub.ForwardRowStatus); err != nil {
		cancel()
		a.cancel = nil
		return fmt.Errorf("start event forwarder: %w", err)
	}
	return nil
}

func (a *App) Run(addr string) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "addr", addr)
	return a.Server.Run(addr)
}

// Close stops accepting requests, waits for in-flight renders up to the
// configured shutdown timeout, then releases clients.
func (a *App) Close() {
	if a == nil {
		return
	}
	timeout := a.Cfg.Engine.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if a.SSEHub != nil {
		a.SSEHub.CloseAll()
	}
	// Stop renders first so a render-all request still holding its
	// connection returns instead of outliving the server drain.
	renderDone := make(chan error, 1)
	if a.Services.Orchestrator != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			renderDone <- a.Services.Orchestrator.Shutdown(ctx)
		}()
	} else {
		renderDone <- nil
	}
	if a.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("http shutdown", "error", err)
		}
		cancel()
	}
	if err := <-renderDone; err != nil {
		a.Log.Warn("render shutdown did not finish", "error", err)
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
		cancel()
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	a.Log.Sync()
}
