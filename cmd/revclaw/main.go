package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/revclaw/revclaw/internal/adapter/a2a"
	rchttp "github.com/revclaw/revclaw/internal/adapter/http"
	"github.com/revclaw/revclaw/internal/adapter/mcp"
	rcnats "github.com/revclaw/revclaw/internal/adapter/nats"
	"github.com/revclaw/revclaw/internal/adapter/otel"
	"github.com/revclaw/revclaw/internal/adapter/postgres"
	"github.com/revclaw/revclaw/internal/adapter/ristretto"
	"github.com/revclaw/revclaw/internal/adapter/telegram"
	"github.com/revclaw/revclaw/internal/adapter/ws"
	"github.com/revclaw/revclaw/internal/config"
	"github.com/revclaw/revclaw/internal/logger"
	"github.com/revclaw/revclaw/internal/middleware"
	"github.com/revclaw/revclaw/internal/port/notifier"
	"github.com/revclaw/revclaw/internal/service"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"mcp_enabled", cfg.MCP.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	otelShutdown, err := otel.Setup(ctx, cfg.Otel, cfg.Logging.Service, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := rcnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	idemKV, err := queue.IdempotencyBucket(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("idempotency bucket: %w", err)
	}

	authCache, err := ristretto.New(cfg.Cache.MaxSizeMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer authCache.Close()

	cancelMetrics, err := metrics.ObserveEvents(ctx, queue)
	if err != nil {
		return fmt.Errorf("metrics subscriber: %w", err)
	}
	defer cancelMetrics()

	// --- Notification channels ---
	hub := ws.NewHub()
	tg := telegram.NewNotifier(cfg.Telegram)
	var notifiers []notifier.Notifier
	if cfg.Telegram.BotToken != "" {
		notifiers = append(notifiers, tg)
	}

	// --- Services ---
	store := postgres.NewStore(pool)
	events := postgres.NewEventStore(pool)
	emitter := service.NewEmitter(events, queue)
	announcer := service.NewAnnouncer(notifiers, hub, queue)

	authSvc := service.NewAuthService(store, &cfg.Auth)
	tokenSvc := service.NewTokenService(store, &cfg.Auth, authCache, emitter)
	regSvc := service.NewRegistrationService(store, &cfg.Auth, cfg.Server.BaseURL, emitter, announcer)
	intentSvc := service.NewIntentService(store, &cfg.Auth, emitter, announcer)
	planSvc := service.NewPlanService(store, &cfg.Auth, cfg.Server.BaseURL, emitter, announcer)
	projectSvc := service.NewProjectService(store, emitter)

	// --- Rate limiting ---
	limiter := middleware.NewRateLimiter(middleware.NewMemoryWindowStore(), cfg.Rate.MaxRequests, cfg.Rate.Window)
	limiter.OnReject = func(r *http.Request) {
		metrics.RateLimitRejections.Add(r.Context(), 1)
	}
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	// --- HTTP ---
	handlers := &rchttp.Handlers{
		Registrations: regSvc,
		Tokens:        tokenSvc,
		Intents:       intentSvc,
		Plans:         planSvc,
		Projects:      projectSvc,
		Auth:          authSvc,
		Events:        events,
		Hub:           hub,
		Telegram:      tg,
		Version:       version,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(rchttp.SecurityHeaders)
	r.Use(rchttp.CORS(cfg.Server.CORSOrigin))
	r.Use(rchttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	rchttp.MountRoutes(r, handlers, rchttp.RouteConfig{
		RateLimiter:           limiter,
		Idempotency:           middleware.Idempotency(idemKV),
		TelegramWebhookSecret: cfg.Telegram.WebhookSecret,
	})
	a2a.NewHandler(cfg.Server.BaseURL, version).MountRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var mcpSrv *mcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcp.NewServer(
			mcp.ServerConfig{Addr: ":" + cfg.MCP.Port, Name: "revclaw", Version: version},
			mcp.ServerDeps{
				Registrar: regSvc,
				Tokens:    tokenSvc,
				Intents:   intentSvc,
				Plans:     planSvc,
				AuthDoc:   rchttp.AuthDoc,
			},
		)
		g.Go(func() error {
			return mcpSrv.Start()
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if mcpSrv != nil {
			if err := mcpSrv.Stop(shutdownCtx); err != nil {
				slog.Warn("mcp shutdown", "error", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
