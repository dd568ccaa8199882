// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/pagewatch/internal/auth"
	"github.com/bissquit/pagewatch/internal/config"
	"github.com/bissquit/pagewatch/internal/device"
	devicepostgres "github.com/bissquit/pagewatch/internal/device/postgres"
	"github.com/bissquit/pagewatch/internal/game"
	gameredis "github.com/bissquit/pagewatch/internal/game/redis"
	"github.com/bissquit/pagewatch/internal/incident"
	incidentpostgres "github.com/bissquit/pagewatch/internal/incident/postgres"
	"github.com/bissquit/pagewatch/internal/ingest"
	"github.com/bissquit/pagewatch/internal/notify"
	"github.com/bissquit/pagewatch/internal/notify/apns"
	"github.com/bissquit/pagewatch/internal/notify/fcm"
	notifypostgres "github.com/bissquit/pagewatch/internal/notify/postgres"
	"github.com/bissquit/pagewatch/internal/notify/webpush"
	"github.com/bissquit/pagewatch/internal/pkg/ctxlog"
	"github.com/bissquit/pagewatch/internal/pkg/httputil"
	"github.com/bissquit/pagewatch/internal/pkg/metrics"
	"github.com/bissquit/pagewatch/internal/pkg/postgres"
	"github.com/bissquit/pagewatch/internal/pkg/redisconn"
	"github.com/bissquit/pagewatch/internal/schedule"
	schedulepostgres "github.com/bissquit/pagewatch/internal/schedule/postgres"
	"github.com/bissquit/pagewatch/internal/stream"
	"github.com/bissquit/pagewatch/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *redis.Client
	nats          *nats.Conn
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	notifyWorker  *notify.Worker
	janitor       *incident.Janitor
	consumer      *ingest.Consumer
	hub           *stream.Hub
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	// Redis backs game sessions and scores only.
	if cfg.Game.Enabled {
		app.redis, err = redisconn.Connect(connectCtx, redisconn.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			db.Close()
			metricsCancel()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	if cfg.NATS.Enabled {
		app.nats, err = nats.Connect(cfg.NATS.URL,
			nats.Name("pagewatch"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			app.closeConnections()
			metricsCancel()
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
	}

	go app.collectDBMetrics(metricsCtx)

	router, err := app.setupRouter(metricsCtx)
	if err != nil {
		app.closeConnections()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Stop intake first so no new incidents arrive, then the pipeline
	// workers, then the servers.
	if a.consumer != nil {
		a.consumer.Stop()
	}
	if a.notifyWorker != nil {
		a.notifyWorker.Stop()
	}
	if a.janitor != nil {
		a.janitor.Stop()
	}
	if a.hub != nil {
		a.hub.Close()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.closeConnections()

	return errors.Join(errs...)
}

func (a *App) closeConnections() {
	if a.nats != nil {
		a.nats.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("close redis", "error", err)
		}
	}
	a.db.Close()
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) collectQueueMetrics(ctx context.Context, repo notify.Repository) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := repo.QueueStats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			notify.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// NotifyWorker returns the notification worker instance.
// Used in tests to access worker state. Returns nil if notifications disabled.
func (a *App) NotifyWorker() *notify.Worker {
	return a.notifyWorker
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>PageWatch API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	incidentRepo := incidentpostgres.NewRepository(a.db)
	incidentService := incident.NewService(incidentRepo, a.config.Incident.Retention)
	incidentHandler := incident.NewHandler(incidentService)

	scheduleRepo := schedulepostgres.NewRepository(a.db)
	scheduleService := schedule.NewService(scheduleRepo)
	scheduleResolver := schedule.NewResolver(scheduleRepo)
	scheduleHandler := schedule.NewHandler(scheduleService)

	deviceRepo := devicepostgres.NewRepository(a.db)
	deviceService := device.NewService(deviceRepo)
	deviceHandler := device.NewHandler(deviceService)

	// Live change stream fans persisted changes out to connected
	// browser clients alongside the push pipeline.
	a.hub = stream.NewHub()
	incidentService.Subscribe(a.hub)

	slog.Info("notifications configured",
		"enabled", a.config.Notify.Enabled,
		"apns_enabled", a.config.Notify.APNs.Enabled,
		"fcm_enabled", a.config.Notify.FCM.Enabled,
		"webpush_enabled", a.config.Notify.WebPush.Enabled,
	)

	if a.config.Notify.Enabled {
		notifyRepo := notifypostgres.NewRepository(a.db)

		apnsSender, err := apns.NewSender(apns.Config{
			Enabled:   a.config.Notify.APNs.Enabled,
			KeyID:     a.config.Notify.APNs.KeyID,
			TeamID:    a.config.Notify.APNs.TeamID,
			BundleID:  a.config.Notify.APNs.BundleID,
			RateLimit: a.config.Notify.APNs.RateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create apns sender: %w", err)
		}
		if !a.config.Notify.APNs.Enabled {
			slog.Warn("apns sender is disabled: ios pushes will not be sent")
		}

		fcmSender, err := fcm.NewSender(fcm.Config{
			Enabled:         a.config.Notify.FCM.Enabled,
			ProjectID:       a.config.Notify.FCM.ProjectID,
			CredentialsFile: a.config.Notify.FCM.CredentialsFile,
			RateLimit:       a.config.Notify.FCM.RateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create fcm sender: %w", err)
		}
		if !a.config.Notify.FCM.Enabled {
			slog.Warn("fcm sender is disabled: android pushes will not be sent")
		}

		webpushSender, err := webpush.NewSender(webpush.Config{
			Enabled:         a.config.Notify.WebPush.Enabled,
			VAPIDPublicKey:  a.config.Notify.WebPush.VAPIDPublicKey,
			VAPIDPrivateKey: a.config.Notify.WebPush.VAPIDPrivateKey,
			Subscriber:      a.config.Notify.WebPush.Subscriber,
			RateLimit:       a.config.Notify.WebPush.RateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("create webpush sender: %w", err)
		}

		dispatcher := notify.NewDispatcher(apnsSender, fcmSender, webpushSender)
		notifier := notify.NewNotifier(notifyRepo, deviceService, incidentService, a.config.Notify.Retry.MaxAttempts)

		workerConfig := notify.WorkerConfig{
			BatchSize:         a.config.Notify.Worker.BatchSize,
			PollInterval:      a.config.Notify.Worker.PollInterval,
			MaxAttempts:       a.config.Notify.Retry.MaxAttempts,
			InitialBackoff:    a.config.Notify.Retry.InitialBackoff,
			MaxBackoff:        a.config.Notify.Retry.MaxBackoff,
			BackoffMultiplier: a.config.Notify.Retry.BackoffMultiplier,
			NumDeliverers:     a.config.Notify.Worker.NumDeliverers,
		}

		a.notifyWorker = notify.NewWorker(workerConfig, notifyRepo, notifier, dispatcher)
		a.notifyWorker.Start(ctx)

		// Start queue metrics collection
		go a.collectQueueMetrics(ctx, notifyRepo)
	}

	ingestAdapter := ingest.NewAdapter(scheduleResolver, incidentService)
	ingestHandler := ingest.NewHandler(ingestAdapter, a.config.Ingest.WebhookSecret)

	if a.nats != nil {
		a.consumer = ingest.NewConsumer(a.nats, ingestAdapter)
		if err := a.consumer.Start(); err != nil {
			return nil, fmt.Errorf("start alarm consumer: %w", err)
		}
	}

	var gameStore game.SessionStore
	if a.redis != nil {
		gameStore = gameredis.NewStore(a.redis)
	}
	gameService := game.NewService(game.Config{
		Enabled:         a.config.Game.Enabled,
		SessionDuration: a.config.Game.SessionDuration,
	}, gameStore, incidentService)
	gameHandler := game.NewHandler(gameService)

	a.janitor = incident.NewJanitor(incidentService, a.config.Incident.SweepInterval)
	a.janitor.Start(ctx)

	authenticator := auth.NewAuthenticator(auth.Config{
		SecretKey: a.config.Auth.SecretKey,
		Issuer:    a.config.Auth.Issuer,
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Alarm webhook authenticates with a shared secret, not a
		// bearer token.
		ingestHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httputil.AuthMiddleware(authenticator))

			incidentHandler.RegisterRoutes(r)
			scheduleHandler.RegisterRoutes(r)
			deviceHandler.RegisterRoutes(r)
			gameHandler.RegisterRoutes(r)

			r.Get("/stream", a.hub.ServeHTTP)
		})
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
