package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockwatch/internal/caching"
	"stockwatch/internal/common"
	"stockwatch/internal/config"
	"stockwatch/internal/handlers"
	"stockwatch/internal/jobs/background"
	"stockwatch/internal/metrics"
	"stockwatch/internal/middleware"
	"stockwatch/internal/repositories"
	"stockwatch/internal/repositories/memory"
	"stockwatch/internal/services"
	"stockwatch/pkg/database"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	version = "1.0.0"

	backendLocal  = "local"
	backendRemote = "remote"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	app := &cli.App{
		Name:    "stockwatch",
		Usage:   "consumption decrement and stock alert engine",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "stockwatch.toml",
				Usage:   "path to the TOML config file",
				EnvVars: []string{"STOCKWATCH_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the scheduler and the HTTP API",
				Action: serve,
			},
			{
				Name:   "run-once",
				Usage:  "run one sync cycle over every backend and exit",
				Action: runOnce,
			},
			{
				Name:   "migrate",
				Usage:  "apply the remote database migrations",
				Action: migrateDB,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", cfg.LogLevel)
	}
	log.SetLevel(level)
	return cfg, nil
}

// app holds everything built from config; close releases connections.
type app struct {
	cfg       *config.Config
	registry  *prometheus.Registry
	scheduler *background.SyncScheduler
	backends  handlers.Registry
	cache     caching.CacheService
	checks    map[string]handlers.Pinger
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		backends: make(handlers.Registry),
		checks:   make(map[string]handlers.Pinger),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)
	clock := common.SystemClock{}

	var (
		localItems  repositories.ItemStore
		localAlerts repositories.AlertStore
		redisClient *redis.Client
	)
	switch cfg.Local.Driver {
	case "memory":
		localItems = memory.NewItemStore()
		localAlerts = memory.NewAlertStore()
	default:
		redisClient = caching.NewRedisClient(cfg.Local.RedisAddr, cfg.Local.RedisPassword, cfg.Local.RedisDB)
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		localItems = repositories.NewRedisItemStore(redisClient, cfg.Local.Namespace, backendLocal, m)
		localAlerts = repositories.NewRedisAlertStore(redisClient, cfg.Local.Namespace)
		a.cache = caching.NewRedisCacheService(redisClient)
		a.checks["redis"] = a.cache
	}

	localManager := services.NewStockAlertManager(backendLocal, localItems, localAlerts, clock, cfg.Engine.DefaultMinStockLevel, m)
	localEngine := services.NewDecrementEngine(backendLocal, localItems, localManager, m).WithCallTimeout(cfg.Engine.CallTimeout)
	a.backends[backendLocal] = &handlers.BackendStores{Items: localItems, Alerts: localManager}

	backends := []*background.Backend{{
		Engine:        localEngine,
		CheckInterval: cfg.Local.CheckInterval,
		MinInterval:   cfg.Local.MinInterval,
	}}

	if cfg.RemoteEnabled() {
		remoteBackend, err := a.buildRemote(ctx, clock, m)
		if err != nil {
			a.close()
			return nil, err
		}
		if cfg.Remote.MirrorToLocal {
			remoteBackend.Mirror = services.NewItemMirror(backendLocal, localItems, localManager)
		}
		backends = append(backends, remoteBackend)
	}

	scheduler, err := background.NewSyncScheduler(clock, a.cache, m, cfg.Scheduler.IntervalBuffer, backends...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.scheduler = scheduler
	return a, nil
}

// buildRemote registers the remote backend even when the database is down at
// startup. Its passes then fail with ErrStoreUnavailable until it is back,
// while the local backend keeps running.
func (a *app) buildRemote(ctx context.Context, clock common.Clock, m *metrics.Metrics) (*background.Backend, error) {
	cfg := a.cfg
	if cfg.Remote.AutoMigrate {
		if err := database.Migrate(cfg.Remote.DatabaseURL); err != nil {
			log.WithError(err).Warn("Remote migrations not applied, run `stockwatch migrate` once the database is reachable")
		}
	}

	pool, err := database.NewPool(ctx, cfg.Remote.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	a.checks["postgres"] = handlers.PingFunc(pool.Ping)

	items := repositories.NewPostgresItemStore(pool)
	alerts := repositories.NewPostgresAlertStore(pool)
	manager := services.NewStockAlertManager(backendRemote, items, alerts, clock, cfg.Engine.DefaultMinStockLevel, m)
	a.backends[backendRemote] = &handlers.BackendStores{Items: items, Alerts: manager}

	return &background.Backend{
		Engine:        services.NewDecrementEngine(backendRemote, items, manager, m).WithCallTimeout(cfg.Engine.CallTimeout),
		CheckInterval: cfg.Remote.CheckInterval,
		MinInterval:   cfg.Remote.MinInterval,
	}, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.HTTP.JWTSecret == "" {
		return errors.New("http.jwt_secret is required to serve the API")
	}

	e := newServer(a)

	a.scheduler.Start()
	// The first cycle runs at startup instead of waiting a full interval.
	go a.scheduler.RunCycle(context.Background(), background.TriggerManual)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		log.Infof("Starting stockwatch %s on %s", version, addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown failed")
	}
	return a.scheduler.Stop()
}

func newServer(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(echoMiddleware.RemoveTrailingSlash())

	healthHandlers := handlers.NewHealthHandlers(a.checks, a.scheduler)
	e.GET("/health", healthHandlers.HealthCheck)
	e.GET("/health/live", healthHandlers.LivenessCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	alertHandlers := handlers.NewAlertHandlers(a.backends, a.cache, handlers.DefaultAlertCacheTTL)
	itemHandlers := handlers.NewItemHandlers(a.backends, a.cache, common.SystemClock{})
	syncHandlers := handlers.NewSyncHandlers(a.scheduler)

	v1 := e.Group("/v1")
	v1.Use(middleware.JWTMiddleware(a.cfg.HTTP.JWTSecret))

	v1.POST("/lifecycle/foreground", syncHandlers.Foreground)
	v1.GET("/lifecycle/status", syncHandlers.Status)

	v1.GET("/:backend/alerts", alertHandlers.ListAlerts)
	v1.POST("/:backend/alerts/:id/acknowledge", alertHandlers.AcknowledgeAlert)

	v1.GET("/:backend/items/:id", itemHandlers.GetItem)
	v1.PUT("/:backend/items/:id", itemHandlers.PutItem)
	v1.DELETE("/:backend/items/:id", itemHandlers.DeleteItem)

	return e
}

func runOnce(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	a, err := build(c.Context, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	defer func() { _ = a.scheduler.Stop() }()

	report := a.scheduler.RunCycle(c.Context, background.TriggerManual)
	for _, pass := range report.Passes {
		log.WithFields(log.Fields{
			"backend":        pass.Backend,
			"run_id":         pass.RunID,
			"updated":        pass.UpdatedCount,
			"skipped":        len(pass.Skipped),
			"stale":          len(pass.Stale),
			"failed":         len(pass.Failed),
			"alerts_changed": pass.AlertsChanged,
		}).Info("Pass finished")
	}
	for backend, err := range report.Errors {
		log.WithError(err).WithField("backend", backend).Error("Pass failed")
	}
	if len(report.Errors) > 0 {
		return errors.Errorf("%d backend(s) failed", len(report.Errors))
	}
	return nil
}

func migrateDB(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !cfg.RemoteEnabled() {
		return errors.New("remote.database_url is not set")
	}
	return database.Migrate(cfg.Remote.DatabaseURL)
}
