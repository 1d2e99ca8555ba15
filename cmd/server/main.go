package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sifan077/PowerPulse/config"
	appcache "github.com/sifan077/PowerPulse/internal/app/cache"
	appmodel "github.com/sifan077/PowerPulse/internal/app/model"
	apprepository "github.com/sifan077/PowerPulse/internal/app/repository"
	appserver "github.com/sifan077/PowerPulse/internal/app/server"
	appservice "github.com/sifan077/PowerPulse/internal/app/service"
	inthttp "github.com/sifan077/PowerPulse/internal/http/handler"
	"github.com/sifan077/PowerPulse/internal/http/middleware"
	httpUtil "github.com/sifan077/PowerPulse/internal/http/util"
	"github.com/sifan077/PowerPulse/internal/infra/logger"
	infraNATS "github.com/sifan077/PowerPulse/internal/infra/nats"
	infraPostgres "github.com/sifan077/PowerPulse/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/PowerPulse/internal/infra/prometheus"
	infraRedis "github.com/sifan077/PowerPulse/internal/infra/redis"
	"github.com/sifan077/PowerPulse/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	isDev := os.Getenv("APP_ENV") != "production"
	log := logger.MustInit(logger.Config{
		Development: isDev,
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		File:        cfg.Log.File,
	})
	defer func() { _ = logger.Sync() }()

	log.Info("Configuration loaded successfully",
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.Bool("replica_configured", cfg.Replica.Configured()),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
		zap.String("nats_host", cfg.NATS.Host),
		zap.Int("nats_port", cfg.NATS.Port),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Int("realtime_port", cfg.Realtime.Port),
	)

	primaryDB, err := infraPostgres.NewGorm(cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	defer closeGorm(log, "primary", primaryDB)

	if err := infraPostgres.AutoMigrate(ctx, primaryDB, infraPostgres.Models()...); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	replicaDB := primaryDB
	if cfg.Replica.Configured() {
		replicaDB, err = infraPostgres.NewGorm(cfg.Replica)
		if err != nil {
			log.Fatal("Failed to open replica connection", zap.Error(err))
		}
		defer closeGorm(log, "replica", replicaDB)
	}

	pool, err := infraPostgres.NewReadPool(ctx, infraPostgres.ReadConfig(cfg.Postgres, cfg.Replica))
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Connected to Postgres successfully")

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Connected to Redis successfully")

	natsConn, js, err := infraNATS.Connect(cfg.NATS)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer natsConn.Drain()
	log.Info("Connected to NATS successfully", zap.Bool("jetstream_ready", js != nil))

	if err := infraNATS.EnsureStream(js, infraNATS.StreamSpec{
		Name:     appmodel.BatchStreamName,
		Subjects: []string{cfg.NATS.BatchSubject},
		MaxBytes: appmodel.BatchStreamMaxBytes,
	}); err != nil {
		log.Fatal("Failed to ensure batch stream", zap.Error(err))
	}

	if !isDev {
		promServer := infraPrometheus.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Starting Prometheus metrics server",
				zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	locationRepo := apprepository.NewLocationRepository(primaryDB, replicaDB)
	deviceRepo := apprepository.NewDeviceRepository(primaryDB, replicaDB)
	clickRepo := apprepository.NewClickEventRepository(primaryDB, replicaDB)
	referenceRepo := apprepository.NewServiceReferenceRepository(primaryDB, replicaDB)
	aggregateRepo := apprepository.NewClickAggregateRepository(pool)

	analyticsCache := appcache.NewRedisAnalyticsCache(redisClient, appcache.TTLs{
		Location:   cfg.Cache.LocationTTL,
		Device:     cfg.Cache.DeviceTTL,
		Stats:      cfg.Cache.StatsTTL,
		Owner:      cfg.Cache.OwnerTTL,
		DayCounter: cfg.Cache.DayCounterTTL,
		SeenMarker: cfg.Cache.SeenMarkerTTL,
	})

	hub := realtime.NewHub(log.Named("realtime"))

	ownershipClient := appservice.NewNATSOwnershipClient(natsConn, cfg.NATS.OwnershipSubject,
		cfg.Analytics.OwnershipTimeout, appservice.BreakerSettings{}, log)
	verifier := appservice.NewOwnershipVerifier(ownershipClient, analyticsCache, log)

	clickDeps := appservice.ClickDeps{
		Clicks:          clickRepo,
		References:      referenceRepo,
		Aggregates:      aggregateRepo,
		Locations:       locationRepo,
		Devices:         deviceRepo,
		Resolver:        appservice.NewDimensionResolver(locationRepo, deviceRepo, analyticsCache, log),
		Verifier:        verifier,
		Cache:           analyticsCache,
		Forwarder:       appservice.NewJetStreamBatchForwarder(js, cfg.NATS.BatchSubject, log),
		Broadcaster:     hub,
		Logger:          log,
		HistoryMaxLimit: cfg.Analytics.HistoryMaxLimit,
	}
	clickService := appservice.NewClickService(clickDeps)
	statsService := appservice.NewStatsService(clickDeps, appservice.StatsWindow{
		TopN: cfg.Analytics.TopN,
		Days: cfg.Analytics.TopWindowDays,
	})
	dimensionService := appservice.NewDimensionService(locationRepo, deviceRepo)

	consumer := appservice.NewClickConsumer(js, cfg.NATS.ClickSubject, log, clickService, analyticsCache)
	if err := consumer.Start(ctx); err != nil {
		log.Fatal("Failed to start click consumer", zap.Error(err))
	}
	defer consumer.Stop()

	pusher := appservice.NewStatsPusher(log, statsService, hub, hub, cfg.Realtime.StatsInterval)
	pusher.Start()
	defer pusher.Stop()

	tickets := httpUtil.NewTokenSigner([]byte(cfg.Realtime.TicketSecret), cfg.Realtime.TicketTTL)
	if cfg.Realtime.TicketSecret == "" {
		log.Warn("Realtime ticket secret not configured; ticket issuance disabled")
	}

	wsServer := realtime.NewServer(cfg.Realtime, realtime.NewHandler(hub, tickets, verifier, log.Named("realtime")))
	go func() {
		log.Info("Starting realtime server", zap.String("addr", wsServer.Addr))
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Realtime server stopped unexpectedly", zap.Error(err))
			stop()
		}
	}()

	server := appserver.New(appserver.Dependencies{
		Logger:     log,
		Redis:      redisClient,
		Clicks:     clickService,
		Stats:      statsService,
		Dimensions: dimensionService,
		Tickets:    tickets,
		RateLimit:  middleware.DefaultRateLimitConfig(),
		Health: map[string]inthttp.HealthCheck{
			"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
			"nats": func(context.Context) error {
				if !natsConn.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			},
		},
	})

	httpPort := cfg.HTTP.Port
	if httpPort == 0 {
		httpPort = 8080
	}
	go func() {
		if err := server.Listen(fmt.Sprintf(":%d", httpPort)); err != nil {
			log.Error("Fiber server exited", zap.Error(err))
			stop()
		}
	}()
	log.Info("PowerPulse started", zap.Int("http_port", httpPort))

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to stop HTTP server", zap.Error(err))
	}
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to stop realtime server", zap.Error(err))
	}
	hub.Close()
}

func closeGorm(log *zap.Logger, name string, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("Failed to access underlying SQL DB", zap.String("db", name), zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("Failed to close database", zap.String("db", name), zap.Error(err))
	}
}
