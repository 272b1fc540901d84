package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/adityaankur/graphmail/internal/config"
	"github.com/adityaankur/graphmail/internal/graph"
	"github.com/adityaankur/graphmail/internal/health"
	"github.com/adityaankur/graphmail/internal/logger"
	"github.com/adityaankur/graphmail/internal/mail"
	"github.com/adityaankur/graphmail/internal/metrics"
	"github.com/adityaankur/graphmail/internal/middleware"
	"github.com/adityaankur/graphmail/internal/repository"
	"github.com/adityaankur/graphmail/internal/storage"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()

	appLogger := logger.New(logger.DefaultConfig())

	if cfg.Graph.TenantID == "" || cfg.Graph.ClientID == "" || cfg.Graph.ClientSecret == "" {
		log.Fatal("TENANT_ID, CLIENT_ID and CLIENT_SECRET environment variables are required")
	}
	if cfg.Graph.UserEmail == "" {
		log.Fatal("USER_EMAIL environment variable is required")
	}

	// pgxpool for health probes, sqlx over the pgx stdlib driver for queries
	dbPool, err := setupDatabase(cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	db, err := sqlx.Connect("pgx", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to open sqlx connection: %v", err)
	}
	defer db.Close()

	messageRepo := repository.NewMessageRepo(db)
	runRepo := repository.NewSyncRunRepo(db)

	tokens := graph.NewTokenProvider(&cfg.Graph)
	graphClient := graph.NewClient(graph.ClientConfig{
		BaseURL:    cfg.Graph.BaseURL(),
		UserEmail:  cfg.Graph.UserEmail,
		Timeout:    cfg.Graph.Timeout,
		MaxRetries: cfg.Sync.MaxRetries,
		PageSize:   cfg.Sync.BatchSize,
	}, tokens, appLogger)

	normalizer := mail.NewNormalizer(cfg.Sync.RetrieveBody)
	pipeline := mail.NewPipeline(
		mail.NewGraphSource(graphClient),
		messageRepo,
		runRepo,
		normalizer,
		mail.PipelineConfig{
			RetrieveAttachments: cfg.Sync.RetrieveAttachments,
			MinRefresh:          cfg.Sync.MinRefresh,
		},
		appLogger,
	)

	var cache mail.AttachmentCache
	if cfg.Storage.Enabled {
		c, err := storage.NewAttachmentCache(&cfg.Storage)
		if err != nil {
			log.Fatalf("Failed to initialize attachment cache: %v", err)
		}
		cache = c
		appLogger.Info("attachment cache enabled", "bucket", cfg.Storage.Bucket)
	}

	mailService := mail.NewService(graphClient, graphClient, messageRepo, runRepo, pipeline, cache, appLogger)
	mailHandler := mail.NewHandler(mailService, appLogger)

	healthHandler := health.NewHandler(health.Config{
		DBPool: dbPool,
		ProviderCheck: func(ctx context.Context) error {
			_, err := graphClient.TestConnection(ctx)
			return err
		},
	})

	scheduler := mail.NewScheduler(pipeline, mail.SchedulerConfig{
		Interval:   cfg.Sync.FetchInterval,
		FetchHours: cfg.Sync.FetchHours,
	}, appLogger)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(appLogger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)
	r.Handle("/metrics", metrics.Handler())

	mail.RegisterRoutes(r, mailHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler.Start(ctx)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")
	healthHandler.SetReady(false)

	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("server exited")
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config, appLogger *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	appLogger.Info("connected to database",
		"db", cfg.Database.DBName, "host", cfg.Database.Host, "port", cfg.Database.Port)
	return pool, nil
}
