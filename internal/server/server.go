package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/api"
	"github.com/aegisshield/ml-workbench/internal/auth"
	"github.com/aegisshield/ml-workbench/internal/config"
	"github.com/aegisshield/ml-workbench/internal/database"
	"github.com/aegisshield/ml-workbench/internal/hyperopt"
	"github.com/aegisshield/ml-workbench/internal/jobs"
	"github.com/aegisshield/ml-workbench/internal/methods"
	"github.com/aegisshield/ml-workbench/internal/monitoring"
	"github.com/aegisshield/ml-workbench/internal/notify"
	"github.com/aegisshield/ml-workbench/internal/params"
	"github.com/aegisshield/ml-workbench/internal/pipeline"
	"github.com/aegisshield/ml-workbench/internal/services"
	"github.com/aegisshield/ml-workbench/internal/storage"
	"github.com/aegisshield/ml-workbench/internal/training"
)

const shutdownTimeout = 30 * time.Second

// Server represents the workbench server
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	db         *database.Database
	redis      *redis.Client
	publisher  notify.Publisher
	hub        *notify.Hub
	jobs       *jobs.Manager
	health     api.HealthChecks
}

// NewServer connects the stores and wires every component
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	bus, redisClient, err := notify.NewPublisher(cfg.Notify, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create notification publisher: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewCollector(registry)

	repos := database.NewRepositories(db)
	store := storage.NewLocalStorage(cfg.Storage.Root)
	recorder := pipeline.NewRecorder(repos.DataFrames, store, methods.NewApplier(cfg.ML.CardinalityLimit), cfg.ML.FilenameRetries, logger)
	dataframes := services.NewDataFrameService(repos, store, recorder, metrics, cfg.ML, logger)

	search := hyperopt.DefaultConfig()
	search.Evals = cfg.ML.HyperoptEvals
	search.Folds = cfg.ML.CVFolds
	search.Seed = int(cfg.ML.RandomState)
	searcher := hyperopt.NewSearcher(dataframes, search, logger)

	modelService := services.NewModelService(
		repos, store, dataframes, recorder,
		params.NewValidator(searcher, logger),
		training.NewTrainer(int(cfg.ML.RandomState), logger),
		metrics, cfg.ML, logger,
	)

	// with redis the hub hears every publish through its pattern subscription;
	// other buses need a local copy for sockets held by this process
	hub := notify.NewHub(redisClient, logger)
	var publisher notify.Publisher = bus
	if redisClient == nil {
		publisher = notify.Tee{Bus: bus, Local: hub}
	}
	manager := jobs.NewManager(repos.Jobs, publisher, metrics, cfg.Jobs, logger)

	health := api.HealthChecks{"database": db.Health}
	if redisClient != nil {
		health["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	router := api.SetupRouter(cfg, logger, api.Dependencies{
		DataFrames: dataframes,
		Models:     modelService,
		Reports:    services.NewReportService(repos.Reports),
		Jobs:       manager,
		Auth:       auth.NewService(cfg.Auth),
		Hub:        hub,
		Metrics:    metrics,
		Health:     health,
	})

	return &Server{
		config: cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		db:        db,
		redis:     redisClient,
		publisher: publisher,
		hub:       hub,
		jobs:      manager,
		health:    health,
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	if err := s.jobs.Start(ctx); err != nil {
		return err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)
	go s.watchHealth(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.cleanup(context.Background())
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
	} else {
		s.logger.Info("HTTP server shutdown completed")
	}

	s.cleanup(ctx)
	s.logger.Info("Graceful shutdown completed")
	return nil
}

func (s *Server) cleanup(ctx context.Context) {
	if err := s.jobs.Shutdown(ctx); err != nil {
		s.logger.Error("Job manager shutdown failed", zap.Error(err))
	}
	if err := s.publisher.Close(); err != nil {
		s.logger.Error("Publisher close failed", zap.Error(err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Redis close failed", zap.Error(err))
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("Database shutdown failed", zap.Error(err))
	} else {
		s.logger.Info("Database connections closed")
	}
}

// watchHealth logs dependency health on the configured interval
func (s *Server) watchHealth(ctx context.Context) {
	interval := s.config.Monitoring.HealthCheckInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Health checker stopping")
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			for name, err := range s.health.Check(checkCtx) {
				if err != nil {
					s.logger.Warn("Service health degraded", zap.String("dependency", name), zap.Error(err))
				}
			}
			cancel()
		}
	}
}
