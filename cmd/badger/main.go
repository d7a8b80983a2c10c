package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MikeSquared-Agency/Badger/internal/api"
	"github.com/MikeSquared-Agency/Badger/internal/config"
	"github.com/MikeSquared-Agency/Badger/internal/engine"
	"github.com/MikeSquared-Agency/Badger/internal/hermes"
	"github.com/MikeSquared-Agency/Badger/internal/leaderboard"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mode, _ := cfg.SchemaMode()

	// Database
	var db store.Store
	var schema *store.ProvisionReport
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, facts are kept in memory only")
		db = store.NewMemoryStore(mode)
	} else {
		pg, report, err := store.OpenPostgres(ctx, cfg.Database.URL, store.OpenOptions{
			Mode:      mode,
			Bootstrap: cfg.Schema.Bootstrap,
			Timeout:   cfg.StoreTimeout(),
			Logger:    logger,
		})
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		db, schema = pg, report
		logger.Info("connected to database", "schema_mode", report.Mode, "added_columns", report.AddedColumns)
	}
	defer db.Close()

	// Hermes (optional)
	var hermesClient hermes.Client
	if cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			hermesClient = hc
			defer hc.Close()
			logger.Info("connected to hermes")
		}
	}

	// Leaderboard cache (optional)
	var ranker engine.Ranker
	if cfg.Redis.URL != "" {
		rc, err := leaderboard.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn("failed to connect to redis, leaderboard reads the database", "error", err)
		} else {
			defer rc.Close()
			ranker = leaderboard.NewCache(rc, cfg.Redis.KeyPrefix)
			logger.Info("connected to redis")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	e := engine.New(db, engine.Options{
		DefaultWeights:   cfg.Scoring.DefaultWeights,
		RecomputeTimeout: cfg.RecomputeTimeout(),
		Hermes:           hermesClient,
		Ranker:           ranker,
		Registerer:       reg,
		Logger:           logger,
	})

	if ranker != nil {
		if n, err := e.RebuildLeaderboard(ctx); err != nil {
			logger.Warn("failed to warm leaderboard cache", "error", err)
		} else {
			logger.Info("leaderboard cache warmed", "entries", n)
		}
	}

	// Inbound fact-change triggers
	if hermesClient != nil {
		if err := hermes.ListenFactChanges(hermesClient, e.HandleFactChanged, cfg.RecomputeTimeout(), logger); err != nil {
			logger.Warn("failed to subscribe to fact changes", "error", err)
		}
	}

	// API server
	router := api.NewRouter(e, schema, cfg.Server.AdminToken, logger)
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           api.NewMetricsRouter(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}
