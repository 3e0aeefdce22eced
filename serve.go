package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"studyhub/internal/api"
	"studyhub/internal/auth"
	"studyhub/internal/config"
	"studyhub/internal/extract"
	"studyhub/internal/metrics"
	"studyhub/internal/redis"
	"studyhub/internal/service/ai"
	"studyhub/internal/service/documents"
	"studyhub/internal/service/study"
	"studyhub/internal/service/users"
	"studyhub/internal/storage"
	"studyhub/internal/worker"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Migrate the database and run the HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		cmd.Printf("schema ready (%s)\n", dbType)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail documents stuck in processing and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		docs, err := newDocumentService(cmd.Context(), cfg, db, nil)
		if err != nil {
			return err
		}
		n, err := docs.SweepStale(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("failed %d stale documents\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd)
}

// openDatabase connects and migrates.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	slog.Info("opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func newDocumentService(ctx context.Context, cfg *config.Config, db *sql.DB, rdb *redis.Client) (*documents.Service, error) {
	extractor, err := extract.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	docs, err := documents.NewService(db, extractor, rdb, documents.Options{
		FileBaseDir:       cfg.BasicConfig.FileBaseDir,
		MaxUploadBytes:    cfg.BasicConfig.MaxUploadMB << 20,
		ChunkWindow:       cfg.Retrieval.ChunkWindow,
		ChunkOverlap:      cfg.Retrieval.ChunkOverlap,
		ProcessingTimeout: cfg.BasicConfig.ProcessingTimeoutDuration(),
		CacheSize:         cfg.Retrieval.CacheSize,
		CacheTTL:          cfg.Retrieval.CacheTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("init document service: %w", err)
	}
	return docs, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		return fmt.Errorf("create redis client: %w", err)
	}
	defer rdb.Close()

	docs, err := newDocumentService(ctx, cfg, db, rdb)
	if err != nil {
		return err
	}
	generator, err := ai.NewProviderGenerator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init generative backend: %w", err)
	}
	studySvc, err := study.NewService(db, docs, generator, study.Options{
		ChatChunkLimit:     cfg.Retrieval.ChatChunkLimit,
		ExplainChunkLimit:  cfg.Retrieval.ExplainChunkLimit,
		ContextMaxChars:    cfg.Retrieval.ContextMaxChars,
		ExplainMaxChars:    cfg.Retrieval.ExplainMaxChars,
		SummaryMaxChars:    cfg.Retrieval.SummaryMaxChars,
		GenerationMaxChars: cfg.Retrieval.GenerationMaxChars,
		MinSourceChars:     cfg.Retrieval.MinSourceChars,
	})
	if err != nil {
		return fmt.Errorf("init study service: %w", err)
	}

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: cfg.BasicConfig.WorkerIdleTimeout(),
	}, func(ctx context.Context, job worker.Job) {
		docs.Process(ctx, job)
	})
	docs.SetScheduler(dispatcher)
	docs.StartStaleSweeper(ctx, cfg.BasicConfig.SweepInterval())
	docs.StartCacheListener(ctx)

	authService := auth.NewService(db, rdb, cfg.BasicConfig.AuthTokenTTL())
	handlers := api.NewHandler(users.NewService(db), docs, studySvc, authService, api.Options{
		MaxUploadBytes:      cfg.BasicConfig.MaxUploadMB << 20,
		AIRequestsPerMinute: cfg.BasicConfig.AIRequestsPerMinute,
		AIBurst:             cfg.BasicConfig.AIBurst,
		Health:              db.PingContext,
	})

	router := gin.Default()
	router.Use(metrics.GinMiddleware())
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr, "provider", cfg.BasicConfig.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		slog.Error("dispatcher shutdown failed", "error", err)
	}
	return nil
}
