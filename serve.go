package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"docchat/internal/api"
	"docchat/internal/auth"
	"docchat/internal/config"
	"docchat/internal/contentstore"
	"docchat/internal/ingest"
	"docchat/internal/logger"
	"docchat/internal/observability"
	"docchat/internal/redis"
	"docchat/internal/relay"
	"docchat/internal/service/ai"
	"docchat/internal/service/catalog"
	"docchat/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := setup(opts)
	if err != nil {
		return err
	}
	defer env.close()
	cfg, log := env.cfg, env.log

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer cache.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	authService := auth.NewService(env.db, cache, time.Duration(cfg.Server.TokenTTLHours)*time.Hour, log)
	catalogService := catalog.NewService(env.db, log)

	sink, err := ingest.NewFileSink(cfg.Upload.Dir, cfg.Upload.MaxBytes, log)
	if err != nil {
		return err
	}
	receiver := ingest.NewReceiver(sink, log)

	store, err := contentstore.New(ctx, cfg.ContentStore, log)
	if err != nil {
		return fmt.Errorf("init content store: %w", err)
	}
	streamer, err := ai.NewStreamer(ctx, cfg.Model, log)
	if err != nil {
		return fmt.Errorf("init model: %w", err)
	}
	chatRelay := relay.New(catalogService, streamer, log,
		relay.WithModelTimeout(time.Duration(cfg.Model.TimeoutSeconds)*time.Second),
		relay.WithSystemPrompt(cfg.Model.SystemPrompt),
		relay.WithMetrics(metrics),
	)

	catalogService.StartOrphanSweeper(ctx, cfg.Upload.Dir,
		time.Duration(cfg.Upload.OrphanTTLMinutes)*time.Minute,
		time.Duration(cfg.Upload.SweepIntervalMinutes)*time.Minute,
	)

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := api.NewRouter(log, cfg.Server.CORSOrigins)
	api.NewHandler(api.Deps{
		Catalog:  catalogService,
		Receiver: receiver,
		Store:    store,
		Relay:    chatRelay,
		Auth:     authService,
		Metrics:  metrics,
		Gatherer: reg,
		DB:       env.db,
		Log:      log,
	}).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Server.Address, "content_store", store.Kind(), "provider", cfg.Model.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type environment struct {
	cfg *config.Config
	log *logger.Logger
	db  *sql.DB
}

func (e *environment) close() {
	if e.db != nil {
		_ = e.db.Close()
	}
	if e.log != nil {
		e.log.Sync()
	}
}

// setup loads config, builds the logger and opens the migrated database.
func setup(opts *rootOptions) (*environment, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	env := &environment{cfg: cfg, log: log}

	log.Info("opening database", "driver", opts.dbType)
	env.db, err = storage.Open(opts.dbType, cfg)
	if err != nil {
		env.close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(env.db, opts.dbType); err != nil {
		env.close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return env, nil
}
