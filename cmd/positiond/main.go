package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"frizo/position_engine/internal/api"
	"frizo/position_engine/internal/client"
	"frizo/position_engine/internal/config"
	"frizo/position_engine/internal/engine"
	"frizo/position_engine/internal/logger"
	"frizo/position_engine/internal/margin"
	"frizo/position_engine/internal/store"
	"frizo/position_engine/internal/version"
	"frizo/position_engine/pkg/utils"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Command line flags
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		healthCheck = flag.String("health-check", "", "Check a running instance at this base URL and exit")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		tierFile    = flag.String("tiers", "", "Path to a YAML leverage tier table")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	if *showHelp {
		fmt.Printf("Position Engine %s\n\n", version.Short())
		fmt.Println("Usage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *healthCheck != "" {
		if err := checkHealth(*healthCheck); err != nil {
			fmt.Println("UNHEALTHY:", err)
			os.Exit(1)
		}
		fmt.Println("OK")
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *tierFile != "" {
		cfg.TierFile = *tierFile
	}

	log := logger.NewWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.SetDefault(log)

	log.Info("Starting Position Engine",
		"version", version.Short(),
		"environment", cfg.Environment,
		"addr", cfg.Addr(),
		"store", cfg.StoreDriver,
	)

	if err := run(cfg, log); err != nil {
		log.Error("Application error", "error", err)
		os.Exit(1)
	}
	log.Info("Position Engine stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tiers, err := loadTiers(cfg)
	if err != nil {
		return err
	}

	st, cleanup, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	hub := api.NewWSHub(log)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	eng := engine.New(st, tiers, engine.WithNotifier(hub), engine.WithLogger(log))

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(api.NewHandler(eng, log), hub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Position Engine is running", "address", srv.Addr, "max_leverage", tiers.MaxLeverage())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down Position Engine...", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	stopHub()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func loadTiers(cfg *config.Config) (*margin.Table, error) {
	if cfg.TierFile == "" {
		return margin.NewTable(margin.DefaultTiers(), cfg.MaxLeverage)
	}
	if !utils.FileExists(cfg.TierFile) {
		return nil, fmt.Errorf("tier file %s not found", cfg.TierFile)
	}
	return margin.LoadTable(cfg.TierFile, cfg.MaxLeverage)
}

// openStore builds the configured ledger store, wrapped in the Redis cache
// when REDIS_URL is set.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.Store, func(), error) {
	var st store.Store

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		st = pg
		log.Info("connected to PostgreSQL")

	case config.DriverSQLite:
		if err := utils.EnsureParentDir(cfg.SQLitePath); err != nil {
			return nil, nil, err
		}
		sq, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		st = sq
		log.Info("opened SQLite ledger", "path", cfg.SQLitePath)

	default:
		log.Warn("using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		st = store.NewCachedStore(st, redis.NewClient(opt), cfg.CacheTTL)
		log.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}

	cleanup := func() {
		if err := st.Close(); err != nil {
			log.Warn("close store", "error", err)
		}
	}
	return st, cleanup, nil
}

func checkHealth(baseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.New(baseURL, client.WithRetries(0), client.WithTimeout(5*time.Second)).Health(ctx)
}
