package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/veridex/screening/internal/api"
	"github.com/veridex/screening/internal/compliance/audit"
	"github.com/veridex/screening/internal/compliance/screening"
	"github.com/veridex/screening/internal/config"
	"github.com/veridex/screening/internal/redis"
	"github.com/veridex/screening/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck
	sugar := log.Sugar()

	store := screening.NewStore(sourceIDs(cfg.Sources), sugar)

	// The cache is an optimization: an unreachable Redis degrades service
	// but must not prevent startup.
	var cache screening.ResultCache
	redisClient, err := redis.NewClient(&cfg.Redis, sugar)
	if err != nil {
		sugar.Warnw("result cache unavailable, screening uncached", "error", err)
	} else {
		defer redisClient.Close()
		cache = screening.NewRedisCache(redisClient.Get(), cfg.Redis.OpTimeout)
	}

	engine := screening.NewEngine(engineConfig(cfg.Screening), store, cache, sugar)

	if cfg.Database.DSN != "" {
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
		if err != nil {
			return fmt.Errorf("open audit database: %w", err)
		}
		journal, err := audit.NewStore(db, sugar)
		if err != nil {
			return fmt.Errorf("init audit journal: %w", err)
		}
		engine.SetRecorder(journal)
	} else {
		sugar.Info("no database DSN configured, screening audit journal disabled")
	}

	scheduler := screening.NewScheduler(
		store,
		buildSources(cfg.Sources, sugar),
		cfg.Screening.RefreshInterval,
		cfg.Screening.FetchTimeout,
		sugar,
	)
	engine.SetRefresher(scheduler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go scheduler.Run(ctx)

	server := api.NewServer(cfg.Server, engine, store, log)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sugar.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func sourceIDs(sources []config.SourceConfig) []string {
	ids := make([]string, 0, len(sources))
	for _, src := range sources {
		ids = append(ids, src.ID)
	}
	return ids
}

// buildSources wires a fetcher for every source with a configured endpoint.
// Sources without one stay registered in the store but are never refreshed;
// they serve whatever was last loaded, or nothing.
func buildSources(sources []config.SourceConfig, sugar *zap.SugaredLogger) []screening.Source {
	client := &http.Client{}
	out := make([]screening.Source, 0, len(sources))

	for _, src := range sources {
		if src.Endpoint == "" {
			sugar.Warnw("source has no endpoint configured, automatic refresh disabled", "source", src.ID)
			continue
		}
		switch src.ID {
		case screening.SourceOFAC:
			out = append(out, &screening.OFACSource{Endpoint: src.Endpoint, APIKey: src.APIKey, Client: client, Logger: sugar})
		case screening.SourceUN:
			out = append(out, &screening.UNSource{Endpoint: src.Endpoint, APIKey: src.APIKey, Client: client, Logger: sugar})
		case screening.SourceEU:
			out = append(out, &screening.EUSource{Endpoint: src.Endpoint, APIKey: src.APIKey, Client: client, Logger: sugar})
		default:
			sugar.Warnw("unknown source id, skipping", "source", src.ID)
		}
	}
	return out
}

func engineConfig(sc config.ScreeningConfig) screening.Config {
	return screening.Config{
		MatchThreshold:  sc.MatchThreshold,
		ReviewThreshold: sc.ReviewThreshold,
		CacheTTL:        sc.CacheTTL,
		MaxStaleness:    sc.MaxStaleness,
		FailureMode:     screening.FailureMode(sc.FailureMode),
	}
}
