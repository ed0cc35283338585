package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/your-org/mediascribe/internal/cache"
	"github.com/your-org/mediascribe/internal/cookies"
	"github.com/your-org/mediascribe/internal/inference"
	"github.com/your-org/mediascribe/internal/resolver"
	"github.com/your-org/mediascribe/internal/scribe"
	"github.com/your-org/mediascribe/pkg/config"
	"github.com/your-org/mediascribe/pkg/logger"
	"github.com/your-org/mediascribe/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; a missing .env file is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.Environment)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:     cfg.Tracing.Endpoint,
		Insecure:     cfg.Tracing.Insecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
		ResourceAttr: cfg.Tracing.ResourceAttr,
		ServiceName:  cfg.App.Name,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	metadataCache, closeCache, err := buildCache(cfg, logr)
	if err != nil {
		logr.Fatal("init metadata cache", zap.Error(err))
	}

	runner := resolver.NewCLIRunner(resolver.CLIConfig{
		Binary:           cfg.Resolver.Binary,
		UserAgent:        cfg.Resolver.UserAgent,
		Timeout:          cfg.Resolver.Timeout,
		DirectMaxBytes:   cfg.Resolver.DirectMaxBytes,
		MetadataMaxBytes: cfg.Resolver.MetadataMaxBytes,
	}, logr)

	mediaResolver := resolver.New(resolver.Params{
		Runner:     runner,
		Cache:      metadataCache,
		Logger:     logr,
		MaxTries:   cfg.Resolver.MaxAttempts,
		MaxElapsed: cfg.Resolver.AttemptWindow,
	})
	fetcher := resolver.NewFetcher(runner, logr)

	if cfg.Inference.APIKey == "" {
		logr.Warn("inference api key is not set, transcription requests will fail")
	}
	transcriber := inference.NewTranscriber(inference.NewClient(inference.Config{
		APIKey:  cfg.Inference.APIKey,
		BaseURL: cfg.Inference.BaseURL,
		Model:   cfg.Inference.Model,
		Timeout: cfg.Inference.Timeout,
	}), logr)

	scratchDir := cfg.Cookies.ScratchDir
	if scratchDir == "" {
		scratchDir = filepath.Join(os.TempDir(), "mediascribe")
	}
	credentials := cookies.NewProvider(cookies.Source{
		SecretPath:  cfg.Cookies.SecretPath,
		EnvVar:      cfg.Cookies.EnvVar,
		ProjectFile: cfg.Cookies.ProjectFile,
	}, cookies.NewNormalizer(scratchDir, logr))

	janitor := cookies.NewJanitor(scratchDir, cfg.Cookies.SweepMaxAge, logr)
	janitor.Sweep()
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Cookies.SweepSchedule, janitor.Sweep); err != nil {
		logr.Fatal("schedule cookie sweep", zap.Error(err))
	}
	sweeper.Start()

	service := scribe.NewService(scribe.Params{
		Resolver:      mediaResolver,
		Fetcher:       fetcher,
		Transcriber:   transcriber,
		Credentials:   credentials,
		Logger:        logr,
		AudioMaxBytes: cfg.Fetch.AudioMaxBytes,
		FileMaxBytes:  cfg.Fetch.FileMaxBytes,
		FetchTimeout:  cfg.Fetch.Timeout,
	})

	handler := scribe.NewHTTPHandler(service, logr)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logr.Error("http server shutdown failed", zap.Error(err))
		}
		<-sweeper.Stop().Done()
		janitor.Sweep()
		if closeCache != nil {
			if err := closeCache(); err != nil {
				logr.Error("close metadata cache", zap.Error(err))
			}
		}
	}()

	logr.Info("mediascribe service starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("resolver_binary", cfg.Resolver.Binary),
		zap.String("cache_backend", cfg.Cache.Backend))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Fatal("http server failed", zap.Error(err))
	}
}

func buildCache(cfg *config.Config, logr *zap.Logger) (resolver.MetadataCache, func() error, error) {
	switch cfg.Cache.Backend {
	case "sqlite":
		store, err := cache.NewSQLite(cfg.Cache.SQLitePath, cfg.Cache.TTL, logr)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "none":
		return cache.Nop{}, nil, nil
	default:
		return cache.NewMemory(cfg.Cache.TTL), nil, nil
	}
}
