package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meikuraledutech/fynq"
	"github.com/meikuraledutech/fynq/cache"
	"github.com/meikuraledutech/fynq/cache/pebblecache"
	"github.com/meikuraledutech/fynq/cache/rediscache"
	"github.com/meikuraledutech/fynq/chatsync"
	"github.com/meikuraledutech/fynq/gemini"
	"github.com/meikuraledutech/fynq/memory"
	"github.com/meikuraledutech/fynq/openai"
	"github.com/meikuraledutech/fynq/postgres"
	"github.com/meikuraledutech/fynq/service"
)

// app is the wired library for one command run.
type app struct {
	cfg    *fynq.Config
	log    *slog.Logger
	remote fynq.RemoteStore
	pg     *postgres.PGStore
	cache  *cache.Store
	chat   *chatsync.Chat

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openPostgres connects and adopts the declared or detected schema.
func openPostgres(ctx context.Context, cfg *fynq.Config, log *slog.Logger) (*postgres.PGStore, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	var opts []postgres.Option
	if v := cfg.Database.SchemaVersion; v > 0 {
		opts = append(opts, postgres.WithSchema(postgres.SchemaFor(v)))
	}
	store := postgres.New(pool, opts...)
	if cfg.Database.SchemaVersion == 0 {
		schema, err := store.DetectSchema(ctx)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Debug("detected schema", "version", schema.Version)
	}
	return store, pool.Close, nil
}

func openCache(ctx context.Context, cfg fynq.CacheConfig) (cache.KV, error) {
	switch cfg.Driver {
	case fynq.CacheDriverPebble:
		return pebblecache.Open(cfg.Path)
	case fynq.CacheDriverRedis:
		return rediscache.Dial(ctx, cfg.RedisAddr, cfg.RedisDB)
	case fynq.CacheDriverMemory:
		return cache.NewMemoryKV(), nil
	}
	return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
}

// openApp wires remote store, cache, services and the sync core. Without
// DATABASE_URL the remote store lives in memory for this run only.
func openApp(ctx context.Context, opts *rootOptions) (*app, error) {
	a := &app{cfg: opts.cfg, log: opts.log}

	if a.cfg.Database.URL != "" {
		pg, closePool, err := openPostgres(ctx, a.cfg, a.log)
		if err != nil {
			return nil, err
		}
		a.pg, a.remote = pg, pg
		a.closers = append(a.closers, closePool)
	} else {
		a.log.Warn("DATABASE_URL not set, using an in-memory store")
		a.remote = memory.New()
	}

	kv, err := openCache(ctx, a.cfg.Cache)
	if err != nil {
		a.close()
		return nil, err
	}
	a.cache = cache.NewStore(kv, a.log)
	a.closers = append(a.closers, func() {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("close cache", "err", err)
		}
	})

	var metrics *chatsync.Metrics
	if addr := a.cfg.Metrics.Addr; addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		metrics = chatsync.NewMetrics(reg)
		a.closers = append(a.closers, serveMetrics(addr, reg, a.log))
	}

	a.chat = chatsync.New(
		service.NewSessionService(a.remote, a.log),
		service.NewMessageService(a.remote, a.log),
		a.cache,
		chatsync.WithLogger(a.log),
		chatsync.WithMetrics(metrics),
		chatsync.WithReconcileInterval(a.cfg.Sync.ReconcileInterval),
	)
	return a, nil
}

// serveMetrics exposes reg on addr/metrics and returns a shutdown func.
func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// newTutor builds the configured language-model provider.
func newTutor(cfg fynq.TutorConfig, log *slog.Logger) (fynq.Tutor, error) {
	switch cfg.Provider {
	case fynq.TutorGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("GEMINI_API_KEY is not set")
		}
		return gemini.New(cfg.GeminiAPIKey, cfg.ModelID,
			gemini.WithSystemPrompt(cfg.SystemPrompt),
			gemini.WithMaxTokens(cfg.MaxTokens),
			gemini.WithLogger(log),
		), nil
	case fynq.TutorOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is not set")
		}
		return openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel,
			openai.WithBaseURL(cfg.OpenAIBaseURL),
			openai.WithSystemPrompt(cfg.SystemPrompt),
			openai.WithMaxTokens(cfg.MaxTokens),
			openai.WithHistoryTokens(cfg.HistoryTokens),
			openai.WithLogger(log),
		), nil
	}
	return nil, fmt.Errorf("unknown tutor provider %q", cfg.Provider)
}
