package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "songstream/catalogservice/internal/api/http"
	"songstream/catalogservice/internal/app"
	"songstream/catalogservice/internal/catalog"
	"songstream/catalogservice/internal/metrics"
	"songstream/catalogservice/internal/providers/saavnapi"
	"songstream/catalogservice/internal/providers/saavnweb"
	"songstream/catalogservice/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "catalog-search")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "catalog-search"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("upstreamTimeout", cfg.UpstreamTimeout),
		slog.Int("searchEndpoints", len(cfg.SearchEndpoints)),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Duration("searchCacheTTL", cfg.SearchCacheTTL),
		slog.Duration("detailCacheTTL", cfg.DetailCacheTTL),
		slog.Int("fallbackThreshold", cfg.FallbackThreshold),
	)

	apiClient := &http.Client{Timeout: cfg.UpstreamTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	webClient := &http.Client{Timeout: cfg.UpstreamTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}

	apiProvider := saavnapi.NewProvider(saavnapi.Config{
		SearchEndpoints:  cfg.SearchEndpoints,
		SongEndpoint:     cfg.SongEndpoint,
		AlbumEndpoint:    cfg.AlbumEndpoint,
		PlaylistEndpoint: cfg.PlaylistEndpoint,
		LyricsEndpoint:   cfg.LyricsEndpoint,
		UserAgent:        cfg.UserAgent,
		Client:           apiClient,
	})
	webProvider := saavnweb.NewProvider(saavnweb.Config{
		Endpoint: cfg.WebEndpoint,
		Client:   webClient,
	})

	opts := append(buildServiceOptions(cfg, logger),
		catalog.WithFallback(webProvider),
		catalog.WithFallbackThreshold(cfg.FallbackThreshold),
	)
	catalogService := catalog.NewService(apiProvider, apiProvider, cfg.UpstreamTimeout, opts...)

	handler := apihttp.NewServer(catalogService, apihttp.WithLogger(logger)).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("catalog search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("timeout", cfg.UpstreamTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("catalog search service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildServiceOptions(cfg app.Config, logger *slog.Logger) []catalog.ServiceOption {
	var opts []catalog.ServiceOption

	if cfg.CacheDisabled {
		opts = append(opts, catalog.WithCacheDisabled(true))
		return opts
	}

	opts = append(opts,
		catalog.WithSearchTTL(cfg.SearchCacheTTL),
		catalog.WithDetailTTL(cfg.DetailCacheTTL),
	)

	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Warn("invalid redis url, using in-memory cache only", slog.String("error", err.Error()))
			return opts
		}
		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable, using in-memory cache only", slog.String("error", err.Error()))
			return opts
		}
		logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
		opts = append(opts, catalog.WithRedisCache(catalog.NewRedisCacheBackend(redisClient)))
	}

	return opts
}
