// Streaming request gateway binary.
//
// Wires the rate limiter, prompt builder, similarity index, provider
// registry, and WebSocket gateway from a single YAML config, then serves
// until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/windowchat/stream-gateway/internal/config"
	"github.com/windowchat/stream-gateway/internal/gateway"
	"github.com/windowchat/stream-gateway/internal/invoker"
	"github.com/windowchat/stream-gateway/internal/monitoring"
	"github.com/windowchat/stream-gateway/internal/prompt"
	"github.com/windowchat/stream-gateway/internal/ratelimit"
	"github.com/windowchat/stream-gateway/internal/tokens"
	"github.com/windowchat/stream-gateway/internal/utils"
	"github.com/windowchat/stream-gateway/internal/vectorindex"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "gateway.yaml", "path to gateway config")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// .env is optional; config env expansion picks up whatever it sets.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("gateway failed")
	}
}

func run(cfg *config.Config) error {
	registry := invoker.NewRegistry()
	for name, p := range cfg.Providers {
		inv, err := buildInvoker(name, p)
		if err != nil {
			return err
		}
		registry.Register(inv)
		log.Info().
			Str("provider", name).
			Str("kind", p.Kind).
			Str("model", p.Model).
			Str("api_key", utils.MaskKey(p.APIKey)).
			Msg("provider configured")
	}
	if len(registry.Names()) == 0 {
		log.Warn().Msg("no providers configured; every start will fail with invalid_request")
	}

	counter := buildCounter(cfg.Context.Encoding)
	builder := prompt.NewBuilder(counter)
	limiter := ratelimit.New(cfg.RateLimit)

	var (
		index    vectorindex.Store
		embedder vectorindex.Embedder
	)
	if cfg.Retrieval.Enabled {
		embedder = vectorindex.NewHashEmbedder(0)
		if cfg.Retrieval.SQLitePath != "" {
			store, err := vectorindex.OpenSQLiteStore(cfg.Retrieval.SQLitePath)
			if err != nil {
				return fmt.Errorf("open embedding store: %w", err)
			}
			defer func() { _ = store.Close() }()
			index = store
			log.Info().Str("path", cfg.Retrieval.SQLitePath).Msg("retrieval: sqlite store")
		} else {
			index = vectorindex.NewMemoryStore()
			log.Info().Msg("retrieval: in-memory store")
		}
	}

	metrics := monitoring.NewMetricsCollector()
	tracker, err := monitoring.NewTracker(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = tracker.Close() }()

	gw := gateway.New(cfg, limiter, builder, index, embedder, registry, metrics, tracker)
	tracker.RecordInit(gw.InitEvent(version))

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           gw.Routes(),
		ReadHeaderTimeout: config.DefaultReadHeaderTimeout,
		WriteTimeout:      config.DefaultServerWriteTimeout,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", cfg.Server.Addr()).
		Strs("providers", registry.Names()).
		Bool("retrieval", cfg.Retrieval.Enabled).
		Str("version", version).
		Msg("gateway listening")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// buildInvoker constructs one provider adapter from config.
func buildInvoker(name string, p config.ProviderConfig) (invoker.Invoker, error) {
	c := invoker.Config{
		Endpoint:   p.Endpoint,
		APIKey:     p.APIKey,
		Model:      p.Model,
		MaxRetries: p.MaxRetries,
		Timeout:    p.Timeout(),
	}
	switch p.Kind {
	case "openai":
		return invoker.NewOpenAIInvoker(name, c), nil
	case "gemini":
		return invoker.NewGeminiInvoker(name, c), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown kind %q", name, p.Kind)
	}
}

// buildCounter prefers exact tiktoken counting, falling back to the
// heuristic when the encoding cannot be loaded.
func buildCounter(encoding string) tokens.Counter {
	c, err := tokens.NewTiktokenCounter(encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", encoding).Msg("tiktoken unavailable, using heuristic counter")
		return tokens.HeuristicCounter{}
	}
	return c
}
