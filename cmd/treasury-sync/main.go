package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/emperorhan/treasury-sync/internal/alert"
	"github.com/emperorhan/treasury-sync/internal/api"
	"github.com/emperorhan/treasury-sync/internal/balance"
	"github.com/emperorhan/treasury-sync/internal/chain"
	"github.com/emperorhan/treasury-sync/internal/chain/ratelimit"
	"github.com/emperorhan/treasury-sync/internal/chain/starknet"
	"github.com/emperorhan/treasury-sync/internal/circuitbreaker"
	"github.com/emperorhan/treasury-sync/internal/config"
	"github.com/emperorhan/treasury-sync/internal/events"
	"github.com/emperorhan/treasury-sync/internal/metrics"
	"github.com/emperorhan/treasury-sync/internal/price"
	redispkg "github.com/emperorhan/treasury-sync/internal/store/redis"
	"github.com/emperorhan/treasury-sync/internal/tracing"
)

const (
	serviceName     = "treasury-sync"
	shutdownTimeout = 5 * time.Second
	probeTimeout    = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	logger.Info("starting treasury-sync",
		"rpc", cfg.Starknet.RPCURL,
		"network", cfg.Starknet.Network,
		"tokens", len(cfg.Balance.Tokens),
		"poll_interval", cfg.Balance.PollInterval,
		"redis_enabled", cfg.Redis.URL != "",
		"http_addr", cfg.Server.Addr,
	)

	shutdownTracing, err := tracing.Init(context.Background(), serviceName, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("treasury-sync exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("treasury-sync shut down gracefully")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newAlerter(cfg *config.Config, logger *slog.Logger) *alert.Dispatcher {
	var channels []alert.Channel
	if cfg.Alert.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlack(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		channels = append(channels, alert.NewWebhook(cfg.Alert.WebhookURL))
	}
	return alert.NewDispatcher(logger, channels, alert.WithCooldown(cfg.Alert.Cooldown))
}

func breakerConfig(cfg *config.Config, alerter *alert.Dispatcher, logger *slog.Logger) circuitbreaker.Config {
	network := cfg.Starknet.Network.String()
	return circuitbreaker.Config{
		FailureThreshold: cfg.RPC.BreakerFailures,
		OpenTimeout:      cfg.RPC.BreakerOpenTimeout,
		IsFailure:        ratelimit.IsTransient,
		OnStateChange: func(from, to circuitbreaker.State) {
			metrics.RPCCircuitState.WithLabelValues(network).Set(float64(to))
			logger.Warn("rpc circuit breaker state changed", "network", network, "from", from.String(), "to", to.String())
			if a, ok := alert.BreakerAlert(network, cfg.Starknet.RPCURL, from, to); ok {
				alerter.Notify(a)
			}
		},
	}
}

// breakerHealth fails only while the circuit is fully open; a half-open
// breaker is already probing the node again.
func breakerHealth(b *circuitbreaker.Breaker) func() error {
	return func() error {
		snap := b.Snapshot()
		if snap.State != circuitbreaker.StateOpen {
			return nil
		}
		return fmt.Errorf("%w since %s after %d failures", circuitbreaker.ErrCircuitOpen, snap.OpenedAt.UTC().Format(time.RFC3339), snap.Failures)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	network := cfg.Starknet.Network

	alerter := newAlerter(cfg, logger)
	defer alerter.Wait()

	breaker := circuitbreaker.New(breakerConfig(cfg, alerter, logger))
	adapter, err := starknet.NewAdapter(ctx, cfg.Starknet.RPCURL, network, logger,
		starknet.WithRateLimiter(ratelimit.NewLimiter(cfg.RPC.RateLimitRPS, cfg.RPC.RateLimitBurst, network.String())),
		starknet.WithCircuitBreaker(breaker),
	)
	if err != nil {
		return fmt.Errorf("starknet adapter: %w", err)
	}
	probeHead(ctx, adapter, logger)

	store := balance.NewStore(logger)
	if cfg.Redis.URL != "" {
		pub, err := redispkg.NewPublisher(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis publisher: %w", err)
		}
		defer pub.Close()
		store.AddSink(pub)
		logger.Info("broadcasting balances to redis", "channel_prefix", redispkg.DefaultPrefix)
	}

	prices := price.NewCached(
		price.NewCoinGecko(cfg.Price.APIURL, cfg.Balance.Tokens, logger),
		"coingecko", cfg.Price.CacheTTL, clock.New(),
	)
	fetcher := balance.NewFetcher(adapter, prices, cfg.Balance.Tokens, logger, balance.WithNetwork(network))
	poller := balance.NewPoller(store, fetcher, logger,
		balance.WithInterval(cfg.Balance.PollInterval),
		balance.WithStaleAfter(cfg.Balance.StaleAfter),
		balance.WithPollerNetwork(network),
	)
	defer poller.Close()

	history := events.NewHistoryFetcher(adapter, logger,
		events.WithChunkSize(cfg.Events.ChunkSize),
		events.WithWatchInterval(cfg.Events.WatchInterval),
	)

	limiter := api.NewRateLimitMiddleware(logger)
	defer limiter.Stop()
	srv := api.NewServer(poller, history, logger,
		api.WithRateLimiter(limiter),
		api.WithHealthCheck("rpc", breakerHealth(breaker)),
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gCtx, cfg.Server.Addr, srv.Handler(), logger)
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down", "cause", context.Cause(gCtx))
		return nil
	})
	return g.Wait()
}

// probeHead logs the node's head so a misconfigured endpoint shows up at
// startup. Failure is not fatal; the breaker and metrics take over.
func probeHead(ctx context.Context, provider chain.Provider, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	head, err := provider.LatestBlockNumber(ctx)
	if err != nil {
		logger.Warn("starknet node unreachable at startup", "error", err)
		return
	}
	logger.Info("starknet node reachable", "head", head)
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown error", "error", err)
		}
	}()

	logger.Info("http server started", "addr", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
