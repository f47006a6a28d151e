// Command bridge serves the CommentService gRPC API and the review API in
// front of one program.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/reva/bridge/internal/broker"
	"github.com/reva/bridge/internal/config"
	"github.com/reva/bridge/internal/events"
	"github.com/reva/bridge/internal/journal"
	"github.com/reva/bridge/internal/metrics"
	"github.com/reva/bridge/internal/middleware"
	"github.com/reva/bridge/internal/resource"
	"github.com/reva/bridge/internal/review"
	"github.com/reva/bridge/internal/rpc"
)

func main() {
	configPath := flag.String("config", os.Getenv("REVA_CONFIG"), "path to config.yaml")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		slog.Error("invalid environment override", "error", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, cfg.Server)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bridge stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, sc config.ServerConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(sc.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if sc.Env == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	program, err := cfg.Program.NewProgram()
	if err != nil {
		return err
	}
	gateway := resource.NewHostGateway(program, logger.With("component", "gateway"))
	gateway.OnTransactionClosed(m.RecordTransaction)
	logger.Info("program loaded", "name", program.Name(), "symbols", len(program.Symbols()))

	bus, err := openBus(ctx, cfg.Events, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	store, closeStore, err := openJournal(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer closeStore()

	b := broker.New(
		broker.WithEventBus(bus),
		broker.WithJournal(store),
		broker.WithMetrics(m),
		broker.WithLogger(logger.With("component", "broker")),
	)
	defer b.Close()

	svc := rpc.NewService(gateway, b, rpc.Options{
		Limits: rpc.Limits{
			MaxCommentLength: cfg.Limits.MaxCommentLength,
			MaxSymbolLength:  cfg.Limits.MaxSymbolLength,
		},
		RejectOnDisconnect: cfg.Broker.RejectOnDisconnect,
		DisconnectReason:   cfg.Broker.DisconnectReason,
		Logger:             logger.With("component", "rpc"),
	})
	// Stop waits for handlers, so disconnect rejections reach the journal
	// before the deferred closes below run.
	grpcServer := rpc.NewServer(svc, m, logger.With("component", "grpc"), grpc.WaitForHandlers(true))

	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		MaxCallsPerMinute: cfg.Review.RateLimitPerMinute,
	}, logger.With("component", "ratelimit"))
	defer limiter.Stop()

	if cfg.Review.TokenHash == "" {
		logger.Warn("review.token_hash not set, review API is unauthenticated")
	}
	httpServer := &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: review.NewRouter(review.Options{
			Broker:         b,
			Journal:        store,
			Bus:            bus,
			TokenHash:      cfg.Review.TokenHash,
			AllowedOrigins: cfg.Review.AllowedOrigins,
			RateLimiter:    limiter,
			Logger:         logger.With("component", "review"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("gRPC listening", "addr", cfg.Server.GRPCAddr)
		errc <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info("review API listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal, shutting down gracefully")
	case serveErr = <-errc:
		if serveErr != nil {
			logger.Error("server failed, shutting down", "error", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("review API shutdown error", "error", err)
	}
	// Pending RPCs wait on a human; cancel them rather than drain. Stop
	// returns once their handlers have applied the disconnect policy.
	grpcServer.Stop()
	logger.Info("gRPC server stopped")

	if n := b.PendingCount(); n > 0 {
		logger.Warn("shutting down with pending actions", "pending", n)
	}
	return serveErr
}

func openBus(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) (events.Bus, error) {
	switch cfg.Backend {
	case "redis":
		client, err := events.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis unavailable, using local event bus", "addr", cfg.Redis.Addr, "error", err)
			return events.NewLocalBus(), nil
		}
		bus, err := events.NewRedisBus(ctx, client, cfg.Redis.Channel)
		if err != nil {
			client.Close()
			return nil, err
		}
		logger.Info("event bus: redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
		return &closingBus{Bus: bus, closer: client}, nil
	case "pubsub":
		bus, err := events.NewPubSubBus(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			return nil, err
		}
		logger.Info("event bus: pubsub", "project", cfg.PubSub.ProjectID, "topic", cfg.PubSub.TopicID)
		return bus, nil
	default:
		return events.NewLocalBus(), nil
	}
}

// closingBus also closes the Redis connection behind the bus.
type closingBus struct {
	events.Bus
	closer io.Closer
}

func (b *closingBus) Close() error {
	return errors.Join(b.Bus.Close(), b.closer.Close())
}

func openJournal(ctx context.Context, cfg config.JournalConfig) (journal.Store, func(), error) {
	if cfg.Backend != "postgres" {
		return journal.NewMemoryStore(), func() {}, nil
	}
	store, err := journal.OpenPostgres(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}
