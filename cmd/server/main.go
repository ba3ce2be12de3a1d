// Package main provides the entry point for the alert repository server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kneutral-org/alert-repository/internal/alert"
	"github.com/kneutral-org/alert-repository/internal/api"
	"github.com/kneutral-org/alert-repository/internal/config"
	"github.com/kneutral-org/alert-repository/internal/engine"
	"github.com/kneutral-org/alert-repository/internal/logging"
	"github.com/kneutral-org/alert-repository/internal/metrics"
	"github.com/kneutral-org/alert-repository/internal/middleware"
	"github.com/kneutral-org/alert-repository/internal/store"
	"github.com/kneutral-org/alert-repository/internal/store/mongo"
	"github.com/kneutral-org/alert-repository/internal/store/postgres"
	"github.com/kneutral-org/alert-repository/internal/store/redisid"
	"github.com/kneutral-org/alert-repository/internal/store/sqlite"
)

const serviceName = "alert-repository"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		Service: serviceName,
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Store.RedisAddr != "" {
		rdb, err = connectRedis(ctx, cfg.Store.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Store.RedisAddr).Msg("failed to connect to redis")
		}
		defer func() { _ = rdb.Close() }()
	}

	adapter, closeStore, err := openStore(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}
	defer closeStore()

	eng := engine.New(adapter,
		engine.WithLogger(logger),
		engine.WithBatchSize(cfg.Repository.BatchSize),
		engine.WithPageSizes(cfg.Repository.DefaultPageSize, cfg.Repository.MaxPageSize),
	)
	alerts, err := alert.NewRepository(eng)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build alert repository")
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.RequestLogger(logger))
	router.Use(middleware.Metrics())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "store": cfg.Store.Driver})
	})
	metrics.RegisterMetricsEndpoint(router)

	var deliveries middleware.DeliveryStore
	if cfg.WebhookIdempotencyTTL > 0 {
		if rdb != nil {
			deliveries = middleware.NewRedisDeliveryStore(rdb, "")
		} else {
			deliveries = middleware.NewMemoryDeliveryStore()
		}
	}

	handler := api.NewHandler(alerts, logger, api.Config{
		WebhookSecret:         cfg.WebhookSecret,
		DefaultPageSize:       cfg.Repository.DefaultPageSize,
		MaxPayloadSize:        cfg.AdminMaxPayloadSize,
		WebhookMaxPayloadSize: cfg.WebhookMaxPayloadSize,
		Deliveries:            deliveries,
		DeliveryTTL:           cfg.WebhookIdempotencyTTL,
	})
	handler.RegisterRoutes(router.Group("/api/v1"))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.GRPCMaxMessageSize),
		grpc.MaxSendMsgSize(cfg.GRPCMaxMessageSize),
		grpc.ChainUnaryInterceptor(logging.UnaryServerLogger(logger)),
		grpc.ChainStreamInterceptor(logging.StreamServerLogger(logger)),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("failed to listen for gRPC")
	}

	go func() {
		logger.Info().Str("port", cfg.GRPCPort).Msg("starting gRPC health server")
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error().Err(err).Msg("gRPC server failed")
			stop()
		}
	}()

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("driver", cfg.Store.Driver).
			Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}

	logger.Info().Msg("server exited properly")
}

func connectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, store.Unavailable(fmt.Errorf("failed to ping redis: %w", err))
	}
	return client, nil
}

// openStore connects the configured backing store and returns a function
// releasing it. A non-nil rdb takes over identifier generation.
func openStore(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) (store.Adapter, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		adapter store.Adapter
		closers []func()
	)
	switch cfg.Store.Driver {
	case config.DriverMemory:
		adapter = store.NewInMemoryAdapter()
	case config.DriverPostgres:
		pool, err := postgres.Connect(connectCtx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		adapter = postgres.NewAdapter(pool, logger)
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		adapter = sqlite.NewAdapter(db, logger)
	case config.DriverMongo:
		client, err := mongo.Connect(connectCtx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		})
		adapter = mongo.NewAdapter(client.Database(cfg.Store.Database), logger)
	default:
		return nil, nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, cfg.Store.Driver)
	}

	if rdb != nil {
		adapter = store.WithIdentifierSource(adapter, redisid.NewSequence(rdb))
		logger.Info().Str("addr", cfg.Store.RedisAddr).Msg("identifiers generated by redis")
	}

	return adapter, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}
