package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/adapters/events"
	httpadapter "github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/hub"
	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	outbox     *eventadapter.OutboxWorker
	sweep      *eventadapter.SweepWorker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("bootstrapping identity consistency service", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}

	if err := postgres.RunMigrations(ctx, db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	repos := postgres.NewRepositories(db)
	tokenSigner, err := security.NewJWTSigner(cfg.JWTKeyID, cfg.JWTPrivateKeyPEM, cfg.JWTPublicKeyPEM)
	if err != nil {
		if !cfg.AllowEphemeralJWT {
			_ = sqlDB.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("init jwt signer: %w", err)
		}
		logger.Warn("using ephemeral JWT keys for local/dev runtime")
		tokenSigner, err = security.NewEphemeralJWTSigner(cfg.JWTKeyID)
		if err != nil {
			_ = sqlDB.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("init ephemeral jwt signer: %w", err)
		}
	}

	pushHub := hub.New()

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			TrialTotal:              cfg.TrialTotal,
			TrialMaxActionsPerHour:  cfg.TrialMaxActionsPerHour,
			TrialBlockDuration:      cfg.TrialBlockDuration,
			TrialResetInterval:      cfg.TrialResetInterval,
			TrialStatusCacheTTL:     cfg.TrialStatusCacheTTL,
			SoftKeyMaxPerHour:       cfg.SoftKeyMaxPerHour,
			SessionMaxAge:           cfg.SessionMaxAge,
			SessionWarningThreshold: cfg.SessionWarningThreshold,
			TokenTTL:                cfg.TokenTTL,
			ConflictWindow:          cfg.ConflictWindow,
			SuspicionRiskThreshold:  cfg.SuspicionRiskThreshold,
			SyncEventTTL:            cfg.SyncEventTTL,
		},
		Trials:      repos.Trials,
		Sessions:    repos.Sessions,
		Devices:     repos.Devices,
		SyncEvents:  repos.SyncEvents,
		SyncConfigs: repos.SyncConfigs,
		Events:      repos.Events,
		Alerts:      repos.Alerts,
		Outbox:      repos.Outbox,
		Idempotency: repos.Idempotency,
		TrialCache:  cacheadapter.NewRedisTrialStatusCache(redisClient),
		Revocations: cacheadapter.NewRedisSessionRevocationStore(redisClient),
		SoftLimiter: cacheadapter.NewRedisRateLimiter(redisClient),
		Notifier:    pushHub,
		TokenSigner: tokenSigner,
		Logger:      logger,
	})

	handler := httpadapter.NewHandler(svc, pushHub, httpadapter.Config{
		InternalSecret: cfg.InternalSecret,
		JobSecret:      cfg.JobSecret,
		CookieSecret:   cfg.CookieSecret,
		CookieTTLDays:  cfg.CookieTTLDays,
	})
	router := httpadapter.NewRouter(handler)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		_ = sqlDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	var publisher ports.EventPublisher
	var closePublisher func() error
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, pubErr := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, nil)
		if pubErr != nil {
			_ = sqlDB.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("init kafka publisher: %w", pubErr)
		}
		publisher = kafkaPublisher
		closePublisher = kafkaPublisher.Close
	} else {
		logger.Warn("no kafka brokers configured; events go to the log publisher")
		publisher = eventadapter.NewLoggingPublisher(logger)
	}

	outbox := eventadapter.NewOutboxWorker(
		logger,
		repos.Outbox,
		publisher,
		cfg.OutboxPollInterval,
		cfg.OutboxBatchSize,
		cfg.OutboxClaimTTL,
		cfg.OutboxMaxRetries,
	)
	sweep := eventadapter.NewSweepWorker(logger, svc, cfg.SweepInterval)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		outbox:     outbox,
		sweep:      sweep,
		cleanupFn: func(ctx context.Context) {
			if closePublisher != nil {
				_ = closePublisher()
			}
			_ = redisClient.Close()
			_ = sqlDB.Close()
		},
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

// RunWorker drives the outbox publisher and the expiry sweep together.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("outbox worker started")
		errCh <- r.outbox.Run(ctx)
	}()
	go func() {
		r.logger.Info("sweep worker started")
		errCh <- r.sweep.Run(ctx)
	}()

	err := <-errCh
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
