package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"settlement-service/internal/config"
	hgrpc "settlement-service/internal/handler/grpc"
	hrest "settlement-service/internal/handler/rest"
	"settlement-service/internal/provider"
	"settlement-service/internal/provider/flutterwave"
	"settlement-service/internal/provider/paystack"
	"settlement-service/internal/pub"
	"settlement-service/internal/repository"
	"settlement-service/internal/repository/memory"
	"settlement-service/internal/usecase"
	"settlement-service/internal/worker"
	"settlement-service/pkg/cache"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

// App holds the wired settlement engine.
type App struct {
	cfg    config.AppConfig
	logger *zap.Logger

	pool   *pgxpool.Pool
	rdb    *redis.Client
	writer *kafka.Writer

	Notifier     *usecase.NotificationBatcher
	Ledger       *usecase.LedgerUsecase
	Wallets      *usecase.WalletUsecase
	Disputes     *usecase.DisputeUsecase
	Cluster      *usecase.ClusterWalletUsecase
	Bills        *usecase.BillUsecase
	Recurring    *usecase.RecurringUsecase
	Verification *usecase.VerificationUsecase
	Scheduler    *worker.Scheduler

	health *hgrpc.HealthHandler
	signer hrest.SignatureVerifier
}

// New connects to the configured backends and wires every usecase. Redis and
// Kafka are optional: without them the engine runs with a local scheduler
// lock and no event publishing.
func New(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*App, error) {
	log.SetFormatter(&log.JSONFormatter{})
	a := &App{cfg: cfg, logger: logger}

	// --- Storage ---
	var store *repository.Store
	switch cfg.Storage {
	case "memory":
		store = memory.NewStore()
		logger.Warn("using in-memory storage, data is lost on restart")
	case "postgres", "":
		pool, err := config.ConnectDB(ctx, config.LoadDB(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.pool = pool
		if err := repository.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		store = repository.NewPostgresStore(pool)
		logger.Info("database connected",
			zap.Int32("max_conns", pool.Config().MaxConns),
			zap.Int32("min_conns", pool.Config().MinConns))
	default:
		return nil, fmt.Errorf("unknown STORAGE %q", cfg.Storage)
	}

	// --- Redis: checkout cache, scheduler locks, event channel ---
	var (
		checkoutCache usecase.CheckoutCache
		locker        = worker.NopLocker()
		sinks         []usecase.NotificationSink
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:            cfg.RedisAddr,
			Password:        cfg.RedisPass,
			DB:              cfg.RedisDB,
			PoolSize:        50,
			MinIdleConns:    5,
			MaxRetries:      3,
			DialTimeout:     5 * time.Second,
			ReadTimeout:     3 * time.Second,
			WriteTimeout:    3 * time.Second,
			ConnMaxIdleTime: 5 * time.Minute,
		})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, running without cache, distributed locks or redis events",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rdb.Close()
		} else {
			a.rdb = rdb
			checkoutCache = cache.NewCache(rdb)
			locker = cache.NewLocker(rdb, "settlement:jobs")
			sinks = append(sinks, pub.NewRedisSink(rdb, cfg.RedisChannel, logger))
			logger.Info("redis connected", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
		}
	}

	// --- Kafka ---
	if len(cfg.KafkaBrokers) > 0 {
		a.writer = pub.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		sinks = append(sinks, pub.NewKafkaSink(a.writer, logger))
		logger.Info("kafka writer initialized",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	clock := usecase.SystemClock{}
	a.Notifier = usecase.NewNotificationBatcher(sinks, cfg.NotifyBatchSize, cfg.NotifyFlushInterval, clock, logger)

	// --- Providers ---
	var gateway provider.PaymentGateway
	if cfg.GatewayEnabled() {
		ps := paystack.New(paystack.Config{
			BaseURL:   cfg.GatewayBaseURL,
			SecretKey: cfg.GatewaySecretKey,
			Timeout:   cfg.GatewayTimeout,
		}, logger)
		gateway = ps
		a.signer = ps
	} else {
		logger.Warn("payment gateway not configured, DIRECT payments are disabled")
	}
	var utility provider.UtilityProvider
	if cfg.UtilityEnabled() {
		utility = flutterwave.New(flutterwave.Config{
			BaseURL:   cfg.UtilityBaseURL,
			SecretKey: cfg.UtilitySecretKey,
			Timeout:   cfg.GatewayTimeout,
		}, logger)
	} else {
		logger.Warn("utility provider not configured, utility purchases are disabled")
	}

	// --- Usecases ---
	s := store
	a.Ledger = usecase.NewLedgerUsecase(s.Transactions, s.Wallets, s.PaymentErrors, clock, logger)
	a.Wallets = usecase.NewWalletUsecase(s.Wallets, a.Ledger, a.Notifier, clock, cfg.DefaultCurrency, logger)
	a.Disputes = usecase.NewDisputeUsecase(s.Disputes, s.Bills, a.Notifier, clock, logger)
	a.Cluster = usecase.NewClusterWalletUsecase(s.ClusterOps, a.Wallets, a.Ledger, a.Notifier, clock, logger)
	checkout := usecase.NewCheckoutUsecase(gateway, a.Ledger, checkoutCache, usecase.CheckoutConfig{
		Timeout:     cfg.GatewayTimeout,
		CallbackURL: cfg.CheckoutCallback,
	}, logger)
	utilities := usecase.NewUtilityUsecase(utility, a.Ledger, cfg.GatewayTimeout, logger)
	a.Bills = usecase.NewBillUsecase(s.Bills, s.Disputes, s.Transactions, a.Wallets, a.Ledger, a.Disputes,
		a.Cluster, checkout, a.Notifier, clock, logger)
	a.Recurring = usecase.NewRecurringUsecase(s.Recurring, a.Wallets, a.Bills, a.Ledger, checkout, utilities,
		a.Notifier, clock, usecase.RecurringConfig{
			Concurrency: cfg.SchedulerConcurrency,
			BatchSize:   cfg.SchedulerBatchSize,
		}, logger)
	a.Verification = usecase.NewVerificationUsecase(gateway, a.Ledger, a.Bills, a.Recurring, utilities, a.Notifier,
		usecase.VerificationConfig{
			Timeout:    cfg.GatewayTimeout,
			StaleAfter: cfg.SweepStaleAfter,
			BatchSize:  cfg.SchedulerBatchSize,
		}, logger)

	// --- Scheduler ---
	a.Scheduler = worker.NewScheduler(locker, cfg.LockTTL, logger)
	a.Scheduler.Add(worker.SettlementJobs(worker.JobConfig{
		TickInterval:          cfg.TickInterval,
		SweepInterval:         cfg.SweepInterval,
		ReminderInterval:      cfg.ReminderInterval,
		BillReminderDays:      cfg.BillReminderDays,
		RecurringReminderDays: cfg.RecurringReminderDays,
	}, a.Recurring, a.Verification, a.Bills, logger)...)

	a.health = hgrpc.NewHealthHandler(a.checks(), 3*time.Second)
	a.Notifier.Start()
	return a, nil
}

func (a *App) checks() map[string]hgrpc.Check {
	checks := map[string]hgrpc.Check{}
	if a.pool != nil {
		checks["postgres"] = a.pool.Ping
	}
	if a.rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }
	}
	return checks
}

// Run serves HTTP and gRPC and runs the periodic jobs until ctx is
// cancelled, then drains everything.
func (a *App) Run(ctx context.Context) error {
	a.Scheduler.Start(ctx)

	handler := hrest.NewHandler(hrest.Deps{
		Wallets:      a.Wallets,
		Ledger:       a.Ledger,
		Bills:        a.Bills,
		Disputes:     a.Disputes,
		Recurring:    a.Recurring,
		Cluster:      a.Cluster,
		Verification: a.Verification,
		Signer:       a.signer,
	}, a.logger)
	httpSrv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler.Router(a.cfg.CORSAllowedOrigins, a.health.Ready),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv := hgrpc.NewServer()
	a.health.Register(grpcSrv)
	reflection.Register(grpcSrv)
	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.health.Watch(gctx, 15*time.Second)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("gRPC server listening", zap.String("addr", a.cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("HTTP server listening", zap.String("addr", a.cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("settlement service shutting down")
		a.health.Shutdown()
		a.Scheduler.Stop()

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			a.logger.Warn("HTTP shutdown error", zap.Error(err))
		}
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-sctx.Done():
			grpcSrv.Stop()
		}
		return nil
	})
	return g.Wait()
}

// Close flushes pending notifications and releases backend connections.
func (a *App) Close() {
	if a.Notifier != nil {
		a.Notifier.Stop()
	}
	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			a.logger.Warn("kafka writer close error", zap.Error(err))
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
}
