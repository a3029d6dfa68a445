package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"orderledger/internal/config"
	"orderledger/internal/database"
	"orderledger/internal/events"
	"orderledger/internal/handler"
	"orderledger/internal/logger"
	"orderledger/internal/metrics"
	"orderledger/internal/service"
	"orderledger/internal/store"
	"orderledger/internal/store/memory"
	"orderledger/internal/store/postgres"
	"orderledger/internal/telemetry"
	"orderledger/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	l, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.Init(ctx, "orderledger", cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			l.Error("tracer shutdown failed", zap.Error(err))
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Store
	var st store.Store
	switch cfg.StoreDriver {
	case "memory":
		l.Warn("using in-memory store, data is lost on restart")
		st = memory.New()
	default:
		var pool *pgxpool.Pool
		pool, err = database.NewPool(ctx, cfg.DatabaseURI, l)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := database.Migrate(cfg.DatabaseURI, l); err != nil {
			return err
		}
		st = postgres.New(pool, l)
	}

	// Events
	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaBrokers != "" {
		publisher = events.NewKafkaPublisher(events.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic), l)
		l.Info("publishing events to kafka", zap.String("topic", cfg.KafkaTopic))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			l.Error("event publisher close failed", zap.Error(err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Services
	var history service.HistoryReader = service.NewHistoryService(st, loc, l)
	orderOpts := []service.OrderOption{service.WithPublisher(publisher), service.WithMetrics(m)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()

		cached := service.NewCachedHistoryService(history, rdb, l)
		history = cached
		orderOpts = append(orderOpts, service.WithChangeListener(cached.Invalidate))
		l.Info("history cache enabled", zap.String("redis", cfg.RedisAddr))
	}

	balanceSvc := service.NewBalanceService(st, publisher, m, l)
	orderSvc := service.NewOrderService(st, balanceSvc, l, orderOpts...)

	// Worker
	reconcileWorker := worker.NewReconcileWorker(balanceSvc, cfg.ReconcileInterval, cfg.ReconcileBatch, l)

	router := handler.NewRouter(handler.Deps{
		Orders:         orderSvc,
		Balance:        balanceSvc,
		History:        history,
		Fallback:       handler.YearFallback{PreviousYears: cfg.HistoryFallbackYears},
		Location:       loc,
		JWTSecret:      cfg.JWTSecret,
		Metrics:        m,
		MetricsHandler: metrics.Handler(reg),
		Logger:         l,
	})

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		reconcileWorker.Start(workerCtx)
		close(workerDone)
	}()

	serverErr := make(chan error, 1)
	go func() {
		l.Info("starting server", zap.String("addr", cfg.RunAddress), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.Info("shutting down...")
	case err := <-serverErr:
		l.Error("server failed", zap.Error(err))
	}

	cancelWorker()
	<-workerDone

	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()
	if err := srv.Shutdown(ctxShut); err != nil {
		l.Error("server shutdown failed", zap.Error(err))
	}

	l.Info("server stopped")
	return nil
}
