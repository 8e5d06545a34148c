package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/bookmarket-orders/internal/config"
	"github.com/ariefcatur/bookmarket-orders/internal/httpx"
	kafkax "github.com/ariefcatur/bookmarket-orders/internal/kafka"
	"github.com/ariefcatur/bookmarket-orders/internal/logx"
	"github.com/ariefcatur/bookmarket-orders/internal/orders"
	"github.com/ariefcatur/bookmarket-orders/internal/postgres"
	"github.com/ariefcatur/bookmarket-orders/internal/redisx"
	"github.com/ariefcatur/bookmarket-orders/internal/slips"
	"github.com/ariefcatur/bookmarket-orders/internal/sweeper"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	lg, err := logx.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = lg.Sync() }()

	if err := run(cfg, lg); err != nil {
		lg.Fatal("Order API stopped", zap.Error(err))
	}
}

func run(cfg config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return errors.Wrap(err, "migrate")
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer func() { _ = rdb.Close() }()
	if err := redisx.Ping(ctx, rdb); err != nil {
		// Redis only backs caching, idempotency and the sweep lock.
		lg.Warn("Redis unavailable at startup", zap.Error(err))
	}

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, lg.Named("producer"))
	prod.Start()
	defer func() {
		prod.Close()
		prod.WaitClosed()
	}()

	svc := orders.NewService(postgres.NewStore(db), orders.ServiceConfig{
		Events:      kafkax.NewEventSink(prod, lg.Named("events")),
		Cache:       redisx.NewStatusCache(rdb, lg.Named("cache")),
		Logger:      lg.Named("orders"),
		PendingTTL:  cfg.Orders.PendingTTL,
		DeliveryETA: cfg.Orders.DeliveryETA,
		Producer:    cfg.ServiceName,
	})

	slipStore, err := slips.NewDiskStore(cfg.UploadDir)
	if err != nil {
		return err
	}

	router := httpx.NewRouter(lg.Named("http"), slipStore.Dir())
	auth := httpx.NewAuthenticator(cfg.JWTSecret)
	oh := &httpx.OrdersHandler{
		Service: svc,
		Slips:   slipStore,
		Idem:    redisx.NewIdempotency(rdb),
		Logger:  lg.Named("http"),
	}
	oh.Register(router, auth.Middleware)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	sw := sweeper.New(svc, redisx.NewLocker(rdb), sweeper.Config{
		Interval:  cfg.Sweeper.Interval,
		BatchSize: cfg.Sweeper.BatchSize,
		LockKey:   cfg.Sweeper.LockKey,
		LockTTL:   cfg.Sweeper.LockTTL,
	}, lg.Named("sweeper"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		return sw.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return errors.Wrap(err, "shutdown http")
		}
		return nil
	})
	return g.Wait()
}
