package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/bookmarket-orders/internal/audit"
	"github.com/ariefcatur/bookmarket-orders/internal/config"
	kafkax "github.com/ariefcatur/bookmarket-orders/internal/kafka"
	"github.com/ariefcatur/bookmarket-orders/internal/logx"
	"github.com/ariefcatur/bookmarket-orders/internal/orders"
	"github.com/ariefcatur/bookmarket-orders/internal/postgres"
	"github.com/ariefcatur/bookmarket-orders/internal/redisx"
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
		lg.Fatal("Audit consumer stopped", zap.Error(err))
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

	svc := audit.NewService(postgres.NewStore(db), redisx.NewDeduper(rdb, cfg.Audit.Group), lg.Named("audit"))
	topics := orders.AllTopics()
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Audit.Group, topics, cfg.Audit.Workers, lg.Named("consumer"))

	lg.Info("Audit consumer started",
		zap.String("group", cfg.Audit.Group),
		zap.Strings("topics", topics),
		zap.Int("workers", cfg.Audit.Workers),
	)
	if err := cons.Start(ctx, svc.HandleMessage); err != nil {
		return err
	}
	lg.Info("Audit consumer drained")
	return nil
}
