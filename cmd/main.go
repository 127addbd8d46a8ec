// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/config"
	"github.com/Shivanand-hulikatti/session-lottery/internal/database"
	"github.com/Shivanand-hulikatti/session-lottery/internal/handler"
	"github.com/Shivanand-hulikatti/session-lottery/internal/notify"
	"github.com/Shivanand-hulikatti/session-lottery/internal/payment"
	"github.com/Shivanand-hulikatti/session-lottery/internal/repository"
	"github.com/Shivanand-hulikatti/session-lottery/internal/service"
	"github.com/Shivanand-hulikatti/session-lottery/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}, logger.DefaultServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Connect to PostgreSQL and apply migrations ─────────────────────
	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// ── 2. Notifications ──────────────────────────────────────────────────
	var notifier service.Notifier = notify.NewLog(log)
	if cfg.Kafka.Enabled() {
		k := notify.NewKafka(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic), log)
		defer func() {
			if err := k.Close(); err != nil {
				log.Warn("close notification writer", zap.Error(err))
			}
		}()
		notifier = k
	}

	// ── 3. Wire up layers ─────────────────────────────────────────────────
	store := repository.NewPostgres(pool)
	entries := service.NewEntryService(store, log)
	allocation := service.NewAllocationService(store, notifier, cfg.Allocation, log)
	ledger := service.NewLedgerService(store, notifier, log)
	stats := service.NewStatsService(store, log)
	payments := payment.NewProcessor(ledger, log)

	h := handler.New(entries, allocation, ledger, stats, payments, log)

	// ── 4. Start server, consumer and scheduler ───────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Allocation.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	if cfg.Kafka.Enabled() {
		var dlq payment.DeadLetterWriter
		if cfg.Kafka.PaymentDLQTopic != "" {
			dlq = payment.NewDeadLetterWriter(cfg.Kafka.Brokers, cfg.Kafka.PaymentDLQTopic)
		}
		consumer := payment.NewConsumer(
			payment.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.PaymentTopic, cfg.Kafka.PaymentGroupID),
			payments, dlq, log,
		)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Run(gctx)
		})
	}

	if cfg.Allocation.SchedulerInterval > 0 {
		g.Go(func() error {
			allocation.RunScheduler(gctx, cfg.Allocation.SchedulerInterval)
			return nil
		})
	}

	// Block until a signal arrives or a component fails.
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}
