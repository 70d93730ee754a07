package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/unclebandit/reach-backend/internal/config"
	"github.com/unclebandit/reach-backend/internal/db"
	"github.com/unclebandit/reach-backend/internal/logger"
	"github.com/unclebandit/reach-backend/internal/notify"
	"github.com/unclebandit/reach-backend/internal/queue"
	"github.com/unclebandit/reach-backend/internal/repository"
	"github.com/unclebandit/reach-backend/internal/service"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Environment, cfg.LogLevel, "reach-worker")
	defer log.Sync()

	if cfg.AMQPURL == "" {
		log.Fatal("AMQP_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(ctx, cfg.DB.DSN(), log)
	if err != nil {
		log.Fatal("failed to connect to DB", zap.Error(err))
	}
	defer conn.Close()

	recipientRepo := &repository.RecipientRepository{DB: conn}
	responseRepo := &repository.ResponseRepository{DB: conn}

	q, err := queue.DialAMQP(cfg.AMQPURL, log)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer q.Close()

	email, whatsapp := notify.NewSenders(cfg, log)
	dispatcher := &notify.Dispatcher{
		Queue:       q,
		Directory:   recipientRepo,
		Ledger:      responseRepo,
		Email:       email,
		WhatsApp:    whatsapp,
		Workers:     cfg.DispatchWorkers,
		SendTimeout: cfg.SendTimeout,
		Log:         log.Named("dispatcher"),
	}
	if err := dispatcher.Start(); err != nil {
		log.Fatal("failed to register consumer", zap.Error(err))
	}

	reporter := &service.UnnotifiedReporter{
		ResponseRepo: responseRepo,
		Grace:        cfg.UnnotifiedGrace,
		Log:          log.Named("unnotified-report"),
	}
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.UnnotifiedReportSpec, func() {
		if _, err := reporter.Run(ctx); err != nil {
			log.Error("unnotified report failed", zap.Error(err))
		}
	}); err != nil {
		log.Fatal("invalid UNNOTIFIED_REPORT_SPEC", zap.String("spec", cfg.UnnotifiedReportSpec), zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Info("worker running, waiting for notification intents",
		zap.String("topic", queue.TopicCampaignNotifications),
		zap.Int("workers", cfg.DispatchWorkers),
	)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case amqpErr := <-q.NotifyClose():
		log.Error("queue connection closed", zap.Any("reason", amqpErr))
	}
}
