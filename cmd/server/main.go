// cmd/server/main.go
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

	"go.uber.org/zap"

	"github.com/unclebandit/reach-backend/internal/config"
	"github.com/unclebandit/reach-backend/internal/controller"
	"github.com/unclebandit/reach-backend/internal/db"
	"github.com/unclebandit/reach-backend/internal/handler"
	"github.com/unclebandit/reach-backend/internal/kvstore"
	"github.com/unclebandit/reach-backend/internal/logger"
	"github.com/unclebandit/reach-backend/internal/notify"
	"github.com/unclebandit/reach-backend/internal/queue"
	"github.com/unclebandit/reach-backend/internal/registration"
	"github.com/unclebandit/reach-backend/internal/repository"
	"github.com/unclebandit/reach-backend/internal/repository/memory"
	"github.com/unclebandit/reach-backend/internal/service"
)

type stores struct {
	tx         repository.Transactor
	campaigns  repository.CampaignRepositoryInterface
	responses  repository.ResponseRepositoryInterface
	recipients repository.RecipientRepositoryInterface
	proofs     repository.ProofRepositoryInterface
	close      func()
}

func main() {
	cfg, dotenv, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Environment, cfg.LogLevel, "reach-server")
	defer log.Sync()
	if !dotenv {
		log.Info("no .env file found, relying on OS environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.close()

	email, whatsapp := notify.NewSenders(cfg, log)

	var q queue.Queue
	inProcess := cfg.AMQPURL == "" || cfg.StoreDriver == "memory"
	if inProcess {
		q = queue.NewInMemoryQueue(log)
	} else {
		amqpQueue, err := queue.DialAMQP(cfg.AMQPURL, log)
		if err != nil {
			log.Fatal("failed to connect to queue", zap.Error(err))
		}
		defer amqpQueue.Close()
		q = amqpQueue
	}

	dispatcher := &notify.Dispatcher{
		Queue:       q,
		Directory:   st.recipients,
		Ledger:      st.responses,
		Email:       email,
		WhatsApp:    whatsapp,
		Workers:     cfg.DispatchWorkers,
		SendTimeout: cfg.SendTimeout,
		Log:         log.Named("dispatcher"),
	}
	if inProcess {
		// no separate worker process: deliver from this one
		if err := dispatcher.Start(); err != nil {
			log.Fatal("failed to subscribe dispatcher", zap.Error(err))
		}
	}

	campaignService := &service.CampaignService{
		Tx:           st.tx,
		CampaignRepo: st.campaigns,
		ResponseRepo: st.responses,
		ProofRepo:    st.proofs,
		Resolver:     &service.TargetingResolver{Directory: st.recipients},
		Engine: &service.ReconciliationEngine{
			Campaigns: st.campaigns,
			Ledger:    st.responses,
			Log:       log.Named("reconcile"),
		},
		Notifier:    dispatcher,
		Log:         log.Named("campaigns"),
		MaxAttempts: cfg.ReconcileMaxAttempts,
	}
	responseService := &service.ResponseService{
		Tx:           st.tx,
		CampaignRepo: st.campaigns,
		ResponseRepo: st.responses,
		Log:          log.Named("responses"),
	}

	var kv kvstore.Store
	if cfg.Redis.Addr != "" {
		redisStore, err := kvstore.NewRedisStore(kvstore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, "reach:", log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisStore.Close()
		kv = redisStore
	} else {
		log.Warn("REDIS_ADDR not set, pending registrations are kept in process memory")
		kv = kvstore.NewMemoryStore()
	}

	router := controller.NewRouter(controller.Routes{
		Campaigns: &controller.CampaignController{
			CampaignService: campaignService,
			ResponseService: responseService,
			Log:             log.Named("http"),
		},
		Recipients: &handler.CampaignHandler{
			Service:   campaignService,
			Responses: responseService,
			Log:       log.Named("http"),
		},
		Registrations: &handler.RegistrationHandler{
			Service: &registration.Service{
				KV:        kv,
				Directory: st.recipients,
				Email:     email,
				TTL:       cfg.RegistrationTTL,
				Log:       log.Named("registration"),
			},
			Log: log.Named("http"),
		},
		RecipientRPM: cfg.RecipientRPM,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("server running", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver), zap.Bool("in_process_dispatch", inProcess))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	if mq, ok := q.(*queue.InMemoryQueue); ok {
		mq.Wait()
	}
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store, data is lost on exit")
		m := memory.NewStore()
		return &stores{
			tx:         m,
			campaigns:  m.Campaigns(),
			responses:  m.Responses(),
			recipients: m.Recipients(),
			proofs:     m.Proofs(),
			close:      func() {},
		}, nil
	case "postgres":
		conn, err := db.Connect(ctx, cfg.DB.DSN(), log)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, conn, log); err != nil {
			conn.Close()
			return nil, err
		}
		return &stores{
			tx:         &repository.DBTransactor{DB: conn},
			campaigns:  &repository.CampaignRepository{DB: conn},
			responses:  &repository.ResponseRepository{DB: conn},
			recipients: &repository.RecipientRepository{DB: conn},
			proofs:     &repository.ProofRepository{DB: conn},
			close:      func() { conn.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}
