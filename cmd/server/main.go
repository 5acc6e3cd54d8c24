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

	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/fee"
	"github.com/richardliu001/wallet-ledger/internal/logger"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/notify"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/retry"
	"github.com/richardliu001/wallet-ledger/internal/service"
	"github.com/richardliu001/wallet-ledger/internal/session"
	httptransport "github.com/richardliu001/wallet-ledger/internal/transport/http"
	"github.com/richardliu001/wallet-ledger/internal/worker"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}
	if err := repo.AutoMigrate(gdb); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	// 5. notifications
	var bus notify.Bus
	switch cfg.Notify.Backend {
	case "redis":
		bus = notify.NewRedisBroker(rdb, log)
	case "memory":
		bus = notify.NewBroker(log)
	default:
		log.Fatalf("unknown notify backend %q", cfg.Notify.Backend)
	}

	// 6. repo & service; events reach Kafka through the outbox and cmd/poller
	fees, err := fee.NewCalculator(cfg.Wallet.Fees.MobileMoneyRate, cfg.Wallet.Fees.BankTransferRate)
	if err != nil {
		log.Fatalf("fees: %v", err)
	}
	repository := repo.NewRepository(gdb, rdb, nil, log)
	svc := service.NewWalletService(repository, bus, service.Options{
		Limits: model.Limits{
			MinDeposit:    cfg.Wallet.Limits.MinDeposit,
			MaxDeposit:    cfg.Wallet.Limits.MaxDeposit,
			MinWithdrawal: cfg.Wallet.Limits.MinWithdrawal,
			MaxWithdrawal: cfg.Wallet.Limits.MaxWithdrawal,
		},
		Fees:          fees,
		WithdrawalSLA: cfg.Wallet.WithdrawalSLA,
	}, log)

	// 7. automated withdrawal processor
	if cfg.Worker.Enabled {
		p := worker.NewProcessor(svc, worker.ProcessorOptions{
			Interval:      cfg.Worker.Interval,
			ApproveAfter:  cfg.Worker.ApproveAfter,
			CompleteAfter: cfg.Worker.CompleteAfter,
		}, log)
		go p.Run(ctx)
	}

	// 8. gin router
	h := httptransport.NewHandler(svc, bus, session.Options{
		HistoryLimit: cfg.Wallet.HistoryLimit,
		Retry:        retry.Policy{Attempts: cfg.Wallet.Retry.Attempts, Backoff: cfg.Wallet.Retry.Backoff},
	}, log)
	tokens := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	router := httptransport.NewRouter(h, tokens, cfg.RateLimit, log)

	// 9. serve
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router}
	go func() {
		log.Infof("wallet-server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	log.Info("wallet-server stopped")
}
