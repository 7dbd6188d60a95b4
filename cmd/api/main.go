package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stateset/stablepay/internal/api"
	"github.com/stateset/stablepay/internal/config"
	"github.com/stateset/stablepay/internal/db"
	"github.com/stateset/stablepay/internal/fees"
	"github.com/stateset/stablepay/internal/idempotency"
	"github.com/stateset/stablepay/internal/logger"
	"github.com/stateset/stablepay/internal/metrics"
	"github.com/stateset/stablepay/internal/provider"
	"github.com/stateset/stablepay/internal/recon"
	"github.com/stateset/stablepay/internal/repository"
	"github.com/stateset/stablepay/internal/repository/memory"
	"github.com/stateset/stablepay/internal/repository/postgres"
	"github.com/stateset/stablepay/internal/services"
	"github.com/stateset/stablepay/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		transactions repository.Transactions
		refunds      repository.Refunds
		keys         repository.Keys
		recons       repository.Reconciliations
		audit        repository.AuditLogs
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("db connect", "err", err)
			os.Exit(1)
		}
		defer pool.Close()

		if os.Getenv("APP_MIGRATE") == "true" {
			if err := db.RunMigrations(ctx, pool); err != nil {
				log.Error("migrations", "err", err)
				os.Exit(1)
			}
		}

		repos := postgres.NewRepositories(pool)
		transactions, refunds, keys = repos.Transactions, repos.Refunds, repos.Keys
		recons, audit = repos.Reconciliations, repos.AuditLogs
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores (dev only)")
		stores := memory.NewStores()
		transactions, refunds, keys = stores.Transactions, stores.Refunds, stores.Keys
		recons, audit = stores.Reconciliations, stores.AuditLogs
	}

	tolerance, err := decimal.NewFromString(cfg.ReconAmountTolerance)
	if err != nil {
		log.Error("invalid RECON_AMOUNT_TOLERANCE", "value", cfg.ReconAmountTolerance, "err", err)
		os.Exit(1)
	}

	wp := worker.NewPool(cfg.WorkerCount)
	defer wp.Stop()

	guard := idempotency.NewGuard(keys, cfg.IdempotencyTTL)
	feeRouter := fees.NewRouter(cfg.MaxConfirmation)
	matcher := recon.NewMatcher(tolerance)
	prov := &provider.Sandbox{}

	paymentSvc := services.NewPaymentService(transactions, audit, guard, feeRouter, prov, wp, log)
	refundSvc := services.NewRefundService(transactions, refunds, audit, guard, prov, log)
	reconSvc := services.NewReconciliationService(transactions, recons, audit, matcher, log)

	metrics.Init()
	r := api.NewRouter(cfg, paymentSvc, refundSvc, reconSvc, feeRouter)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
