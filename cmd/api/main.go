package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/josva12/Mpesa-PaySTK/internal/api"
	"github.com/josva12/Mpesa-PaySTK/internal/config"
	"github.com/josva12/Mpesa-PaySTK/internal/db"
	"github.com/josva12/Mpesa-PaySTK/internal/logger"
	"github.com/josva12/Mpesa-PaySTK/internal/metrics"
	"github.com/josva12/Mpesa-PaySTK/internal/mpesa"
	"github.com/josva12/Mpesa-PaySTK/internal/repository/postgres"
	"github.com/josva12/Mpesa-PaySTK/internal/services"
	"github.com/josva12/Mpesa-PaySTK/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store connectivity is the only fatal startup dependency.
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool); err != nil {
		log.Error("migrations", "err", err)
		os.Exit(1)
	}

	metrics.Init()

	repos := postgres.NewRepositories(pool)
	wp := worker.NewPool(4)
	defer wp.Stop()

	gateway := mpesa.NewClient(mpesa.Config{
		BaseURL:        cfg.BaseURL,
		ConsumerKey:    cfg.ConsumerKey,
		ConsumerSecret: cfg.ConsumerSecret,
		Shortcode:      cfg.BusinessShortcode,
		Passkey:        cfg.Passkey,
		CallbackURL:    cfg.CallbackURL,
		Timeout:        cfg.APITimeout,
	}, log)

	paySvc := services.NewPaymentService(
		repos.Transactions,
		repos.PaymentEvents,
		gateway,
		wp,
		log,
		cfg.MinAmount,
		cfg.MaxAmount,
	)

	r := api.NewRouter(cfg, paySvc)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "gateway", cfg.BaseURL)
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
