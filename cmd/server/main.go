package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/tokensale/reconciler/internal/breaker"
	"github.com/tokensale/reconciler/internal/calculator"
	"github.com/tokensale/reconciler/internal/checkout"
	"github.com/tokensale/reconciler/internal/config"
	"github.com/tokensale/reconciler/internal/httpserver"
	"github.com/tokensale/reconciler/internal/lifecycle"
	"github.com/tokensale/reconciler/internal/logger"
	"github.com/tokensale/reconciler/internal/metrics"
	"github.com/tokensale/reconciler/internal/notify"
	"github.com/tokensale/reconciler/internal/provider"
	"github.com/tokensale/reconciler/internal/rates"
	"github.com/tokensale/reconciler/internal/storage"
	"github.com/tokensale/reconciler/internal/transactions"
	"github.com/tokensale/reconciler/internal/webhook"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	// Local development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "reconciler",
		Environment: cfg.Logging.Environment,
	})

	resources := lifecycle.NewManager(log)
	defer resources.Close()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("main.storage_init_failed")
	}
	resources.Register("storage", store)

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	breakers := breaker.NewManager(cfg.CircuitBreaker, log)

	rateProvider := rates.NewProvider(cfg.Rates, breakers, metricsCollector, log)
	calc := calculator.New(func(ctx context.Context, from, to string) (decimal.Decimal, error) {
		return rateProvider.GetRate(ctx, from, to, 0)
	}, cfg.Checkout.ConversionFeeBasisPoints)

	notifier := notify.New(cfg.Notify, log)
	txService := transactions.NewService(store, notifier, metricsCollector, log)

	providerClient := provider.NewClient(cfg.Provider, breakers, log)
	orchestrator := checkout.New(store, calc, providerClient, cfg.Checkout, metricsCollector, log)

	processor := webhook.NewProcessor(store, txService, metricsCollector, log)
	webhookHandler := webhook.NewHandler(cfg.Provider.WebhookSecret, processor, log)

	server := httpserver.New(cfg, httpserver.Deps{
		Store:      store,
		Calculator: calc,
		Rates:      rateProvider,
		Checkout:   orchestrator,
		Txs:        txService,
		Webhook:    webhookHandler,
		Metrics:    metricsCollector,
		Logger:     log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("main.server_starting")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("main.shutdown_signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("main.server_failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("main.shutdown_failed")
	}
	log.Info().Msg("main.stopped")
}
