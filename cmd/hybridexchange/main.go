package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/efreitasn/hybridexchange/internal/audit"
	"github.com/efreitasn/hybridexchange/internal/config"
	"github.com/efreitasn/hybridexchange/internal/domain"
	"github.com/efreitasn/hybridexchange/internal/engine"
	"github.com/efreitasn/hybridexchange/internal/handler"
	"github.com/efreitasn/hybridexchange/internal/ledger"
	"github.com/efreitasn/hybridexchange/internal/service"
	"github.com/efreitasn/hybridexchange/internal/store"
)

const relayBatchSize = 500

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	markets, err := config.LoadMarkets(cfg.MarketsFile)
	if err != nil {
		slog.Error("failed to load markets", slog.String("file", cfg.MarketsFile), slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Ledger and external wallets.
	assets := domain.NewAssetRegistry()
	wallets := ledger.NewWallets()
	ledgerStore := ledger.NewStore(assets, wallets)

	// Engine.
	registry := engine.NewRegistry(ledgerStore, assets)
	for _, mc := range markets.Markets {
		if _, err := registry.DeployMarket(mc); err != nil {
			logger.Error("failed to deploy market", slog.String("market_id", mc.ID), slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("market deployed",
			slog.String("market_id", mc.ID),
			slog.String("vault_address", engine.VaultAddress(mc)),
		)
	}
	for _, g := range markets.Genesis {
		if err := wallets.Mint(g.Account, g.Asset, g.Amount); err != nil {
			logger.Error("failed to mint genesis balance", slog.String("account", g.Account), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Audit: durable outbox relayed to Kafka, or in memory without a data dir.
	var sink audit.Sink = audit.NewMemorySink()
	var outbox *audit.Outbox
	var relay *audit.Relay
	var publisher *audit.KafkaPublisher
	relayDone := make(<-chan struct{})
	if cfg.AuditDir != "" {
		outbox, err = audit.Open(cfg.AuditDir, nil)
		if err != nil {
			logger.Error("failed to open audit outbox", slog.String("dir", cfg.AuditDir), slog.String("error", err.Error()))
			os.Exit(1)
		}
		sink = outbox
		if len(cfg.KafkaBrokers) > 0 {
			publisher = audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
			relay = audit.NewRelay(outbox, publisher, cfg.RelayInterval, relayBatchSize, logger)
			relayDone = relay.Start(ctx)
		}
	}

	// Stores and services.
	auth := service.NewAuthorizer(markets.Relayers)
	webhookSvc := service.NewWebhookService(store.NewWebhookStore(), cfg.WebhookTimeout, logger)
	accountSvc := service.NewAccountService(ledgerStore, wallets, assets, auth, sink, webhookSvc, logger)
	marketSvc := service.NewMarketService(registry, ledgerStore, store.NewOrderStore(), store.NewFillStore(), auth, sink, webhookSvc, logger)

	// Router.
	router := handler.NewRouter(accountSvc, marketSvc, webhookSvc, logger)

	// Configure HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Start HTTP server in a goroutine.
	go func() {
		logger.Info("server starting", slog.String("addr", addr), slog.Int("markets", len(markets.Markets)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop HTTP server, finish webhook deliveries, then
	// drain the audit outbox before closing it.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	webhookSvc.Wait()
	cancel()

	if relay != nil {
		<-relayDone
		n, err := relay.Flush(shutdownCtx)
		if err != nil {
			logger.Error("audit flush failed", slog.String("error", err.Error()))
		}
		logger.Info("audit events flushed", slog.Int("count", n))
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", slog.String("error", err.Error()))
		}
	}
	if outbox != nil {
		if err := outbox.Close(); err != nil {
			logger.Error("audit outbox close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}
