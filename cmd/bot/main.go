// Command bot runs the alert lifecycle engine: it reconciles brokerage fills
// onto alert records, serves the interactive chat surface, and exposes the
// admin HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tknox12/alertbridge/internal/broker"
	"github.com/tknox12/alertbridge/internal/config"
	"github.com/tknox12/alertbridge/internal/coordinator"
	"github.com/tknox12/alertbridge/internal/dashboard"
	"github.com/tknox12/alertbridge/internal/orders"
	"github.com/tknox12/alertbridge/internal/reconcile"
	"github.com/tknox12/alertbridge/internal/resolver"
	"github.com/tknox12/alertbridge/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Create logger
	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags|log.Lshortfile)

	logger.Printf("Starting alert engine in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("🏳️ PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Println("💰 LIVE TRADING MODE - Real money at risk!")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	// Gateway client behind a circuit breaker
	gateway := broker.NewGatewayClientWithTimeout(
		cfg.Broker.BaseURL,
		cfg.Broker.APIKey,
		cfg.Broker.AccountID,
		cfg.BrokerTimeout(),
	).WithLogger(logger)
	var brk broker.Broker = broker.NewCircuitBreakerBroker(gateway)

	// Durable stores
	alerts, err := storage.NewAlertStore(cfg.Storage.AlertsPath, logger)
	if err != nil {
		logger.Fatalf("Failed to open alert store: %v", err)
	}
	contracts, err := storage.NewContractStore(cfg.Storage.ContractsPath, logger)
	if err != nil {
		logger.Fatalf("Failed to open contract store: %v", err)
	}

	// Domain services
	res := resolver.New(brk, logger)
	placer := orders.NewPlacer(brk, res, logger, orders.Config{
		MaxConfirmationRounds: cfg.ConfirmationRounds(),
		TrailPercent:          cfg.Placer.TrailPercent,
	})
	reconciler := reconcile.NewService(brk, alerts, contracts, logger, reconcile.Config{
		IdleInterval: cfg.IdleInterval(),
		BusyInterval: cfg.BusyInterval(),
		ProcessedCap: cfg.ProcessedCap(),
		Alerters:     cfg.Reconcile.Alerters,
	})

	// Chat surface
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatalf("Failed to connect to telegram: %v", err)
	}
	logger.Printf("Authorized on telegram account %s", botAPI.Self.UserName)
	coord := coordinator.New(botAPI, cfg.Telegram.ChatID, brk, placer, res, alerts, contracts, logger)

	// Admin surface
	dashLogger := logrus.New()
	dashLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	admin := dashboard.NewServer(dashboard.Config{
		ListenAddr: cfg.Dashboard.ListenAddr,
		AuthToken:  cfg.Dashboard.AuthToken,
	}, alerts, contracts, reconciler, dashLogger)

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping engine...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reconciler.Run(gctx)
	})

	g.Go(func() error {
		return coord.Run(gctx)
	})

	g.Go(func() error {
		return runEvictionLoop(gctx, alerts, contracts, cfg.EvictionAge(), logger)
	})

	g.Go(func() error {
		if err := admin.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return admin.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatalf("Engine error: %v", err)
	}
	logger.Println("Engine stopped successfully")
}

// runEvictionLoop periodically drops stale non-open alerts and expired stored
// contracts.
func runEvictionLoop(ctx context.Context, alerts *storage.AlertStore,
	contracts *storage.ContractStore, maxAge time.Duration, logger *log.Logger) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if evicted := alerts.EvictStale(maxAge); evicted > 0 {
				logger.Printf("Eviction pass removed %d stale alerts", evicted)
			}
			if removed := contracts.CleanupExpired(); len(removed) > 0 {
				logger.Printf("Eviction pass removed %d expired contracts: %v", len(removed), removed)
			}
		}
	}
}
