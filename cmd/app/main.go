package main

import (
	"context"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/kosvc/max-bridge/config"
	"github.com/kosvc/max-bridge/internal/bridge"
	httpDelivery "github.com/kosvc/max-bridge/internal/delivery/http"
	"github.com/kosvc/max-bridge/internal/domain"
	"github.com/kosvc/max-bridge/internal/infrastructure/database"
	"github.com/kosvc/max-bridge/internal/infrastructure/logger"
	"github.com/kosvc/max-bridge/internal/infrastructure/metrics"
	"github.com/kosvc/max-bridge/internal/maxws"
	"github.com/kosvc/max-bridge/internal/messages"
	"github.com/kosvc/max-bridge/internal/notifier"
	"github.com/kosvc/max-bridge/internal/repository/memory"
	"github.com/kosvc/max-bridge/internal/repository/postgres"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// 2. Initialize logger
	log := logger.New(cfg.Logging.Level)
	log.Info().
		Str("service", cfg.Service.Name).
		Str("port", cfg.Service.Port).
		Msg("Starting MAX bridge service")

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// 3. Initialize store: PostgreSQL when a DSN is configured, otherwise
	// the in-memory store (linked accounts are lost on restart).
	var store domain.Store
	if cfg.Database.DSN != "" {
		db, err := database.NewPostgresDB(cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		store = postgres.NewStore(db)
		log.Info().Msg("PostgreSQL store initialized")
	} else {
		store = memory.NewStore()
		log.Warn().Msg("No DATABASE_DSN set, using in-memory store")
	}

	// 4. Initialize metrics
	m := metrics.New()

	// 5. Initialize Telegram notifier
	tgNotifier, err := notifier.NewTelegram(cfg.Telegram.BotToken, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Telegram notifier")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		tgNotifier.Start(ctx)
	}()

	// 6. Initialize registry and bridge. The registry's event sink feeds
	// the bridge's inbound queue; the closure breaks the construction cycle.
	var br *bridge.Bridge
	registry := maxws.NewRegistry(maxws.RegistryConfig{
		URL:         cfg.Max.WebsocketURL,
		Origin:      cfg.Max.Origin,
		MaxRetries:  cfg.Max.ReconnectMaxRetries,
		AuthCodeTTL: cfg.Max.AuthCodeTTL,
		Sink: func(envelope messages.Envelope) {
			if err := br.EnqueueInbound(ctx, envelope); err != nil {
				log.Warn().Err(err).Msg("Inbound enqueue aborted")
			}
		},
		Store:   store,
		Logger:  log,
		Metrics: m,
	})

	br = bridge.New(bridge.Config{
		QueueCapacity: cfg.Bridge.QueueCapacity,
		Registry:      registry,
		Store:         store,
		Notifier:      tgNotifier,
		Logger:        log,
		Metrics:       m,
	})

	// 7. Start the bridge consumers
	startConsumer := func(name string, run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("consumer", name).
						Str("stack", string(debug.Stack())).
						Msg("Bridge consumer panic recovered")
				}
			}()
			run(ctx)
		}()
	}
	startConsumer("outbound", br.RunOutbound)
	startConsumer("inbound", br.RunInbound)

	// 8. Reconnect persisted accounts
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := registry.Startup(ctx); err != nil {
			log.Error().Err(err).Msg("Startup reconnect failed")
		}
	}()

	// 9. Initialize HTTP server for health checks and metrics
	var pinger httpDelivery.StoreHealthChecker
	if p, ok := store.(httpDelivery.StoreHealthChecker); ok {
		pinger = p
	}
	healthHandler := httpDelivery.NewHealthHandler(registry, pinger, log)
	httpServer := httpDelivery.NewServer(cfg.Service.Port, httpDelivery.NewRouter(healthHandler), log)

	if err := httpServer.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	}

	log.Info().Msg("MAX bridge service initialized successfully")

	// Wait for interrupt signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Info().Msg("Received shutdown signal, starting graceful shutdown...")

	// Cancel context to stop all goroutines
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All goroutines stopped gracefully")
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	// Explicit shutdown sequence (not using defer to control order)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// 1. Shutdown HTTP server (stop accepting new health check requests)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	// 2. Disconnect every MAX session
	closedCount := registry.Shutdown(shutdownCtx)
	log.Info().
		Int("disconnected", closedCount).
		Msg("Session registry shutdown completed")

	log.Info().Msg("MAX bridge service stopped successfully")
}
