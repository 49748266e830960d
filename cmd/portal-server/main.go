package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/netflow-hotspot/netflow-server/internal/api"
	"github.com/netflow-hotspot/netflow-server/internal/config"
	"github.com/netflow-hotspot/netflow-server/internal/mikrotik"
	"github.com/netflow-hotspot/netflow-server/internal/payment"
	"github.com/netflow-hotspot/netflow-server/internal/session"
	"github.com/netflow-hotspot/netflow-server/internal/storage"
	"github.com/netflow-hotspot/netflow-server/internal/voucher"
)

func main() {
	// Command line flags
	var configFile string
	var validateOnly bool
	flag.StringVar(&configFile, "config", "config/portal-server.yml", "Configuration file path")
	flag.BoolVar(&validateOnly, "validate", false, "Validate configuration and exit")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", configFile).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if validateOnly {
		fmt.Println("configuration OK")
		return
	}

	// Connect to storage
	var store storage.Store
	switch cfg.Database.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory storage, all data is lost on restart")
		store = storage.NewMemoryStore()
	default:
		store, err = storage.NewPostgresStore(cfg.Database.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		log.Info().Msg("Connected to database")
	}
	defer store.Close()

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional NATS connection for lifecycle events
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("netflow-portal-server"),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without event publishing")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Wire services
	publisher := session.NewPublisher(nc)
	routers := mikrotik.NewManager(nil)
	sessions := session.NewManager(store, routers, publisher, cfg.Session.PresenceTimeout)
	gateway := payment.NewGateway(cfg.Payment)
	reconciler := payment.NewReconciler(store, gateway, sessions, publisher,
		cfg.Payment.PollInterval, cfg.Payment.PollGrace)
	vouchers := voucher.NewService(store, sessions, cfg.Session.VoucherTTL)
	reaper := session.NewReaper(store, sessions, cfg.Session.ReaperInterval)

	// Start REST API server
	apiServer := api.NewRESTServer(cfg, store, api.Deps{
		Sessions:   sessions,
		Reconciler: reconciler,
		Gateway:    gateway,
		Vouchers:   vouchers,
		Routers:    routers,
	})

	// WaitGroup for services
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil {
			log.Error().Err(err).Msg("REST API server stopped")
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		reaper.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Start(ctx)
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case <-ctx.Done():
	}

	// Cancel context
	cancel()

	// Shutdown API server
	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Portal server stopped")
}
