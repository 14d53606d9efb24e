package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bondings/bondings/internal/api"
	"github.com/bondings/bondings/internal/config"
	"github.com/bondings/bondings/internal/ledger"
	"github.com/bondings/bondings/internal/logging"
	"github.com/bondings/bondings/internal/metrics"
	"github.com/bondings/bondings/internal/migration"
	"github.com/bondings/bondings/internal/policy"
	"github.com/bondings/bondings/internal/signature"
	"github.com/bondings/bondings/internal/util"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath(), "Path to config file")
	httpAddr   = flag.String("http", "", "HTTP listen address (overrides config)")
	logLevel   = flag.String("log-level", "", "Log level (overrides config)")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *httpAddr != "" {
		cfg.API.Addr = *httpAddr
	}
	if *logLevel != "" {
		cfg.Daemon.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.Setup(os.Stdout, cfg.Daemon.LogLevel, cfg.Daemon.LogFormat); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if err := migrate(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seed, err := cfg.PolicySeed()
	if err != nil {
		return err
	}
	store, err := policy.NewStore(seed, cfg.Ledger.PolicyFile)
	if err != nil {
		return fmt.Errorf("open policy store: %w", err)
	}
	util.SafeGo("policy-watch", func() {
		if err := store.Watch(ctx); err != nil {
			logging.Warn("policy watcher stopped", logging.Err(err), logging.Component("policy"))
		}
	})

	fac, err := openPayments(ctx, cfg)
	if err != nil {
		return err
	}
	defer fac.Close()

	l, err := ledger.New(ledger.Config{
		Custody:  fac.Custody,
		Payment:  fac.Payment,
		Factory:  fac.Factory,
		Policy:   store,
		Verifier: signature.NewVerifier(cfg.SignatureMaxAge()),
	})
	if err != nil {
		return err
	}

	var collector *metrics.PrometheusCollector
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(l)
		unsubscribe := l.Subscribe(collector.Observe)
		defer unsubscribe()
	}

	server := api.NewServer(serverConfig(cfg), l, store, collector)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}

	p := store.Get()
	logging.Info("bondings daemon started",
		"http_addr", server.Addr(),
		"mock_payments", cfg.Chain.MockPayments,
		logging.Address("custody", fac.Custody),
		logging.Address("admin", p.Admin),
		logging.Address("trusted_signer", p.TrustedSigner),
		logging.Component("daemon"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.Info("shutting down", logging.Component("daemon"))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("error during shutdown", logging.Err(err), logging.Component("daemon"))
	}
	cancel()

	logging.Info("shutdown complete", logging.Component("daemon"))
	return nil
}

// migrate brings the data directory up to the current layout.
func migrate(cfg *config.Config) error {
	m := migration.NewMigrator(migration.Layout{
		DataDir:     cfg.Daemon.DataDir,
		PolicyFile:  cfg.Ledger.PolicyFile,
		KeystoreDir: cfg.Chain.KeystoreDir,
	})
	migration.RegisterDefaultMigrations(m)
	if err := m.LoadApplied(); err != nil {
		return err
	}
	if _, err := m.Run(); err != nil {
		return fmt.Errorf("migrate data directory: %w", err)
	}
	return nil
}

func serverConfig(cfg *config.Config) *api.ServerConfig {
	a := cfg.API
	sc := api.DefaultServerConfig()
	sc.HTTPAddr = a.Addr
	sc.RateLimit = a.RateLimitRequests
	sc.RateLimitBurst = a.RateLimitBurst
	sc.TrustProxy = a.TrustProxy
	sc.EnableCORS = a.EnableCORS
	sc.AllowedOrigins = a.AllowedOrigins
	sc.ReadHeaderTimeout = time.Duration(a.ReadHeaderTimeoutSecs) * time.Second
	sc.IdleTimeout = time.Duration(a.IdleTimeoutSecs) * time.Second
	sc.MaxConnections = a.MaxConnections
	sc.EnableWebSocket = a.EnableWebSocket
	sc.AuthWindow = time.Duration(a.AuthWindowSecs) * time.Second
	sc.MaxBodyBytes = a.MaxRequestSize
	sc.MetricsPath = ""
	if cfg.Metrics.Enabled {
		sc.MetricsPath = cfg.Metrics.Path
	}
	return sc
}
