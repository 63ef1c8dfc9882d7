package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/storegate"
	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/internal/config"
	"github.com/giantswarm/storegate/storage"
	"github.com/giantswarm/storegate/storage/memory"
	"github.com/giantswarm/storegate/storage/sqlite"
	"github.com/giantswarm/storegate/storage/valkey"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		Long: `Loads the configuration, opens the credential store and serves the
install flow, webhooks, gated frontend and API proxy until SIGINT or
SIGTERM, then drains in-flight requests.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:     cfg.Telemetry.ServiceName,
		ServiceVersion:  rootCmd.Version,
		Enabled:         cfg.Telemetry.Enabled,
		LogClientIPs:    cfg.Telemetry.LogClientIPs,
		MetricsExporter: cfg.Telemetry.MetricsExporter,
		TracesExporter:  cfg.Telemetry.TracesExporter,
	})
	if err != nil {
		return fmt.Errorf("failed to set up instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openStore(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	appCfg, err := serverConfig(&cfg, inst, logger)
	if err != nil {
		return err
	}
	srv, err := storegate.NewServer(store, appCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Shutdown()

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           storegate.NewHandler(srv, logger).Routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting storegate",
			"address", cfg.Server.Address,
			"app_url", cfg.App.URL,
			"storage", cfg.Storage.Driver,
			"version", rootCmd.Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down storegate")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// serverConfig maps the file configuration onto the library configuration.
func serverConfig(cfg *config.Config, inst *instrumentation.Instrumentation, logger *slog.Logger) (*storegate.Config, error) {
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		logger.Warn("No encryption key configured, access tokens are stored in plaintext")
	}

	out := &storegate.Config{
		AppURL: cfg.App.URL,
		Shopify: storegate.ShopifyConfig{
			APIKey:       cfg.Shopify.APIKey,
			APISecret:    cfg.Shopify.APISecret,
			Scopes:       cfg.Shopify.Scopes,
			APIVersion:   cfg.Shopify.APIVersion,
			OnlineTokens: cfg.Shopify.OnlineTokens,
		},
		RateLimit: storegate.RateLimitConfig{
			Rate:  cfg.RateLimit.Rate,
			Burst: cfg.RateLimit.Burst,
		},
		Security: storegate.SecurityConfig{
			EncryptionKey:      key,
			EnableAuditLogging: cfg.Security.AuditLogging,
			AdminTokenHash:     cfg.Security.AdminTokenHash,
			InsecureCookies:    cfg.Security.InsecureCookies,
			TrustProxy:         cfg.Security.TrustProxy,
			TrustedProxyCount:  cfg.Security.TrustedProxyCount,
			ClockSkewGrace:     cfg.Security.ClockSkewGrace,
		},
		Webhooks: storegate.WebhookConfig{
			MaxBodyBytes: cfg.Webhooks.MaxBodyBytes,
		},
		Instrumentation: inst,
		Logger:          logger,
	}
	if cfg.App.StaticDir != "" {
		out.AppHandler = http.FileServer(http.Dir(cfg.App.StaticDir))
	}
	return out, nil
}

// openStore opens the configured credential store. The returned func
// releases it.
func openStore(cfg config.StorageConfig, logger *slog.Logger) (storage.CredentialStore, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory storage, credentials are lost on restart")
		store := memory.New()
		store.SetLogger(logger)
		return store, func() {}, nil

	case config.DriverSQLite:
		db, err := sqlite.NewDB(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		if err := sqlite.RunMigrations(db.Writer); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		store := sqlite.New(db)
		store.SetLogger(logger)
		return store, func() { _ = db.Close() }, nil

	case config.DriverValkey:
		vcfg := valkey.Config{
			Address:   cfg.Valkey.Address,
			Password:  cfg.Valkey.Password,
			DB:        cfg.Valkey.DB,
			KeyPrefix: cfg.Valkey.KeyPrefix,
			Logger:    logger,
		}
		if cfg.Valkey.TLS {
			vcfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		store, err := valkey.New(vcfg)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// newLogger builds the process logger from the log configuration.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
