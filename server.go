package storegate

import (
	"fmt"
	"log/slog"

	"github.com/giantswarm/storegate/gate"
	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/providers"
	"github.com/giantswarm/storegate/providers/shopify"
	"github.com/giantswarm/storegate/proxy"
	"github.com/giantswarm/storegate/security"
	"github.com/giantswarm/storegate/session"
	"github.com/giantswarm/storegate/storage"
	"github.com/giantswarm/storegate/webhook"
)

// instrumentedStore is implemented by stores that report metrics and
// record counts.
type instrumentedStore interface {
	SetInstrumentation(inst *instrumentation.Instrumentation)
}

// Server wires the session lifecycle to its adapters. It coordinates the
// OAuth engine, the webhook handler, the gate and the proxy over one
// CredentialStore.
type Server struct {
	Config *Config

	Store           storage.CredentialStore
	Sessions        *session.Manager
	Provider        providers.Provider
	Gate            *gate.Gate
	Webhooks        *webhook.Handler
	Proxy           *proxy.Client
	Encryptor       *security.Encryptor
	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter
	Instrumentation *instrumentation.Instrumentation

	logger *slog.Logger
}

// NewServer creates a server over store using the Shopify provider.
func NewServer(store storage.CredentialStore, cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	provider, err := shopify.NewProvider(&shopify.Config{
		APIKey:      cfg.Shopify.APIKey,
		APISecret:   cfg.Shopify.APISecret,
		Scopes:      cfg.Shopify.Scopes,
		RedirectURL: cfg.RedirectURL(),
		HTTPClient:  cfg.HTTPClient,
		ShopURL:     cfg.Shopify.ShopURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}
	return NewServerWithProvider(store, provider, cfg)
}

// NewServerWithProvider creates a server with a custom OAuth provider.
func NewServerWithProvider(store storage.CredentialStore, provider providers.Provider, cfg *Config) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.applyDefaults()
	logger := cfg.Logger

	encryptor, err := security.NewEncryptor(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	auditor := security.NewAuditor(logger, cfg.Security.EnableAuditLogging)
	inst := cfg.Instrumentation

	if s, ok := store.(instrumentedStore); ok && inst != nil {
		s.SetInstrumentation(inst)
	}

	sessions, err := session.New(session.Config{
		Store:           store,
		Encryptor:       encryptor,
		Auditor:         auditor,
		Instrumentation: inst,
		Logger:          logger,
		ClockSkewGrace:  cfg.Security.ClockSkewGrace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	g, err := gate.New(gate.Config{
		Sessions:          sessions,
		CookieSecret:      cfg.Shopify.APISecret,
		SecureCookie:      !cfg.Security.InsecureCookies,
		AuthPath:          AuthPath,
		RequiredScopes:    cfg.Shopify.Scopes,
		Auditor:           auditor,
		Instrumentation:   inst,
		Logger:            logger,
		TrustProxy:        cfg.Security.TrustProxy,
		TrustedProxyCount: cfg.Security.TrustedProxyCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gate: %w", err)
	}

	webhooks, err := webhook.New(webhook.Config{
		Secret:            cfg.Shopify.APISecret,
		Routes:            webhook.UninstallRoutes(sessions),
		MaxBodyBytes:      cfg.Webhooks.MaxBodyBytes,
		Auditor:           auditor,
		Instrumentation:   inst,
		Logger:            logger,
		TrustProxy:        cfg.Security.TrustProxy,
		TrustedProxyCount: cfg.Security.TrustedProxyCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook handler: %w", err)
	}

	client := proxy.NewClient(proxy.ClientConfig{
		HTTPClient:      cfg.HTTPClient,
		APIVersion:      cfg.Shopify.APIVersion,
		BaseURL:         cfg.Shopify.ShopURL,
		Auditor:         auditor,
		Instrumentation: inst,
		Logger:          logger,
	})

	var limiter *security.RateLimiter
	if cfg.RateLimit.Rate > 0 {
		limiter = security.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, logger)
	}

	logger.Info("Created storegate server",
		"provider", provider.Name(),
		"scopes", cfg.Shopify.Scopes,
		"online_tokens", cfg.Shopify.OnlineTokens,
		"encryption", encryptor.IsEnabled(),
		"audit", cfg.Security.EnableAuditLogging,
		"admin_api", cfg.Security.AdminTokenHash != "")

	return &Server{
		Config:          cfg,
		Store:           store,
		Sessions:        sessions,
		Provider:        provider,
		Gate:            g,
		Webhooks:        webhooks,
		Proxy:           client,
		Encryptor:       encryptor,
		Auditor:         auditor,
		RateLimiter:     limiter,
		Instrumentation: inst,
		logger:          logger,
	}, nil
}

// Shutdown stops background goroutines. It does not close the store.
func (s *Server) Shutdown() {
	if s.RateLimiter != nil {
		s.RateLimiter.Stop()
	}
}
