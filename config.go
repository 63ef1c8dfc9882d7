package storegate

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/storegate/instrumentation"
)

// Config holds the storegate server configuration
// Structured using composition for better organization and maintainability
type Config struct {
	// AppURL is the public base URL of the app, e.g. https://app.example.com.
	// The OAuth callback is AppURL + CallbackPath.
	AppURL string

	// Shopify app credentials and settings
	Shopify ShopifyConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Webhooks settings
	Webhooks WebhookConfig

	// AppHandler serves the embedded frontend behind the gate. Defaults to a
	// handler answering 200 with the tenant name.
	AppHandler http.Handler

	// Instrumentation provides metrics and tracing (optional).
	Instrumentation *instrumentation.Instrumentation

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// HTTPClient is used for token exchanges and upstream API calls.
	// If not provided, clients with default timeouts are created.
	HTTPClient *http.Client
}

// ShopifyConfig holds the app's platform credentials
type ShopifyConfig struct {
	// APIKey is the app's client id (required).
	APIKey string

	// APISecret is the app's client secret (required). It keys callback
	// and webhook HMACs.
	APISecret string

	// Scopes requested on authorization (required). Credentials lacking any
	// of them are sent back through authorization.
	Scopes []string

	// APIVersion is the Admin API version. Default: proxy.DefaultAPIVersion.
	APIVersion string

	// OnlineTokens requests per-user tokens instead of offline tokens.
	OnlineTokens bool

	// ShopURL maps a shop domain to its base URL. Tests only.
	ShopURL func(shop string) string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP on the webhook, auth and
	// admin endpoints. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int
}

// SecurityConfig holds security settings (secure by default)
type SecurityConfig struct {
	// EncryptionKey is the AES-256 key (32 bytes) for access tokens at rest.
	// Nil disables encryption. Generate with security.GenerateKey().
	EncryptionKey []byte

	// EnableAuditLogging enables security audit logging.
	EnableAuditLogging bool

	// AdminTokenHash is the bcrypt hash of the bearer token accepted by the
	// admin endpoints. Empty disables them.
	AdminTokenHash string

	// InsecureCookies drops the Secure attribute from cookies.
	// WARNING: Only for local development over plain HTTP.
	InsecureCookies bool

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of the server.
	TrustedProxyCount int

	// ClockSkewGrace is how long past expiry an online credential stays usable.
	// Default: security.DefaultClockSkewGracePeriod.
	ClockSkewGrace time.Duration

	// StateTTL bounds the time between /auth and its callback. Default: 10 minutes.
	StateTTL time.Duration
}

// WebhookConfig holds webhook endpoint settings
type WebhookConfig struct {
	// MaxBodyBytes caps a delivery body. Default: webhook.DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Validate checks that the required fields are set.
func (c *Config) Validate() error {
	if c.AppURL == "" {
		return fmt.Errorf("app url is required")
	}
	u, err := url.Parse(c.AppURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("app url %q must be absolute", c.AppURL)
	}
	if u.Scheme != "https" && !c.Security.InsecureCookies {
		return fmt.Errorf("app url must use https unless insecure cookies are enabled")
	}
	if c.Shopify.APIKey == "" {
		return fmt.Errorf("shopify api key is required")
	}
	if c.Shopify.APISecret == "" {
		return fmt.Errorf("shopify api secret is required")
	}
	if len(c.Shopify.Scopes) == 0 {
		return fmt.Errorf("at least one scope is required")
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values cannot be negative")
	}
	return nil
}

// RedirectURL returns the OAuth callback URL.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.AppURL, "/") + CallbackPath
}

// applyDefaults fills in defaults for zero values.
func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Security.StateTTL <= 0 {
		c.Security.StateTTL = DefaultStateTTL
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = c.RateLimit.Rate * 2
	}
}
