package config

import "time"

// Config is the root of storegate.yaml
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	App       AppConfig       `yaml:"app"`
	Shopify   ShopifyConfig   `yaml:"shopify"`
	Storage   StorageConfig   `yaml:"storage"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Address           string        `yaml:"address"`           // listen address (default: :8081)
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"` // default: 10s
	ReadTimeout       time.Duration `yaml:"readTimeout"`       // default: 30s
	WriteTimeout      time.Duration `yaml:"writeTimeout"`      // default: 60s
	IdleTimeout       time.Duration `yaml:"idleTimeout"`       // default: 120s
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`   // default: 15s
}

// AppConfig describes the public app
type AppConfig struct {
	URL       string `yaml:"url"`                 // public base URL (HOST)
	StaticDir string `yaml:"staticDir,omitempty"` // built frontend served behind the gate
}

// ShopifyConfig holds the app credentials
type ShopifyConfig struct {
	APIKey       string   `yaml:"apiKey"`
	APISecret    string   `yaml:"apiSecret"`
	Scopes       []string `yaml:"scopes"`
	APIVersion   string   `yaml:"apiVersion,omitempty"`
	OnlineTokens bool     `yaml:"onlineTokens,omitempty"`
}

// Storage drivers
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverValkey = "valkey"
)

// StorageConfig selects and configures the credential store
type StorageConfig struct {
	Driver string       `yaml:"driver"` // memory, sqlite or valkey (default: memory)
	SQLite SQLiteConfig `yaml:"sqlite"`
	Valkey ValkeyConfig `yaml:"valkey"`
}

// SQLiteConfig configures the sqlite driver
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ValkeyConfig configures the valkey driver
type ValkeyConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
	TLS       bool   `yaml:"tls,omitempty"`
}

// SecurityConfig holds security settings
type SecurityConfig struct {
	EncryptionKey     string        `yaml:"encryptionKey,omitempty"`  // base64, 32 bytes
	AdminTokenHash    string        `yaml:"adminTokenHash,omitempty"` // bcrypt
	AuditLogging      bool          `yaml:"auditLogging"`
	InsecureCookies   bool          `yaml:"insecureCookies,omitempty"`
	TrustProxy        bool          `yaml:"trustProxy,omitempty"`
	TrustedProxyCount int           `yaml:"trustedProxyCount,omitempty"`
	ClockSkewGrace    time.Duration `yaml:"clockSkewGrace,omitempty"`
}

// RateLimitConfig configures per-IP limiting
type RateLimitConfig struct {
	Rate  int `yaml:"rate"`
	Burst int `yaml:"burst"`
}

// WebhookConfig configures the webhook endpoint
type WebhookConfig struct {
	MaxBodyBytes int64 `yaml:"maxBodyBytes,omitempty"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // json or text (default: json)
}

// TelemetryConfig configures OpenTelemetry
type TelemetryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ServiceName     string `yaml:"serviceName,omitempty"`
	MetricsExporter string `yaml:"metricsExporter,omitempty"` // prometheus, stdout or none
	TracesExporter  string `yaml:"tracesExporter,omitempty"`  // stdout or none
	LogClientIPs    bool   `yaml:"logClientIPs,omitempty"`
}
