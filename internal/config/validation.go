package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/security"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the configuration for completeness and consistency.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.App.URL == "" {
		add("app.url (HOST) is required")
	}
	if c.Shopify.APIKey == "" {
		add("shopify.apiKey (SHOPIFY_API_KEY) is required")
	}
	if c.Shopify.APISecret == "" {
		add("shopify.apiSecret (SHOPIFY_API_SECRET) is required")
	}
	if len(c.Shopify.Scopes) == 0 {
		add("shopify.scopes (SCOPES) is required")
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLite.Path == "" {
			add("storage.sqlite.path is required for the sqlite driver")
		}
	case DriverValkey:
		if c.Storage.Valkey.Address == "" {
			add("storage.valkey.address is required for the valkey driver")
		}
	default:
		add("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Security.EncryptionKey != "" {
		if _, err := c.EncryptionKey(); err != nil {
			add("security.encryptionKey: %v", err)
		}
	}
	if c.Security.TrustedProxyCount < 0 {
		add("security.trustedProxyCount cannot be negative")
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		add("rateLimit values cannot be negative")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		add("log.level: %v", err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		add("log.format must be json or text, got %q", c.Log.Format)
	}

	switch c.Telemetry.MetricsExporter {
	case "", instrumentation.ExporterNone, instrumentation.ExporterPrometheus, instrumentation.ExporterStdout:
	default:
		add("telemetry.metricsExporter %q is not supported", c.Telemetry.MetricsExporter)
	}
	switch c.Telemetry.TracesExporter {
	case "", instrumentation.ExporterNone, instrumentation.ExporterStdout:
	default:
		add("telemetry.tracesExporter %q is not supported", c.Telemetry.TracesExporter)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// EncryptionKey decodes security.encryptionKey. It returns nil when unset.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.Security.EncryptionKey == "" {
		return nil, nil
	}
	return security.KeyFromBase64(c.Security.EncryptionKey)
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", l.Level)
	}
	return level, nil
}
