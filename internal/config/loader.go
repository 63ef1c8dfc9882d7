package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LookupFunc reads an environment variable, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load reads path (or DefaultConfigFile when path is empty and it exists),
// applies the process environment and validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with a custom environment.
func LoadWithEnv(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator supplied
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults and environment only
	default:
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// first returns the value of the first set, non-empty variable of keys.
func first(lookup LookupFunc, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := lookup(k); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// applyEnv overlays environment variables on cfg.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(target *string, keys ...string) {
		if v, ok := first(lookup, keys...); ok {
			*target = v
		}
	}
	boolean := func(target *bool, key string) error {
		v, ok := first(lookup, key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*target = b
		return nil
	}
	integer := func(target *int, key string) error {
		v, ok := first(lookup, key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*target = n
		return nil
	}

	str(&cfg.Server.Address, "STOREGATE_ADDRESS")
	if _, ok := first(lookup, "STOREGATE_ADDRESS"); !ok {
		if port, ok := first(lookup, "PORT"); ok {
			cfg.Server.Address = ":" + port
		}
	}

	str(&cfg.App.URL, "STOREGATE_APP_URL", "HOST")
	str(&cfg.App.StaticDir, "STOREGATE_STATIC_DIR")

	str(&cfg.Shopify.APIKey, "STOREGATE_SHOPIFY_API_KEY", "SHOPIFY_API_KEY")
	str(&cfg.Shopify.APISecret, "STOREGATE_SHOPIFY_API_SECRET", "SHOPIFY_API_SECRET")
	str(&cfg.Shopify.APIVersion, "STOREGATE_SHOPIFY_API_VERSION")
	if v, ok := first(lookup, "STOREGATE_SCOPES", "SCOPES"); ok {
		cfg.Shopify.Scopes = splitList(v)
	}

	str(&cfg.Storage.Driver, "STOREGATE_STORAGE_DRIVER")
	str(&cfg.Storage.SQLite.Path, "STOREGATE_SQLITE_PATH")
	str(&cfg.Storage.Valkey.Address, "STOREGATE_VALKEY_ADDRESS")
	str(&cfg.Storage.Valkey.Password, "STOREGATE_VALKEY_PASSWORD")
	str(&cfg.Storage.Valkey.KeyPrefix, "STOREGATE_VALKEY_KEY_PREFIX")

	str(&cfg.Security.EncryptionKey, "STOREGATE_ENCRYPTION_KEY")
	str(&cfg.Security.AdminTokenHash, "STOREGATE_ADMIN_TOKEN_HASH")

	str(&cfg.Log.Level, "STOREGATE_LOG_LEVEL")
	str(&cfg.Log.Format, "STOREGATE_LOG_FORMAT")

	str(&cfg.Telemetry.MetricsExporter, "STOREGATE_METRICS_EXPORTER")
	str(&cfg.Telemetry.TracesExporter, "STOREGATE_TRACES_EXPORTER")

	for _, err := range []error{
		boolean(&cfg.Shopify.OnlineTokens, "STOREGATE_ONLINE_TOKENS"),
		boolean(&cfg.Storage.Valkey.TLS, "STOREGATE_VALKEY_TLS"),
		boolean(&cfg.Security.AuditLogging, "STOREGATE_AUDIT_LOGGING"),
		boolean(&cfg.Security.InsecureCookies, "STOREGATE_INSECURE_COOKIES"),
		boolean(&cfg.Security.TrustProxy, "STOREGATE_TRUST_PROXY"),
		boolean(&cfg.Telemetry.Enabled, "STOREGATE_TELEMETRY_ENABLED"),
		integer(&cfg.Storage.Valkey.DB, "STOREGATE_VALKEY_DB"),
		integer(&cfg.Security.TrustedProxyCount, "STOREGATE_TRUSTED_PROXY_COUNT"),
		integer(&cfg.RateLimit.Rate, "STOREGATE_RATE_LIMIT"),
		integer(&cfg.RateLimit.Burst, "STOREGATE_RATE_LIMIT_BURST"),
	} {
		if err != nil {
			return fmt.Errorf("invalid environment: %w", err)
		}
	}
	return nil
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
