package config

import "time"

const (
	// DefaultConfigFile is read when no path is given and the file exists.
	DefaultConfigFile = "storegate.yaml"

	// DefaultAddress matches the port of the original app template.
	DefaultAddress = ":8081"
)

// Default returns the configuration used before the file and environment
// are applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:           DefaultAddress,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
			SQLite: SQLiteConfig{Path: "storegate.db"},
			Valkey: ValkeyConfig{Address: "localhost:6379"},
		},
		Security: SecurityConfig{
			AuditLogging: true,
		},
		RateLimit: RateLimitConfig{
			Rate:  10,
			Burst: 20,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			MetricsExporter: "prometheus",
			TracesExporter:  "none",
		},
	}
}
