package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	// Store selects the persistence backend: "sqlite" or "postgres".
	Store        string `mapstructure:"store" yaml:"store"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	PostgresDSN  string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// HistoryPageSize caps the reconciliation range fetch.
	HistoryPageSize int `mapstructure:"history_page_size" yaml:"history_page_size"`

	// WSRateLimit caps inbound websocket commands per connection per minute.
	// Zero disables the cap.
	WSRateLimit int `mapstructure:"ws_rate_limit" yaml:"ws_rate_limit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		Store:             "sqlite",
		DatabasePath:      "pulse.db",
		JWTSecret:         "dev-secret-change-me",
		JWTIssuer:         "pulse-server",
		JWTAudience:       "pulse-app",
		HistoryPageSize:   50,
		WSRateLimit:       600,
	}
}
