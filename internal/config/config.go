// Package config loads the service configuration from environment variables,
// applying defaults and validating every group on startup.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Upload   UploadConfig
	Archive  ArchiveConfig
	Snapshot SnapshotConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout of 0 leaves large archive downloads unbounded.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including the wait for
	// in-flight imports (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-import requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required).
	// Both DATABASE_URL and DB_URL are accepted.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// Schema is the namespace whose tables are exposed (default: public)
	Schema string `env:"DB_SCHEMA" default:"public"`

	MaxConns int `env:"DB_MAX_CONNS" default:"20"`
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// QueryTimeout bounds catalog and browse queries (default: 30s)
	QueryTimeout time.Duration `env:"DB_QUERY_TIMEOUT" default:"30s"`
}

// UploadConfig holds CSV and archive import settings.
type UploadConfig struct {
	// MaxFileSize is the largest accepted request body in bytes (default: 50MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent is the number of imports allowed to run at once (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long an import waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of one import (default: 10m)
	Timeout time.Duration `env:"UPLOAD_TIMEOUT" default:"10m"`
}

// ArchiveConfig holds all-tables archive settings.
type ArchiveConfig struct {
	// TempDir is the root for per-operation staging directories.
	// Empty means the OS temp directory.
	TempDir string `env:"ARCHIVE_TEMP_DIR"`

	// MaxFileSize caps the decompressed size of a single archive entry (default: 50MB)
	MaxFileSize int64 `env:"ARCHIVE_MAX_FILE_SIZE" default:"52428800"`
}

// Snapshot backends.
const (
	SnapshotNone  = "none"
	SnapshotLocal = "local"
	SnapshotS3    = "s3"
)

// SnapshotConfig selects where exported archives are stored.
type SnapshotConfig struct {
	// Backend is one of none, local, s3 (default: none)
	Backend string `env:"SNAPSHOT_BACKEND" default:"none"`

	LocalDir string `env:"SNAPSHOT_LOCAL_DIR" default:"./snapshots"`

	S3Bucket    string `env:"SNAPSHOT_S3_BUCKET"`
	S3Region    string `env:"SNAPSHOT_S3_REGION" default:"us-east-1"`
	S3Endpoint  string `env:"SNAPSHOT_S3_ENDPOINT"`
	S3PathStyle bool   `env:"SNAPSHOT_S3_PATH_STYLE" default:"false"`

	// Prefix is prepended to every snapshot key (default: snapshots)
	Prefix string `env:"SNAPSHOT_PREFIX" default:"snapshots"`

	// Interval runs a background snapshot this often; 0 disables it (default: 0)
	Interval time.Duration `env:"SNAPSHOT_INTERVAL" default:"0s"`

	// Retain keeps this many newest snapshots after each scheduled run;
	// 0 keeps all (default: 0)
	Retain int `env:"SNAPSHOT_RETAIN" default:"0"`
}

// Enabled reports whether a storage backend is configured.
func (c SnapshotConfig) Enabled() bool {
	return c.Backend != "" && c.Backend != SnapshotNone
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for import endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey gates /api behind the X-API-Key header
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
