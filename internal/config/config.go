// Package config reads HashDrop's environment variables into a typed Config.
package config

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Blob backends.
const (
	BlobDisk   = "disk"
	BlobS3     = "s3"
	BlobMemory = "memory"
)

// settingPrefix marks variables that seed policy settings, e.g.
// HASHDROP_SETTING_MAX_FILE_SIZE=1048576 seeds max_file_size.
const settingPrefix = "HASHDROP_SETTING_"

// Config represents runtime configuration shared by the server, the worker
// and the CLI.
type Config struct {
	Address   string
	BaseURL   string
	LogLevel  string
	LogFormat string

	// DatabaseURL selects Postgres for the catalog and settings. Empty means
	// in-memory, which is only useful for development.
	DatabaseURL string

	BlobBackend string
	DataDir     string

	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string
	S3Region     string
	S3UseSSL     bool
	BlobBucket   string
	ExportBucket string

	// RedisAddr enables the asynq export queue. Empty means exports run on
	// the in-process pool.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret     []byte
	SigningSecret []byte
	SignedURLTTL  time.Duration
	ExportWorkers int

	// SettingOverrides replace built-in policy defaults for keys that have
	// no stored value.
	SettingOverrides map[string]string
}

const (
	defaultAddress      = ":8080"
	defaultDataDir      = "data"
	defaultSignedTTL    = 15 * time.Minute
	defaultWorkerCount  = 2
	defaultBlobBucket   = "hashdrop-blobs"
	defaultExportBucket = "hashdrop-exports"
	defaultRegion       = "us-east-1"
)

// Load reads configuration from environment variables falling back to
// defaults, and rejects combinations that cannot work.
func Load() (*Config, error) {
	cfg := &Config{
		Address:       readEnv("HASHDROP_ADDRESS", defaultAddress),
		BaseURL:       readEnv("HASHDROP_BASE_URL", ""),
		LogLevel:      readEnv("HASHDROP_LOG_LEVEL", "info"),
		LogFormat:     readEnv("HASHDROP_LOG_FORMAT", "text"),
		DatabaseURL:   readEnv("HASHDROP_DATABASE_URL", ""),
		BlobBackend:   strings.ToLower(readEnv("HASHDROP_BLOB_BACKEND", BlobDisk)),
		DataDir:       readEnv("HASHDROP_DATA_DIR", defaultDataDir),
		S3Endpoint:    readEnv("HASHDROP_S3_ENDPOINT", ""),
		S3AccessKey:   readEnv("HASHDROP_S3_ACCESS_KEY", ""),
		S3SecretKey:   readEnv("HASHDROP_S3_SECRET_KEY", ""),
		S3Region:      readEnv("HASHDROP_S3_REGION", defaultRegion),
		S3UseSSL:      parseBool("HASHDROP_S3_USE_SSL", false),
		BlobBucket:    readEnv("HASHDROP_S3_BLOB_BUCKET", defaultBlobBucket),
		ExportBucket:  readEnv("HASHDROP_S3_EXPORT_BUCKET", defaultExportBucket),
		RedisAddr:     readEnv("HASHDROP_REDIS_ADDR", ""),
		RedisPassword: readEnv("HASHDROP_REDIS_PASSWORD", ""),
		RedisDB:       parseInt("HASHDROP_REDIS_DB", 0),
		JWTSecret:     parseSecret("HASHDROP_JWT_SECRET"),
		SigningSecret: parseSecret("HASHDROP_SIGNING_SECRET"),
		SignedURLTTL:  parseDuration("HASHDROP_SIGNED_TTL", defaultSignedTTL),
		ExportWorkers: parseInt("HASHDROP_EXPORT_WORKERS", defaultWorkerCount),

		SettingOverrides: settingOverrides(os.Environ()),
	}
	if cfg.SigningSecret == nil {
		cfg.SigningSecret = randomSecret()
	}
	if cfg.ExportWorkers <= 0 {
		cfg.ExportWorkers = defaultWorkerCount
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedTTL
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.BlobBackend {
	case BlobDisk, BlobMemory:
	case BlobS3:
		if c.S3Endpoint == "" {
			return fmt.Errorf("HASHDROP_S3_ENDPOINT is required for the s3 blob backend")
		}
	default:
		return fmt.Errorf("unknown blob backend %q (want disk, s3 or memory)", c.BlobBackend)
	}
	if len(c.JWTSecret) == 0 {
		return fmt.Errorf("HASHDROP_JWT_SECRET is required")
	}
	return nil
}

// BlobDir is where the disk backend keeps blobs.
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, "blobs")
}

// ExportDir is where the local export sink keeps archives.
func (c *Config) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// SetupLogger builds the process logger from LogLevel and LogFormat
// ("json" or "text") and installs it as the slog default.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func settingOverrides(environ []string) map[string]string {
	out := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, settingPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, settingPrefix))
		if name != "" {
			out[name] = value
		}
	}
	return out
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

// randomSecret backs signed URLs when no secret is configured. URLs then
// stop validating after a restart.
func randomSecret() []byte {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return buf
}
