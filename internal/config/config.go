package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Version is set at build time via -ldflags
// Default "dev" is used for development builds
var Version = "dev"

// Config holds all application configuration loaded from environment variables.
// All fields have sensible defaults if environment variables are not set.
type Config struct {
	// Port is the HTTP server listen port (default: 4820)
	Port string

	// LogLevel controls logging verbosity: "debug", "info", "warn", "error" (default: "info")
	LogLevel string

	// DataDir is the directory for persistent data (database, logs, uploads)
	// Default: /config in Docker, ./config locally
	DataDir string

	// DatabasePath is the SQLite database file path (default: <DataDir>/examscan.db)
	DatabasePath string

	// LogDir is the directory for log files (default: <DataDir>/logs)
	LogDir string

	// UploadDir is the directory where uploaded sheet images are stored
	// (default: <DataDir>/uploads)
	UploadDir string

	// ScanTimeout bounds how long a scan job may stay in flight before it is
	// force-completed with a timeout error (default: 10m)
	ScanTimeout time.Duration

	// SessionTTL is the lifetime of a login session (default: 1440h = 60 days)
	SessionTTL time.Duration

	// SignupTTL is the lifetime of a signup session (default: 30m)
	SignupTTL time.Duration

	// SnapshotLimit is the maximum number of prior scanned answers sent to a
	// client on connect (default: 128)
	SnapshotLimit int

	// RetentionDays is the number of days to keep old bus events (default: 90)
	// Set to 0 to disable automatic pruning
	RetentionDays int

	// GeminiAPIKey authenticates calls to the generative analysis endpoint.
	// Empty disables the production analyzer (server refuses scan submissions).
	GeminiAPIKey string

	// GeminiModel is the generative model used for sheet analysis
	// (default: gemini-2.0-flash-lite)
	GeminiModel string

	// GeminiEndpoint is the base URL of the generative API
	// (default: https://generativelanguage.googleapis.com)
	GeminiEndpoint string

	// AlertURLs are shoutrrr notification URLs for operator alerts on
	// repeated analysis failures (comma-separated in the environment)
	AlertURLs []string
}

// Global singleton
var cfg *Config

// Load reads configuration from environment variables with sensible defaults.
// Should be called once at application startup.
func Load() *Config {
	// Determine DataDir - this is where all persistent data lives
	dataDir := getEnvOrDefault("EXAMSCAN_DATA_DIR", "")
	if dataDir == "" {
		// Check if we're in Docker (has /config directory)
		if info, err := os.Stat("/config"); err == nil && info.IsDir() {
			dataDir = "/config"
		} else if execPath, err := os.Executable(); err == nil {
			dataDir = filepath.Join(filepath.Dir(execPath), "config")
		} else if cwd, err := os.Getwd(); err == nil {
			dataDir = filepath.Join(cwd, "config")
		} else {
			dataDir = "./config"
		}
	}

	if absDataDir, err := filepath.Abs(dataDir); err == nil {
		dataDir = absDataDir
	}
	os.MkdirAll(dataDir, 0755)

	dbPath := getEnvOrDefault("EXAMSCAN_DATABASE_PATH", "")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "examscan.db")
	}

	logDir := filepath.Join(dataDir, "logs")
	os.MkdirAll(logDir, 0755)

	uploadDir := getEnvOrDefault("EXAMSCAN_UPLOAD_DIR", "")
	if uploadDir == "" {
		uploadDir = filepath.Join(dataDir, "uploads")
	}
	os.MkdirAll(uploadDir, 0700)

	var alertURLs []string
	if raw := os.Getenv("EXAMSCAN_ALERT_URLS"); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				alertURLs = append(alertURLs, u)
			}
		}
	}

	cfg = &Config{
		Port:           getEnvOrDefault("EXAMSCAN_PORT", "4820"),
		LogLevel:       strings.ToLower(getEnvOrDefault("EXAMSCAN_LOG_LEVEL", "info")),
		DataDir:        dataDir,
		DatabasePath:   dbPath,
		LogDir:         logDir,
		UploadDir:      uploadDir,
		ScanTimeout:    getEnvDurationOrDefault("EXAMSCAN_SCAN_TIMEOUT", 10*time.Minute),
		SessionTTL:     getEnvDurationOrDefault("EXAMSCAN_SESSION_TTL", 60*24*time.Hour),
		SignupTTL:      getEnvDurationOrDefault("EXAMSCAN_SIGNUP_TTL", 30*time.Minute),
		SnapshotLimit:  getEnvIntOrDefault("EXAMSCAN_SNAPSHOT_LIMIT", 128),
		RetentionDays:  getEnvIntOrDefault("EXAMSCAN_RETENTION_DAYS", 90),
		GeminiAPIKey:   os.Getenv("EXAMSCAN_GEMINI_API_KEY"),
		GeminiModel:    getEnvOrDefault("EXAMSCAN_GEMINI_MODEL", "gemini-2.0-flash-lite"),
		GeminiEndpoint: getEnvOrDefault("EXAMSCAN_GEMINI_ENDPOINT", "https://generativelanguage.googleapis.com"),
		AlertURLs:      alertURLs,
	}

	// Validate log level
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		cfg.LogLevel = "info"
	}

	return cfg
}

// Get returns the current configuration. Panics if Load() hasn't been called.
func Get() *Config {
	if cfg == nil {
		panic("config.Load() must be called before config.Get()")
	}
	return cfg
}

// SetForTesting allows tests to set the global config without calling Load().
// This should ONLY be used in test code.
func SetForTesting(c *Config) {
	cfg = c
}

// NewTestConfig returns a minimal Config suitable for unit tests.
func NewTestConfig() *Config {
	return &Config{
		Port:           "8080",
		LogLevel:       "debug",
		DataDir:        "/tmp/examscan-test",
		DatabasePath:   "/tmp/examscan-test/examscan.db",
		LogDir:         "/tmp/examscan-test/logs",
		UploadDir:      "/tmp/examscan-test/uploads",
		ScanTimeout:    10 * time.Minute,
		SessionTTL:     60 * 24 * time.Hour,
		SignupTTL:      30 * time.Minute,
		SnapshotLimit:  128,
		RetentionDays:  90,
		GeminiModel:    "gemini-2.0-flash-lite",
		GeminiEndpoint: "https://generativelanguage.googleapis.com",
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable as an int or the default if not set/invalid.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault returns the environment variable as a duration or the default if not set/invalid.
// Accepts Go duration strings like "30s", "5m", "72h".
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FlagOverrides holds command-line flag values that can override environment variables
type FlagOverrides struct {
	Port          *string
	LogLevel      *string
	DataDir       *string
	DatabasePath  *string
	ScanTimeout   *time.Duration
	RetentionDays *int
}

// ApplyFlags applies command-line flag overrides to the configuration.
// Should be called after Load() and after flag parsing.
func ApplyFlags(flags FlagOverrides) {
	if cfg == nil {
		return
	}

	if flags.Port != nil && *flags.Port != "" {
		cfg.Port = *flags.Port
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(*flags.LogLevel)
	}
	if flags.DataDir != nil && *flags.DataDir != "" {
		cfg.DataDir = *flags.DataDir
	}
	if flags.DatabasePath != nil && *flags.DatabasePath != "" {
		cfg.DatabasePath = *flags.DatabasePath
	}
	if flags.ScanTimeout != nil && *flags.ScanTimeout != 0 {
		cfg.ScanTimeout = *flags.ScanTimeout
	}
	if flags.RetentionDays != nil {
		cfg.RetentionDays = *flags.RetentionDays
	}
}
