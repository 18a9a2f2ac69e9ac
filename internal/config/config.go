// Package config loads the application configuration from the environment.
//
// All tunables live in one explicitly constructed Config value that main
// passes down; nothing in the codebase reads environment variables at
// runtime. A .env file in the working directory is loaded first (if
// present), matching how deployments ship credentials.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort                = 8080
	defaultDBPath              = "data/scriptrunner.db"
	defaultScriptsDir          = "data/scripts"
	defaultOutputDir           = "data/script_outputs"
	defaultInterpreter         = "python3"
	defaultExecutionTimeout    = 30 * time.Second
	defaultAttachmentMaxBytes  = 5 * 1024 * 1024   // 5 MB per attachment
	defaultMaxFileBytes        = 100 * 1024 * 1024 // 100 MB per output file
	defaultMaxTotalOutputBytes = 500 * 1024 * 1024 // 500 MB per execution
	defaultSMTPPort            = 587
	defaultBaseURL             = "http://localhost:8080"
)

// SMTP holds the mail transport settings. Empty Username/Password means
// email is not configured; the notifier then reports a send failure instead
// of attempting a connection.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Config is the full application configuration.
type Config struct {
	Port        int
	BaseURL     string
	DBPath      string
	ScriptsDir  string
	OutputDir   string
	Interpreter string

	JWTSecret     string
	AdminPassword string

	// CleanupAfterEmail controls whether an execution's permanent files are
	// deleted once the result email is confirmed delivered. Off by default:
	// files stay available for web download.
	CleanupAfterEmail bool

	ExecutionTimeout    time.Duration
	AttachmentMaxBytes  int64
	MaxFileBytes        int64
	MaxTotalOutputBytes int64

	SMTP SMTP
}

// Load reads the configuration from a .env file (if one exists) and the
// process environment. Environment variables win over .env entries.
func Load() (Config, error) {
	// godotenv.Load does not override variables already set in the
	// environment, which gives us the precedence we want.
	_ = godotenv.Load()

	cfg := Config{
		Port:                defaultPort,
		BaseURL:             getenv("BASE_URL", defaultBaseURL),
		DBPath:              getenv("DB_PATH", defaultDBPath),
		ScriptsDir:          getenv("SCRIPTS_DIR", defaultScriptsDir),
		OutputDir:           getenv("OUTPUT_DIR", defaultOutputDir),
		Interpreter:         getenv("PYTHON_INTERPRETER", defaultInterpreter),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		AdminPassword:       os.Getenv("ADMIN_PASSWORD"),
		CleanupAfterEmail:   boolenv("CLEANUP_FILES_AFTER_EMAIL", false),
		ExecutionTimeout:    defaultExecutionTimeout,
		AttachmentMaxBytes:  defaultAttachmentMaxBytes,
		MaxFileBytes:        defaultMaxFileBytes,
		MaxTotalOutputBytes: defaultMaxTotalOutputBytes,
		SMTP: SMTP{
			Host:     getenv("SMTP_HOST", "smtp.gmail.com"),
			Port:     defaultSMTPPort,
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("FROM_EMAIL"),
			FromName: getenv("FROM_NAME", "Script Runner"),
		},
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}

	var err error
	if cfg.Port, err = intenv("PORT", defaultPort); err != nil {
		return Config{}, err
	}
	if cfg.SMTP.Port, err = intenv("SMTP_PORT", defaultSMTPPort); err != nil {
		return Config{}, err
	}

	timeoutSecs, err := intenv("EXECUTION_TIMEOUT_SECONDS", int(defaultExecutionTimeout/time.Second))
	if err != nil {
		return Config{}, err
	}
	if timeoutSecs <= 0 {
		return Config{}, fmt.Errorf("config: EXECUTION_TIMEOUT_SECONDS must be positive, got %d", timeoutSecs)
	}
	cfg.ExecutionTimeout = time.Duration(timeoutSecs) * time.Second

	if cfg.AttachmentMaxBytes, err = int64env("ATTACHMENT_MAX_BYTES", defaultAttachmentMaxBytes); err != nil {
		return Config{}, err
	}
	if cfg.MaxFileBytes, err = int64env("MAX_FILE_BYTES", defaultMaxFileBytes); err != nil {
		return Config{}, err
	}
	if cfg.MaxTotalOutputBytes, err = int64env("MAX_TOTAL_OUTPUT_BYTES", defaultMaxTotalOutputBytes); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// EmailConfigured reports whether the SMTP credentials are complete enough
// to attempt a send.
func (c Config) EmailConfigured() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolenv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch v {
	case "true", "TRUE", "True", "1", "yes", "YES":
		return true
	default:
		return false
	}
}

func intenv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q: %w", key, v, err)
	}
	return n, nil
}

func int64env(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q: %w", key, v, err)
	}
	return n, nil
}
