package config

import (
	"fmt"
	"honeyguard/internal/types"
	"math"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultEventLogPath   = "/var/log/cowrie/cowrie.json"
	DefaultClassifierURL  = "https://api.groqcloud.com/v1/mixtral/inference"
	DefaultAPIKeyEnv      = "GROQCLOUD_API_KEY"
	DefaultTimeout        = 10 * time.Second
	DefaultMaxTokens      = 256
	DefaultThreshold      = 7.0
	DefaultIdleTimeout    = 30 * time.Second
	DefaultMaxAge         = 5 * time.Minute
	DefaultMaxEvents      = 50
	DefaultMaxSessions    = 5000
	DefaultScanInterval   = time.Second
	DefaultWorkers        = 4
	DefaultDatabasePath   = "honeyguard.db"
	DefaultExecutorSocket = "/run/honeyguard.sock"
	DefaultDashboardAddr  = ":8080"
	DefaultMetricsAddr    = ":9090"
	DefaultAuditLogPath   = "honeyguard-audit.jsonl"
)

// LoadConfig reads the configuration from the given path. A .env file in the
// working directory, if present, is loaded first so the classifier token can
// live outside the YAML file.
func LoadConfig(path string) (*types.Config, error) {
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	var cfg types.Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	cfg.Classifier.APIKey = os.Getenv(cfg.Classifier.APIKeyEnv)
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *types.Config {
	var cfg types.Config
	_ = validateConfig(&cfg)
	return &cfg
}

// validateConfig applies defaults and hard rules
func validateConfig(cfg *types.Config) error {
	if cfg.Input.EventLogPath == "" {
		cfg.Input.EventLogPath = DefaultEventLogPath
	}

	if cfg.Session.IdleTimeout <= 0 {
		cfg.Session.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Session.MaxAge <= 0 {
		cfg.Session.MaxAge = DefaultMaxAge
	}
	if cfg.Session.MaxEvents <= 0 {
		cfg.Session.MaxEvents = DefaultMaxEvents
	}
	if cfg.Session.MaxSessions <= 0 {
		cfg.Session.MaxSessions = DefaultMaxSessions
	}
	if cfg.Session.ScanInterval <= 0 {
		cfg.Session.ScanInterval = DefaultScanInterval
	}
	if cfg.Session.Workers <= 0 {
		cfg.Session.Workers = DefaultWorkers
	}

	if cfg.Classifier.URL == "" {
		cfg.Classifier.URL = DefaultClassifierURL
	}
	if cfg.Classifier.APIKeyEnv == "" {
		cfg.Classifier.APIKeyEnv = DefaultAPIKeyEnv
	}
	if cfg.Classifier.Timeout <= 0 {
		cfg.Classifier.Timeout = DefaultTimeout
	}
	if cfg.Classifier.MaxTokens <= 0 {
		cfg.Classifier.MaxTokens = DefaultMaxTokens
	}
	if cfg.Classifier.Temperature < 0 {
		return fmt.Errorf("classifier.temperature must not be negative")
	}
	if cfg.Classifier.MaxRetries < 0 {
		return fmt.Errorf("classifier.max_retries must not be negative")
	}

	// Zero threshold would block every classified address
	if cfg.Mitigation.Threshold == 0 {
		cfg.Mitigation.Threshold = DefaultThreshold
	}
	if math.IsNaN(cfg.Mitigation.Threshold) || cfg.Mitigation.Threshold < 0 {
		return fmt.Errorf("mitigation.threshold must be a positive number")
	}
	for _, ip := range cfg.Mitigation.Allowlist {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("mitigation.allowlist: invalid IP %q", ip)
		}
	}

	if cfg.Action.ExecutorSocket == "" {
		cfg.Action.ExecutorSocket = DefaultExecutorSocket
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = DefaultDatabasePath
	}
	if cfg.Dashboard.Addr == "" {
		cfg.Dashboard.Addr = DefaultDashboardAddr
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}
	if cfg.Output.AuditLogPath == "" {
		cfg.Output.AuditLogPath = DefaultAuditLogPath
	}
	if cfg.Output.LogLevel == "" {
		cfg.Output.LogLevel = "info"
	}
	if cfg.Output.LogFormat == "" {
		cfg.Output.LogFormat = "text"
	}
	return nil
}
