package types

import "time"

// Unknown is substituted for identifying fields missing from a raw event
const Unknown = "unknown"

// RawEvent is a command event as emitted by the honeypot
type RawEvent struct {
	Timestamp string `json:"timestamp"`
	Session   string `json:"session"`
	SrcIP     string `json:"src_ip"`
	Command   string `json:"command"`
}

// NormalizedEvent is a validated command event. OccurredAt is always a valid instant.
type NormalizedEvent struct {
	SessionID  string    `json:"session_id"`
	SourceIP   string    `json:"source_ip"`
	OccurredAt time.Time `json:"occurred_at"`
	Command    string    `json:"command"`
}

// BlockRecord is the durable record of an enforced block
type BlockRecord struct {
	SourceIP  string    `json:"source_ip"`
	BlockedAt time.Time `json:"blocked_at"`
	RiskScore float64   `json:"risk_score"`
	Threat    string    `json:"threat"`
	Rationale string    `json:"rationale"`
}

// DecisionRecord is the outcome of one classification attempt for a session,
// as persisted, audited and published. RiskScore is nil when classification
// failed.
type DecisionRecord struct {
	DecidedAt time.Time `json:"decided_at"`
	SessionID string    `json:"session_id"`
	SourceIP  string    `json:"source_ip"`
	Outcome   string    `json:"outcome"`
	RiskScore *float64  `json:"risk_score,omitempty"`
	Threshold float64   `json:"threshold"`
	Threat    string    `json:"threat,omitempty"`
	Action    string    `json:"action,omitempty"`
	Rationale string    `json:"rationale,omitempty"`
	Commands  int       `json:"commands"`
	Error     string    `json:"error,omitempty"`
}

// Config represents the application configuration
type Config struct {
	Input struct {
		EventLogPath string `yaml:"event_log_path"` // honeypot JSON log (Cowrie or canonical)
		Poll         bool   `yaml:"poll"`
	} `yaml:"input"`

	Session struct {
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
		MaxAge       time.Duration `yaml:"max_age"`
		MaxEvents    int           `yaml:"max_events"`
		MaxSessions  int           `yaml:"max_sessions"`
		ScanInterval time.Duration `yaml:"scan_interval"`
		Workers      int           `yaml:"workers"`
	} `yaml:"session"`

	Classifier struct {
		URL         string        `yaml:"url"`
		APIKeyEnv   string        `yaml:"api_key_env"`
		APIKey      string        `yaml:"-"`
		Timeout     time.Duration `yaml:"timeout"`
		MaxTokens   int           `yaml:"max_tokens"`
		Temperature float64       `yaml:"temperature"`
		MaxRetries  int           `yaml:"max_retries"`
	} `yaml:"classifier"`

	Mitigation struct {
		Threshold     float64  `yaml:"threshold"`
		ActiveDefense bool     `yaml:"active_defense"` // DANGEROUS: sends bans to the executor
		Allowlist     []string `yaml:"allowlist"`
	} `yaml:"mitigation"`

	Action struct {
		ExecutorSocket string `yaml:"executor_socket"`
	} `yaml:"action"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
	} `yaml:"storage"`

	Notification struct {
		DiscordWebhook string `yaml:"discord_webhook"`
		RedisAddr      string `yaml:"redis_addr"`
	} `yaml:"notification"`

	Dashboard struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"dashboard"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Output struct {
		AuditLogPath string `yaml:"audit_log_path"`
		LogLevel     string `yaml:"log_level"`
		LogFormat    string `yaml:"log_format"` // json, text
	} `yaml:"output"`
}
