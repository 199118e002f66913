package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for the identity consistency
// service. It merges file defaults and environment overrides to support both
// local and deployed runs.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL string
	RedisURL    string
	MaxDBConns  int32

	KafkaBrokers []string
	KafkaTopic   string

	JWTPrivateKeyPEM  string
	JWTPublicKeyPEM   string
	JWTKeyID          string
	AllowEphemeralJWT bool

	InternalSecret string
	JobSecret      string
	CookieSecret   string
	CookieTTLDays  int

	TrialTotal             int
	TrialMaxActionsPerHour int
	TrialBlockDuration     time.Duration
	TrialResetInterval     time.Duration
	TrialStatusCacheTTL    time.Duration
	SoftKeyMaxPerHour      int

	SessionMaxAge           time.Duration
	SessionWarningThreshold time.Duration
	TokenTTL                time.Duration

	ConflictWindow         time.Duration
	SuspicionRiskThreshold int
	SyncEventTTL           time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxClaimTTL     time.Duration
	OutboxMaxRetries   int
	SweepInterval      time.Duration
}

// configFile mirrors the YAML schema used by configs/default.yaml.
// It is intentionally separate from Config so runtime-only fields stay internal.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
	} `yaml:"dependencies"`
	Trial struct {
		Total             int `yaml:"total"`
		MaxActionsPerHour int `yaml:"max_actions_per_hour"`
		BlockHours        int `yaml:"block_hours"`
		ResetDays         int `yaml:"reset_days"`
		SoftKeyMaxPerHour int `yaml:"soft_key_max_per_hour"`
	} `yaml:"trial"`
	Session struct {
		MaxAgeHours            int `yaml:"max_age_hours"`
		WarningMinutes         int `yaml:"warning_minutes"`
		TokenTTLHours          int `yaml:"token_ttl_hours"`
		ConflictWindowSeconds  int `yaml:"conflict_window_seconds"`
		SuspicionRiskThreshold int `yaml:"suspicion_risk_threshold"`
		SyncEventTTLHours      int `yaml:"sync_event_ttl_hours"`
	} `yaml:"session"`
	Secrets struct {
		Internal string `yaml:"internal"`
		Job      string `yaml:"job"`
		Cookie   string `yaml:"cookie"`
	} `yaml:"secrets"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
// This order keeps local bootstrap simple while allowing environment-specific overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:               "M09-Identity-Consistency-Service",
		HTTPPort:                8080,
		GRPCPort:                9090,
		MaxDBConns:              20,
		KafkaTopic:              "identity.events",
		JWTKeyID:                "m09-identity-key-1",
		AllowEphemeralJWT:       true,
		CookieTTLDays:           7,
		TrialTotal:              5,
		TrialMaxActionsPerHour:  10,
		TrialBlockDuration:      24 * time.Hour,
		TrialResetInterval:      7 * 24 * time.Hour,
		TrialStatusCacheTTL:     5 * time.Minute,
		SoftKeyMaxPerHour:       3,
		SessionMaxAge:           24 * time.Hour,
		SessionWarningThreshold: 5 * time.Minute,
		TokenTTL:                time.Hour,
		ConflictWindow:          30 * time.Second,
		SuspicionRiskThreshold:  60,
		SyncEventTTL:            24 * time.Hour,
		OutboxPollInterval:      2 * time.Second,
		OutboxBatchSize:         100,
		OutboxClaimTTL:          30 * time.Second,
		OutboxMaxRetries:        5,
		SweepInterval:           time.Hour,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if f.Service.ID != "" {
			cfg.ServiceID = f.Service.ID
		}
		if f.Service.HTTPPort > 0 {
			cfg.HTTPPort = f.Service.HTTPPort
		}
		if f.Service.GRPCPort > 0 {
			cfg.GRPCPort = f.Service.GRPCPort
		}
		if f.Dependencies.PostgresURL != "" {
			cfg.DatabaseURL = f.Dependencies.PostgresURL
		}
		if f.Dependencies.RedisURL != "" {
			cfg.RedisURL = f.Dependencies.RedisURL
		}
		if len(f.Dependencies.KafkaBrokers) > 0 {
			cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
		}
		if f.Dependencies.KafkaTopic != "" {
			cfg.KafkaTopic = f.Dependencies.KafkaTopic
		}
		if f.Trial.Total > 0 {
			cfg.TrialTotal = f.Trial.Total
		}
		if f.Trial.MaxActionsPerHour > 0 {
			cfg.TrialMaxActionsPerHour = f.Trial.MaxActionsPerHour
		}
		if f.Trial.BlockHours > 0 {
			cfg.TrialBlockDuration = time.Duration(f.Trial.BlockHours) * time.Hour
		}
		if f.Trial.ResetDays > 0 {
			cfg.TrialResetInterval = time.Duration(f.Trial.ResetDays) * 24 * time.Hour
		}
		if f.Trial.SoftKeyMaxPerHour > 0 {
			cfg.SoftKeyMaxPerHour = f.Trial.SoftKeyMaxPerHour
		}
		if f.Session.MaxAgeHours > 0 {
			cfg.SessionMaxAge = time.Duration(f.Session.MaxAgeHours) * time.Hour
		}
		if f.Session.WarningMinutes > 0 {
			cfg.SessionWarningThreshold = time.Duration(f.Session.WarningMinutes) * time.Minute
		}
		if f.Session.TokenTTLHours > 0 {
			cfg.TokenTTL = time.Duration(f.Session.TokenTTLHours) * time.Hour
		}
		if f.Session.ConflictWindowSeconds > 0 {
			cfg.ConflictWindow = time.Duration(f.Session.ConflictWindowSeconds) * time.Second
		}
		if f.Session.SuspicionRiskThreshold > 0 {
			cfg.SuspicionRiskThreshold = f.Session.SuspicionRiskThreshold
		}
		if f.Session.SyncEventTTLHours > 0 {
			cfg.SyncEventTTL = time.Duration(f.Session.SyncEventTTLHours) * time.Hour
		}
		if f.Secrets.Internal != "" {
			cfg.InternalSecret = f.Secrets.Internal
		}
		if f.Secrets.Job != "" {
			cfg.JobSecret = f.Secrets.Job
		}
		if f.Secrets.Cookie != "" {
			cfg.CookieSecret = f.Secrets.Cookie
		}
	}

	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.JWTPrivateKeyPEM = envOrDefault("JWT_PRIVATE_KEY_PEM", cfg.JWTPrivateKeyPEM)
	cfg.JWTPublicKeyPEM = envOrDefault("JWT_PUBLIC_KEY_PEM", cfg.JWTPublicKeyPEM)
	cfg.JWTKeyID = envOrDefault("JWT_KEY_ID", cfg.JWTKeyID)
	cfg.AllowEphemeralJWT = envBool("JWT_ALLOW_EPHEMERAL", cfg.AllowEphemeralJWT)
	cfg.InternalSecret = envOrDefault("INTERNAL_API_SECRET", cfg.InternalSecret)
	cfg.JobSecret = envOrDefault("JOB_API_SECRET", cfg.JobSecret)
	cfg.CookieSecret = envOrDefault("FINGERPRINT_COOKIE_SECRET", cfg.CookieSecret)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.CookieTTLDays = envInt("FINGERPRINT_COOKIE_TTL_DAYS", cfg.CookieTTLDays)

	cfg.TrialTotal = envInt("TRIAL_TOTAL", cfg.TrialTotal)
	cfg.TrialMaxActionsPerHour = envInt("TRIAL_MAX_ACTIONS_PER_HOUR", cfg.TrialMaxActionsPerHour)
	cfg.TrialBlockDuration = time.Duration(envInt("TRIAL_BLOCK_HOURS", int(cfg.TrialBlockDuration.Hours()))) * time.Hour
	cfg.TrialResetInterval = time.Duration(envInt("TRIAL_RESET_DAYS", int(cfg.TrialResetInterval.Hours()/24))) * 24 * time.Hour
	cfg.TrialStatusCacheTTL = time.Duration(envInt("TRIAL_STATUS_CACHE_TTL_SECONDS", int(cfg.TrialStatusCacheTTL.Seconds()))) * time.Second
	cfg.SoftKeyMaxPerHour = envInt("TRIAL_SOFT_KEY_MAX_PER_HOUR", cfg.SoftKeyMaxPerHour)

	cfg.SessionMaxAge = time.Duration(envInt("SESSION_MAX_AGE_HOURS", int(cfg.SessionMaxAge.Hours()))) * time.Hour
	cfg.SessionWarningThreshold = time.Duration(envInt("SESSION_WARNING_MINUTES", int(cfg.SessionWarningThreshold.Minutes()))) * time.Minute
	cfg.TokenTTL = time.Duration(envInt("TOKEN_TTL_HOURS", int(cfg.TokenTTL.Hours()))) * time.Hour

	cfg.ConflictWindow = time.Duration(envInt("CONFLICT_WINDOW_SECONDS", int(cfg.ConflictWindow.Seconds()))) * time.Second
	cfg.SuspicionRiskThreshold = envInt("SUSPICION_RISK_THRESHOLD", cfg.SuspicionRiskThreshold)
	cfg.SyncEventTTL = time.Duration(envInt("SYNC_EVENT_TTL_HOURS", int(cfg.SyncEventTTL.Hours()))) * time.Hour

	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)
	cfg.SweepInterval = time.Duration(envInt("SWEEP_INTERVAL_SECONDS", int(cfg.SweepInterval.Seconds()))) * time.Second

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL")
	}
	if (cfg.JWTPrivateKeyPEM == "" || cfg.JWTPublicKeyPEM == "") && !cfg.AllowEphemeralJWT {
		return Config{}, fmt.Errorf("missing JWT_PRIVATE_KEY_PEM or JWT_PUBLIC_KEY_PEM")
	}

	return cfg, nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
