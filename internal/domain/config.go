package domain

import (
	"time"
)

// Config holds the complete Shrike configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure defaults
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Screening heuristics
	Screening ScreeningConfig `json:"screening"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ScreeningConfig holds the injectable heuristic lists and thresholds used
// by the event builder and risk scorer. Kept out of the code so they can be
// varied per environment and in tests.
type ScreeningConfig struct {
	// TempEmailDomains is the deny-list of disposable email domains,
	// matched case-insensitively against the email domain.
	TempEmailDomains []string `json:"tempEmailDomains"`

	// HighRiskCountries is the ISO country list that contributes the
	// high-risk-country signal.
	HighRiskCountries []string `json:"highRiskCountries"`

	// FailedTxThreshold is the failed-transaction count at which the
	// recent-failures signal starts firing.
	FailedTxThreshold int `json:"failedTxThreshold"`

	// FailedTxWindow is the trailing window for the recent-failures signal.
	FailedTxWindow time.Duration `json:"failedTxWindow"`

	// RuleCacheTTL bounds how stale the cached enabled rule set may be.
	RuleCacheTTL time.Duration `json:"ruleCacheTTL"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./shrike.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Screening: DefaultScreeningConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "shrike",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "shrike",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// DefaultScreeningConfig returns the stock heuristic lists.
func DefaultScreeningConfig() ScreeningConfig {
	return ScreeningConfig{
		TempEmailDomains: []string{
			"mailinator.com",
			"guerrillamail.com",
			"10minutemail.com",
			"tempmail.com",
			"trashmail.com",
			"yopmail.com",
			"getnada.com",
			"sharklasers.com",
		},
		HighRiskCountries: []string{
			"AF", "IR", "KP", "MM", "SS", "SY", "YE",
		},
		FailedTxThreshold: 3,
		FailedTxWindow:    7 * 24 * time.Hour,
		RuleCacheTTL:      30 * time.Second,
	}
}
