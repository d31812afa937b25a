// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Cost     CostConfig     `mapstructure:"cost"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Personas PersonasConfig `mapstructure:"personas"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs frontier and crawl pipeline behavior.
type CrawlerConfig struct {
	Concurrency     int    `mapstructure:"concurrency"`
	BatchSize       int    `mapstructure:"batch_size"`
	UserAgent       string `mapstructure:"user_agent"`
	DelayMs         int    `mapstructure:"delay_ms"`
	RespectRobots   bool   `mapstructure:"respect_robots"`
	MaxPagesDefault int    `mapstructure:"max_pages_default"`
	QueueDepth      int    `mapstructure:"queue_depth"`
	Runners         int    `mapstructure:"runners"`
}

// HTTPConfig configures fetch timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// AnalysisConfig selects and tunes the persona matcher strategies.
type AnalysisConfig struct {
	Mode                string  `mapstructure:"mode"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	KeywordWeight       float64 `mapstructure:"keyword_weight"`
	SemanticWeight      float64 `mapstructure:"semantic_weight"`
	ContentMinLength    int     `mapstructure:"content_min_length"`
	ContentMaxLength    int     `mapstructure:"content_max_length"`
	ChunkSize           int     `mapstructure:"chunk_size"`
	LLMBaseURL          string  `mapstructure:"llm_base_url"`
	LLMModel            string  `mapstructure:"llm_model"`
	LLMAPIKey           string  `mapstructure:"llm_api_key"`
	EmbeddingModel      string  `mapstructure:"embedding_model"`
}

// CostConfig sets spend ceilings for paid analysis calls.
type CostConfig struct {
	DailyLimit     float64 `mapstructure:"daily_limit"`
	MonthlyLimit   float64 `mapstructure:"monthly_limit"`
	CostPer1KToken float64 `mapstructure:"cost_per_1k_tokens"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// StorageConfig selects the raw document archive backend.
type StorageConfig struct {
	// Backend is "none", "memory" or "local".
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
}

// PersonasConfig points at the persona catalog seed used by the in-memory
// deployment. With a database DSN set the catalog lives in the personas
// table instead.
type PersonasConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PERSONAMAPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.batch_size", 10)
	v.SetDefault("crawler.user_agent", "personamapper-bot/1.0")
	v.SetDefault("crawler.delay_ms", 1000)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.max_pages_default", 100)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.runners", 2)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("analysis.mode", "keyword")
	v.SetDefault("analysis.confidence_threshold", 0.1)
	v.SetDefault("analysis.similarity_threshold", 0.5)
	v.SetDefault("analysis.keyword_weight", 0.4)
	v.SetDefault("analysis.semantic_weight", 0.6)
	v.SetDefault("analysis.content_min_length", 50)
	v.SetDefault("analysis.content_max_length", 20000)
	v.SetDefault("analysis.chunk_size", 2000)
	v.SetDefault("analysis.llm_model", "gpt-4o-mini")
	v.SetDefault("analysis.embedding_model", "text-embedding-3-small")
	v.SetDefault("cost.daily_limit", 10.0)
	v.SetDefault("cost.monthly_limit", 100.0)
	v.SetDefault("cost.cost_per_1k_tokens", 0.002)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Analysis.Mode {
	case "keyword", "local", "llm", "hybrid", "validation":
	default:
		return fmt.Errorf("analysis.mode %q is not one of keyword|local|llm|hybrid|validation", c.Analysis.Mode)
	}
	if c.Analysis.ConfidenceThreshold < 0 || c.Analysis.ConfidenceThreshold > 1 {
		return fmt.Errorf("analysis.confidence_threshold must be in [0,1]")
	}
	if c.Cost.DailyLimit < 0 || c.Cost.MonthlyLimit < 0 {
		return fmt.Errorf("cost limits must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "", "none", "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of none|memory|local", c.Storage.Backend)
	}
	return nil
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// PerHostDelay converts the politeness delay config into a duration.
func (c Config) PerHostDelay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}
