package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Retrieval   RetrievalConfig           `json:"retrieval" yaml:"retrieval"`
	Logging     LoggingConfig             `json:"logging" yaml:"logging"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

// BasicConfig holds server, upload and worker settings. Durations are
// expressed in seconds unless the field name says otherwise.
type BasicConfig struct {
	ServerAddress       string `json:"server_address" yaml:"server_address"`
	FileBaseDir         string `json:"file_base_dir" yaml:"file_base_dir"`
	Provider            string `json:"provider" yaml:"provider"`
	MaxUploadMB         int64  `json:"max_upload_mb" yaml:"max_upload_mb"`
	MinWorkers          int    `json:"min_workers" yaml:"min_workers"`
	MaxWorkers          int    `json:"max_workers" yaml:"max_workers"`
	QueueSize           int    `json:"queue_size" yaml:"queue_size"`
	WorkerIdleMinutes   int    `json:"worker_idle_minutes" yaml:"worker_idle_minutes"`
	ProcessingTimeout   int    `json:"processing_timeout" yaml:"processing_timeout"`
	GenerationTimeout   int    `json:"generation_timeout" yaml:"generation_timeout"`
	SweepIntervalMins   int    `json:"sweep_interval_minutes" yaml:"sweep_interval_minutes"`
	AuthTokenTTLHours   int    `json:"auth_token_ttl_hours" yaml:"auth_token_ttl_hours"`
	AIRequestsPerMinute int    `json:"ai_requests_per_minute" yaml:"ai_requests_per_minute"`
	AIBurst             int    `json:"ai_burst" yaml:"ai_burst"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"dbname" yaml:"dbname"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// RetrievalConfig tunes chunking, ranking and the character budgets used
// when building prompts.
type RetrievalConfig struct {
	ChunkWindow        int `json:"chunk_window" yaml:"chunk_window"`
	ChunkOverlap       int `json:"chunk_overlap" yaml:"chunk_overlap"`
	ChatChunkLimit     int `json:"chat_chunk_limit" yaml:"chat_chunk_limit"`
	ExplainChunkLimit  int `json:"explain_chunk_limit" yaml:"explain_chunk_limit"`
	ContextMaxChars    int `json:"context_max_chars" yaml:"context_max_chars"`
	ExplainMaxChars    int `json:"explain_max_chars" yaml:"explain_max_chars"`
	SummaryMaxChars    int `json:"summary_max_chars" yaml:"summary_max_chars"`
	GenerationMaxChars int `json:"generation_max_chars" yaml:"generation_max_chars"`
	MinSourceChars     int `json:"min_source_chars" yaml:"min_source_chars"`
	CacheSize          int `json:"cache_size" yaml:"cache_size"`
	CacheTTLMinutes    int `json:"cache_ttl_minutes" yaml:"cache_ttl_minutes"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Load reads configuration from the provided path (defaults to config.json).
// Files ending in .yaml or .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(cfg.BasicConfig.FileBaseDir) {
		cfg.BasicConfig.FileBaseDir = filepath.Join(filepath.Dir(absPath), cfg.BasicConfig.FileBaseDir)
	}
	for name, db := range cfg.Databases {
		if db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, suitable for
// tests and for running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8080"
	}
	if b.FileBaseDir == "" {
		b.FileBaseDir = "uploads"
	}
	if b.Provider == "" {
		b.Provider = "gemini"
	}
	if b.MaxUploadMB <= 0 {
		b.MaxUploadMB = 10
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 128
	}
	if b.WorkerIdleMinutes <= 0 {
		b.WorkerIdleMinutes = 10
	}
	if b.ProcessingTimeout <= 0 {
		b.ProcessingTimeout = 120
	}
	if b.GenerationTimeout <= 0 {
		b.GenerationTimeout = 60
	}
	if b.SweepIntervalMins <= 0 {
		b.SweepIntervalMins = 5
	}
	if b.AuthTokenTTLHours <= 0 {
		b.AuthTokenTTLHours = 24
	}
	if b.AIRequestsPerMinute <= 0 {
		b.AIRequestsPerMinute = 30
	}
	if b.AIBurst <= 0 {
		b.AIBurst = 5
	}

	if c.Databases == nil {
		c.Databases = map[string]DatabaseConfig{}
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = DatabaseConfig{DSN: "studyhub.db"}
	}

	r := &c.Retrieval
	if r.ChunkWindow <= 0 {
		r.ChunkWindow = 500
		if r.ChunkOverlap <= 0 {
			r.ChunkOverlap = 50
		}
	}
	if r.ChunkOverlap < 0 {
		r.ChunkOverlap = 0
	}
	if r.ChatChunkLimit <= 0 {
		r.ChatChunkLimit = 3
	}
	if r.ExplainChunkLimit <= 0 {
		r.ExplainChunkLimit = 3
	}
	if r.ContextMaxChars <= 0 {
		r.ContextMaxChars = 12000
	}
	if r.ExplainMaxChars <= 0 {
		r.ExplainMaxChars = 10000
	}
	if r.SummaryMaxChars <= 0 {
		r.SummaryMaxChars = 20000
	}
	if r.GenerationMaxChars <= 0 {
		r.GenerationMaxChars = 15000
	}
	if r.MinSourceChars <= 0 {
		r.MinSourceChars = 50
	}
	if r.CacheSize <= 0 {
		r.CacheSize = 256
	}
	if r.CacheTTLMinutes <= 0 {
		r.CacheTTLMinutes = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func (c *Config) validate() error {
	if c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkWindow {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_window (%d)", c.Retrieval.ChunkOverlap, c.Retrieval.ChunkWindow)
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be >= min_workers (%d)", c.BasicConfig.MaxWorkers, c.BasicConfig.MinWorkers)
	}
	return nil
}

// ResolveAPIKey returns the configured key for a provider, falling back to <NAME>_API_KEY.
func (p ProviderConfig) ResolveAPIKey(name string) string {
	if p.APIKey != "" {
		return p.APIKey
	}
	return os.Getenv(strings.ToUpper(name) + "_API_KEY")
}

func (b BasicConfig) ProcessingTimeoutDuration() time.Duration {
	return time.Duration(b.ProcessingTimeout) * time.Second
}

func (b BasicConfig) GenerationTimeoutDuration() time.Duration {
	return time.Duration(b.GenerationTimeout) * time.Second
}

func (b BasicConfig) WorkerIdleTimeout() time.Duration {
	return time.Duration(b.WorkerIdleMinutes) * time.Minute
}

func (b BasicConfig) SweepInterval() time.Duration {
	return time.Duration(b.SweepIntervalMins) * time.Minute
}

func (b BasicConfig) AuthTokenTTL() time.Duration {
	return time.Duration(b.AuthTokenTTLHours) * time.Hour
}

func (r RetrievalConfig) CacheTTL() time.Duration {
	return time.Duration(r.CacheTTLMinutes) * time.Minute
}

// SetupLogger builds the process logger from the logging section.
func SetupLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
