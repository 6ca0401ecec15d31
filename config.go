package fynq

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Cache drivers accepted by CacheConfig.Driver.
const (
	CacheDriverPebble = "pebble"
	CacheDriverRedis  = "redis"
	CacheDriverMemory = "memory"
)

// Tutor providers accepted by TutorConfig.Provider.
const (
	TutorGemini = "gemini"
	TutorOpenAI = "openai"
)

type DatabaseConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL"`
	// SchemaVersion declares which optional columns exist. Zero means
	// "derive from applied migrations".
	SchemaVersion int `yaml:"schema_version" env:"FYNQ_SCHEMA_VERSION"`
}

type CacheConfig struct {
	Driver    string `yaml:"driver" env:"FYNQ_CACHE_DRIVER" env-default:"pebble"`
	Path      string `yaml:"path" env:"FYNQ_CACHE_PATH" env-default:".fynq/cache"`
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisDB   int    `yaml:"redis_db" env:"REDIS_DB"`
}

type TutorConfig struct {
	Provider      string `yaml:"provider" env:"FYNQ_TUTOR" env-default:"gemini"`
	GeminiAPIKey  string `yaml:"-" env:"GEMINI_API_KEY"`
	ModelID       string `yaml:"model_id" env:"MODEL_ID" env-default:"gemini-1.5-flash"`
	OpenAIAPIKey  string `yaml:"-" env:"OPENAI_API_KEY"`
	OpenAIModel   string `yaml:"openai_model" env:"OPENAI_MODEL" env-default:"gpt-4o-mini"`
	OpenAIBaseURL string `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
	MaxTokens     int    `yaml:"max_tokens" env:"MAX_TOKENS" env-default:"16384"`
	HistoryTokens int    `yaml:"history_tokens" env:"FYNQ_HISTORY_TOKENS" env-default:"3500"`
	SystemPrompt  string `yaml:"system_prompt" env:"FYNQ_SYSTEM_PROMPT"`
}

type SyncConfig struct {
	OwnerID           string        `yaml:"owner_id" env:"FYNQ_OWNER_ID"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"FYNQ_RECONCILE_INTERVAL" env-default:"1m"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"FYNQ_LOG_LEVEL" env-default:"info"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" env:"FYNQ_METRICS_ADDR"`
}

// Config holds everything the CLI needs to wire the library.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Tutor    TutorConfig    `yaml:"tutor"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LoadConfig loads an optional .env file, then the YAML file at path (when it
// exists), then the environment, which takes precedence.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("fynq: load .env: %w", err)
	}

	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("fynq: read config %s: %w", path, err)
			}
			return &cfg, cfg.Validate()
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("fynq: read env: %w", err)
	}
	return &cfg, cfg.Validate()
}

// Validate rejects unknown drivers and nonsensical values.
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case CacheDriverPebble, CacheDriverRedis, CacheDriverMemory:
	default:
		return fmt.Errorf("fynq: unknown cache driver %q", c.Cache.Driver)
	}
	switch c.Tutor.Provider {
	case TutorGemini, TutorOpenAI:
	default:
		return fmt.Errorf("fynq: unknown tutor provider %q", c.Tutor.Provider)
	}
	if c.Database.SchemaVersion < 0 {
		return fmt.Errorf("fynq: schema version must not be negative")
	}
	if c.Sync.ReconcileInterval < 0 {
		return fmt.Errorf("fynq: reconcile interval must not be negative")
	}
	return nil
}
