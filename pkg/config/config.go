package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/agorai/agorai/pkg/models"
	"gopkg.in/yaml.v3"
)

// Provider kinds understood by the provider registry.
const (
	KindOpenAI      = "openai"
	KindGemini      = "gemini"
	KindUnavailable = "unavailable"
)

// Config holds all gateway configuration.
type Config struct {
	Listen            string             `yaml:"listen"`
	LogLevel          string             `yaml:"log_level"`
	LogFormat         string             `yaml:"log_format"`
	TrustForwardedFor bool               `yaml:"trust_forwarded_for"`
	CORSOrigins       []string           `yaml:"cors_origins"`
	Quota             QuotaConfig        `yaml:"quota"`
	Cache             CacheConfig        `yaml:"cache"`
	Providers         []ProviderConfig   `yaml:"providers"`
	Audit             models.AuditConfig `yaml:"audit"`
}

// QuotaConfig controls the per-identity daily quota.
// DSN is a SQLite path, "sqlite://path" or a "postgres://" URL.
type QuotaConfig struct {
	DSN       string `yaml:"dsn"`
	MaxPerDay int    `yaml:"max_per_day"`
}

// CacheConfig controls the response cache.
// URL selects the backend: redis://, sqlite://<path> or memory://.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	TTL     time.Duration `yaml:"ttl"`
}

// ProviderConfig defines an upstream answer provider.
// Kind is "openai" (default), "gemini" or "unavailable".
type ProviderConfig struct {
	Name          string        `yaml:"name"`
	Kind          string        `yaml:"kind"`
	URL           string        `yaml:"url"`
	APIKey        string        `yaml:"api_key"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Message       string        `yaml:"message"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:      ":8000",
		LogLevel:    "info",
		LogFormat:   "text",
		CORSOrigins: []string{"*"},
		Quota: QuotaConfig{
			DSN:       "agorai.db",
			MaxPerDay: 10,
		},
		Cache: CacheConfig{
			Enabled: true,
			URL:     "redis://localhost:6379/0",
			TTL:     time.Hour,
		},
		Providers: []ProviderConfig{
			{Name: "chatgpt", Kind: KindOpenAI, URL: "https://api.openai.com", APIKeyEnv: "OPENAI_API_KEY", Model: "gpt-3.5-turbo"},
			{Name: "grok", Kind: KindOpenAI, URL: "https://api.x.ai", APIKeyEnv: "GROK_API_KEY", Model: "grok-beta"},
			{Name: "gemini", Kind: KindGemini, URL: "https://generativelanguage.googleapis.com", APIKeyEnv: "GEMINI_API_KEY", Model: "gemini-pro"},
			{Name: "deepseek", Kind: KindOpenAI, URL: "https://api.deepseek.com", APIKeyEnv: "DEEPSEEK_API_KEY", Model: "deepseek-chat"},
		},
		Audit: models.AuditConfig{
			Enabled:       false,
			DBPath:        "agorai_audit.db",
			RetentionDays: 30,
			Include:       []string{"queries"},
			MaxBodySize:   8192,
		},
	}
}

// Load reads a YAML config file, expands environment variables and applies
// environment overrides. An empty path yields defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the deployment environment variables on top of cfg.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Quota.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Cache.URL = v
	}
	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CACHE_TTL_SECONDS %q: %w", v, err)
		}
		c.Cache.TTL = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("MAX_QUERIES_PER_DAY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_QUERIES_PER_DAY %q: %w", v, err)
		}
		c.Quota.MaxPerDay = n
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKey == "" && p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
	}
	return nil
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Quota.MaxPerDay <= 0 {
		return errors.New("quota.max_per_day must be positive")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive when the cache is enabled")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return errors.New("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true

		switch p.Kind {
		case "", KindOpenAI, KindGemini, KindUnavailable:
		default:
			return fmt.Errorf("provider %q: unknown kind %q", p.Name, p.Kind)
		}
	}
	return nil
}
