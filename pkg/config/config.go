// Package config handles SoleMate configuration loading: an optional YAML
// file, an optional dotenv file and environment overrides, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Model providers.
const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Retrieval modes.
const (
	RetrievalLocal  = "local"
	RetrievalRemote = "remote"
)

// DefaultSearchPaths returns the config file search order:
// ./solemate.yaml, ~/.config/solemate/config.yaml, /etc/solemate/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"solemate.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "solemate", "config.yaml"))
	}

	paths = append(paths, "/etc/solemate/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned, or
// "" if there is none.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// LoadDotEnv loads the given dotenv files if they exist. Variables already
// set in the environment win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Config holds all SoleMate configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Database  DatabaseConfig  `yaml:"database"`
	Model     ModelConfig     `yaml:"model"`
	Agent     AgentConfig     `yaml:"agent"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	LogLevel  string          `yaml:"log_level" env:"SOLEMATE_LOG_LEVEL"`
}

type ListenConfig struct {
	Address string `yaml:"address" env:"SOLEMATE_LISTEN"`
}

type DatabaseConfig struct {
	// Path of the SQLite file holding threads, orders and policies.
	Path string `yaml:"path" env:"SOLEMATE_DB_PATH"`
}

// ModelConfig selects the reasoning model.
type ModelConfig struct {
	Provider    string  `yaml:"provider" env:"SOLEMATE_MODEL_PROVIDER"`
	Name        string  `yaml:"name" env:"SOLEMATE_MODEL"`
	BaseURL     string  `yaml:"base_url" env:"SOLEMATE_MODEL_BASE_URL"`
	APIKey      string  `yaml:"api_key" env:"SOLEMATE_MODEL_API_KEY"`
	Temperature float64 `yaml:"temperature" env:"SOLEMATE_MODEL_TEMPERATURE"`
	MaxTokens   int     `yaml:"max_tokens" env:"SOLEMATE_MODEL_MAX_TOKENS"`
}

type AgentConfig struct {
	MaxEmptyRetries int `yaml:"max_empty_retries" env:"SOLEMATE_MAX_EMPTY_RETRIES"`
	MaxSteps        int `yaml:"max_steps" env:"SOLEMATE_MAX_STEPS"`

	// Instructions replaces the built-in system prompt when set.
	Instructions string        `yaml:"instructions"`
	TurnTimeout  time.Duration `yaml:"turn_timeout" env:"SOLEMATE_TURN_TIMEOUT"`
}

// RetrievalConfig configures policy search.
type RetrievalConfig struct {
	Mode           string  `yaml:"mode" env:"SOLEMATE_RETRIEVAL_MODE"`
	RemoteURL      string  `yaml:"remote_url" env:"SOLEMATE_RETRIEVAL_URL"`
	TopK           int     `yaml:"top_k" env:"SOLEMATE_RETRIEVAL_TOP_K"`
	RerankTopN     int     `yaml:"rerank_top_n" env:"SOLEMATE_RETRIEVAL_RERANK_TOP_N"`
	ScoreThreshold float64 `yaml:"score_threshold" env:"SOLEMATE_RETRIEVAL_SCORE_THRESHOLD"`
	CacheSize      int     `yaml:"cache_size" env:"SOLEMATE_RETRIEVAL_CACHE_SIZE"`
}

type TelemetryConfig struct {
	// OTLPEndpoint enables trace export when set.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Address: ":8080"},
		Database: DatabaseConfig{Path: "solemate.db"},
		Model: ModelConfig{
			Provider:    ProviderGroq,
			Name:        "llama3-70b-8192",
			Temperature: 0.3,
			MaxTokens:   256,
		},
		Agent: AgentConfig{
			MaxEmptyRetries: 3,
			MaxSteps:        10,
			TurnTimeout:     2 * time.Minute,
		},
		Retrieval: RetrievalConfig{
			Mode:       RetrievalLocal,
			TopK:       50,
			RerankTopN: 5,
			CacheSize:  256,
		},
		Telemetry: TelemetryConfig{ServiceName: "solemate"},
		LogLevel:  "info",
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment. ${VAR} references in the file are
// expanded.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	cfg.applyAPIKeyFallback()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyAPIKeyFallback reads the provider's conventional key variable when no
// key was configured.
func (c *Config) applyAPIKeyFallback() {
	if strings.TrimSpace(c.Model.APIKey) != "" {
		return
	}
	var vars []string
	switch c.Model.Provider {
	case ProviderGroq:
		vars = []string{"GROQ_API_KEY"}
	case ProviderOpenAI:
		vars = []string{"OPENAI_API_KEY"}
	case ProviderGemini:
		vars = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	}
	for _, v := range vars {
		if key := os.Getenv(v); key != "" {
			c.Model.APIKey = key
			return
		}
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Model.Provider {
	case ProviderGroq, ProviderOpenAI, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("model.provider: unknown provider %q (valid: groq, openai, gemini)", c.Model.Provider))
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("model.temperature must be within [0, 2], got %v", c.Model.Temperature))
	}
	if c.Model.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("model.max_tokens must be positive, got %d", c.Model.MaxTokens))
	}
	if c.Agent.MaxEmptyRetries < 0 {
		errs = append(errs, fmt.Errorf("agent.max_empty_retries must not be negative, got %d", c.Agent.MaxEmptyRetries))
	}
	if c.Agent.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_steps must be positive, got %d", c.Agent.MaxSteps))
	}
	switch c.Retrieval.Mode {
	case RetrievalLocal:
	case RetrievalRemote:
		if strings.TrimSpace(c.Retrieval.RemoteURL) == "" {
			errs = append(errs, errors.New("retrieval.remote_url is required in remote mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("retrieval.mode: unknown mode %q (valid: local, remote)", c.Retrieval.Mode))
	}
	if c.Retrieval.TopK <= 0 || c.Retrieval.RerankTopN <= 0 {
		errs = append(errs, errors.New("retrieval.top_k and retrieval.rerank_top_n must be positive"))
	} else if c.Retrieval.RerankTopN > c.Retrieval.TopK {
		errs = append(errs, fmt.Errorf("retrieval.rerank_top_n (%d) exceeds top_k (%d)", c.Retrieval.RerankTopN, c.Retrieval.TopK))
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("retrieval.score_threshold must be within [0, 1], got %v", c.Retrieval.ScoreThreshold))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
