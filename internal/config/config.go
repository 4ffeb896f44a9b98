package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel               = "llama3.1"
	DefaultMaxTokens           = 512
	DefaultTimeoutMs           = 30000
	DefaultLightweightModel    = "qwen2.5:1.5b"
	DefaultLightweightTokens   = 128
	DefaultHost                = "0.0.0.0"
	DefaultPort                = 18890
	DefaultStoreType           = "sqlite"
	DefaultMaxContextTokens    = 10000
	DefaultKeepRecentTurns     = 5
	DefaultMaxContextTurnPairs = 3
	DefaultSimilarityWindow    = 10
	DefaultSimilarityThreshold = 0.75
	DefaultEscalationTarget    = 0.30
	DefaultMaxResponseTokens   = 500
	DefaultResponseTemperature = 0.5
	DefaultSummaryRetries      = 2
	DefaultEmbeddingDimension  = 384
	DefaultRetentionSweepExpr  = "0 0 4 * * *"
	DefaultMaxIdleDays         = 30
)

type Config struct {
	Provider    ProviderConfig  `json:"provider"`
	Fallback    *ProviderConfig `json:"fallback,omitempty"`
	Lightweight *ProviderConfig `json:"lightweight,omitempty"`
	Embedding   EmbeddingConfig `json:"embedding"`
	Pipeline    PipelineConfig  `json:"pipeline"`
	Store       StoreConfig     `json:"store"`
	Gateway     GatewayConfig   `json:"gateway"`
	Retention   RetentionConfig `json:"retention"`
}

type ProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseUrl"`
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

type EmbeddingConfig struct {
	Enabled   bool   `json:"enabled"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

type PipelineConfig struct {
	QueryUnderstanding  bool    `json:"queryUnderstanding"`
	MaxContextTokens    int     `json:"maxContextTokens,omitempty"`
	KeepRecentTurns     int     `json:"keepRecentTurns,omitempty"`
	MaxContextTurnPairs int     `json:"maxContextTurnPairs,omitempty"`
	SimilarityWindow    int     `json:"similarityWindow,omitempty"`
	SimilarityThreshold float64 `json:"similarityThreshold,omitempty"`
	EscalationTarget    float64 `json:"escalationTarget,omitempty"`
	MaxResponseTokens   int     `json:"maxResponseTokens,omitempty"`
	ResponseTemperature float64 `json:"responseTemperature,omitempty"`
	SummaryRetries      int     `json:"summaryRetries,omitempty"`
}

type StoreConfig struct {
	Type     string `json:"type"` // "sqlite" (default) or "redis"
	DBPath   string `json:"dbPath,omitempty"`
	RedisURL string `json:"redisUrl,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type RetentionConfig struct {
	SweepExpr   string `json:"sweepExpr,omitempty"`
	MaxIdleDays int    `json:"maxIdleDays,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:   "http://127.0.0.1:11434/v1",
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
			TimeoutMs: DefaultTimeoutMs,
		},
		Embedding: EmbeddingConfig{
			Dimension: DefaultEmbeddingDimension,
		},
		Pipeline: PipelineConfig{
			QueryUnderstanding:  true,
			MaxContextTokens:    DefaultMaxContextTokens,
			KeepRecentTurns:     DefaultKeepRecentTurns,
			MaxContextTurnPairs: DefaultMaxContextTurnPairs,
			SimilarityWindow:    DefaultSimilarityWindow,
			SimilarityThreshold: DefaultSimilarityThreshold,
			EscalationTarget:    DefaultEscalationTarget,
			MaxResponseTokens:   DefaultMaxResponseTokens,
			ResponseTemperature: DefaultResponseTemperature,
			SummaryRetries:      DefaultSummaryRetries,
		},
		Store: StoreConfig{
			Type: DefaultStoreType,
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Retention: RetentionConfig{
			SweepExpr:   DefaultRetentionSweepExpr,
			MaxIdleDays: DefaultMaxIdleDays,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".querypilot")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("QUERYPILOT_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("QUERYPILOT_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("QUERYPILOT_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if key := os.Getenv("QUERYPILOT_FALLBACK_API_KEY"); key != "" {
		if cfg.Fallback == nil {
			cfg.Fallback = &ProviderConfig{}
		}
		cfg.Fallback.APIKey = key
	}
	if url := os.Getenv("QUERYPILOT_FALLBACK_BASE_URL"); url != "" {
		if cfg.Fallback == nil {
			cfg.Fallback = &ProviderConfig{}
		}
		cfg.Fallback.BaseURL = url
	}
	if model := os.Getenv("QUERYPILOT_FALLBACK_MODEL"); model != "" {
		if cfg.Fallback == nil {
			cfg.Fallback = &ProviderConfig{}
		}
		cfg.Fallback.Model = model
	}
	if url := os.Getenv("QUERYPILOT_LIGHTWEIGHT_BASE_URL"); url != "" {
		if cfg.Lightweight == nil {
			cfg.Lightweight = &ProviderConfig{}
		}
		cfg.Lightweight.BaseURL = url
	}
	if model := os.Getenv("QUERYPILOT_LIGHTWEIGHT_MODEL"); model != "" {
		if cfg.Lightweight == nil {
			cfg.Lightweight = &ProviderConfig{}
		}
		cfg.Lightweight.Model = model
	}
	if storeType := os.Getenv("QUERYPILOT_STORE_TYPE"); storeType != "" {
		cfg.Store.Type = storeType
	}
	if dbPath := os.Getenv("QUERYPILOT_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if redisURL := os.Getenv("QUERYPILOT_REDIS_URL"); redisURL != "" {
		cfg.Store.RedisURL = redisURL
	}
	if enabled := os.Getenv("QUERYPILOT_EMBEDDING_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Embedding.Enabled = parsed
		}
	}
	if url := os.Getenv("QUERYPILOT_EMBEDDING_BASE_URL"); url != "" {
		cfg.Embedding.BaseURL = url
	}
	if model := os.Getenv("QUERYPILOT_EMBEDDING_MODEL"); model != "" {
		cfg.Embedding.Model = model
	}
	if maxTokens := os.Getenv("QUERYPILOT_MAX_CONTEXT_TOKENS"); maxTokens != "" {
		if parsed, err := strconv.Atoi(maxTokens); err == nil && parsed > 0 {
			cfg.Pipeline.MaxContextTokens = parsed
		}
	}

	if cfg.Lightweight != nil {
		if cfg.Lightweight.Model == "" {
			cfg.Lightweight.Model = DefaultLightweightModel
		}
		if cfg.Lightweight.MaxTokens <= 0 {
			cfg.Lightweight.MaxTokens = DefaultLightweightTokens
		}
	}

	applyPipelineDefaults(&cfg.Pipeline)
	if cfg.Store.Type == "" {
		cfg.Store.Type = DefaultStoreType
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = filepath.Join(ConfigDir(), "data", "sessions.db")
	}
	if cfg.Retention.SweepExpr == "" {
		cfg.Retention.SweepExpr = DefaultRetentionSweepExpr
	}
	if cfg.Retention.MaxIdleDays <= 0 {
		cfg.Retention.MaxIdleDays = DefaultMaxIdleDays
	}

	return cfg, nil
}

func applyPipelineDefaults(p *PipelineConfig) {
	if p.MaxContextTokens <= 0 {
		p.MaxContextTokens = DefaultMaxContextTokens
	}
	if p.KeepRecentTurns <= 0 {
		p.KeepRecentTurns = DefaultKeepRecentTurns
	}
	if p.MaxContextTurnPairs <= 0 {
		p.MaxContextTurnPairs = DefaultMaxContextTurnPairs
	}
	if p.SimilarityWindow <= 0 {
		p.SimilarityWindow = DefaultSimilarityWindow
	}
	if p.SimilarityThreshold <= 0 {
		p.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if p.EscalationTarget <= 0 {
		p.EscalationTarget = DefaultEscalationTarget
	}
	if p.MaxResponseTokens <= 0 {
		p.MaxResponseTokens = DefaultMaxResponseTokens
	}
	if p.ResponseTemperature <= 0 {
		p.ResponseTemperature = DefaultResponseTemperature
	}
	if p.SummaryRetries <= 0 {
		p.SummaryRetries = DefaultSummaryRetries
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
