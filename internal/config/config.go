package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"BAZAAR_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"BAZAAR_DB_MAX_CONNS" default:"8"`

	EmbeddingEndpoint   string        `envconfig:"EMBEDDING_ENDPOINT" default:"http://127.0.0.1:8844"`
	EmbeddingTimeout    time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"45s"`
	EmbeddingMinSpacing time.Duration `envconfig:"EMBEDDING_MIN_SPACING" default:"200ms"`
	EmbeddingBatchSize  int           `envconfig:"EMBEDDING_BATCH_SIZE" default:"32"`

	LLMEndpoint    string        `envconfig:"LLM_ENDPOINT" default:"https://api.openai.com/v1/chat/completions"`
	LLMAPIKey      string        `envconfig:"LLM_API_KEY" default:""`
	LLMTextModel   string        `envconfig:"LLM_TEXT_MODEL" default:"gpt-4o-mini"`
	LLMVisionModel string        `envconfig:"LLM_VISION_MODEL" default:"gpt-4o"`
	LLMTimeout     time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	LLMMinSpacing  time.Duration `envconfig:"LLM_MIN_SPACING" default:"500ms"`
	LLMMaxAttempts int           `envconfig:"LLM_MAX_ATTEMPTS" default:"4"`

	LexicalGateThreshold      float64 `envconfig:"LEXICAL_GATE_THRESHOLD" default:"0.15"`
	LexicalFloorThreshold     float64 `envconfig:"LEXICAL_FLOOR_THRESHOLD" default:"0.10"`
	BridgeThreshold           float64 `envconfig:"BRIDGE_THRESHOLD" default:"0.85"`
	SemanticPositiveThreshold float64 `envconfig:"SEMANTIC_POSITIVE_THRESHOLD" default:"0.6"`
	SemanticNegativeThreshold float64 `envconfig:"SEMANTIC_NEGATIVE_THRESHOLD" default:"0.4"`
	VisionThreshold           float64 `envconfig:"VISION_THRESHOLD" default:"0.75"`
	TextThreshold             float64 `envconfig:"TEXT_THRESHOLD" default:"0.7"`
	MinPostLength             int     `envconfig:"MIN_POST_LENGTH" default:"20"`

	TelegramToken string `envconfig:"TELEGRAM_BOT_TOKEN" default:""`

	ServeHost string `envconfig:"SERVE_HOST" default:"127.0.0.1"`
	ServePort int    `envconfig:"SERVE_PORT" default:"8090"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("BAZAAR_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("BAZAAR_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("BAZAAR_DB_MIN_CONNS (%d) cannot exceed BAZAAR_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.EmbeddingEndpoint) == "" {
		return fmt.Errorf("EMBEDDING_ENDPOINT is required")
	}
	if c.LLMMaxAttempts < 1 {
		return fmt.Errorf("LLM_MAX_ATTEMPTS must be >= 1")
	}
	if c.MinPostLength < 0 {
		return fmt.Errorf("MIN_POST_LENGTH must be >= 0")
	}
	for _, check := range []struct {
		name  string
		value float64
	}{
		{"LEXICAL_GATE_THRESHOLD", c.LexicalGateThreshold},
		{"LEXICAL_FLOOR_THRESHOLD", c.LexicalFloorThreshold},
		{"BRIDGE_THRESHOLD", c.BridgeThreshold},
		{"SEMANTIC_NEGATIVE_THRESHOLD", c.SemanticNegativeThreshold},
		{"VISION_THRESHOLD", c.VisionThreshold},
		{"TEXT_THRESHOLD", c.TextThreshold},
	} {
		if check.value < 0 || check.value > 1 {
			return fmt.Errorf("%s must be within [0,1], got %f", check.name, check.value)
		}
	}
	if c.SemanticPositiveThreshold <= 0 {
		return fmt.Errorf("SEMANTIC_POSITIVE_THRESHOLD must be > 0")
	}
	if c.LexicalFloorThreshold > c.LexicalGateThreshold {
		return fmt.Errorf("LEXICAL_FLOOR_THRESHOLD (%f) cannot exceed LEXICAL_GATE_THRESHOLD (%f)", c.LexicalFloorThreshold, c.LexicalGateThreshold)
	}
	return nil
}

// RelaxationLadder is the descending sequence of lexical retrieval thresholds,
// from the live gate down to the configured floor.
func (c *Config) RelaxationLadder() []float64 {
	if c == nil {
		return nil
	}
	if c.LexicalFloorThreshold >= c.LexicalGateThreshold {
		return []float64{c.LexicalGateThreshold}
	}
	return []float64{c.LexicalGateThreshold, c.LexicalFloorThreshold}
}
