package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/bazaar/internal/cli"
	"horse.fit/bazaar/internal/config"
	"horse.fit/bazaar/internal/db"
	"horse.fit/bazaar/internal/logging"
	"horse.fit/bazaar/internal/match"
	"horse.fit/bazaar/internal/notifier"
	"horse.fit/bazaar/internal/remote"
	"horse.fit/bazaar/internal/retrieval"
	"horse.fit/bazaar/internal/semantic"
	"horse.fit/bazaar/internal/verify"
)

// loadRuntime resolves the .env file, the environment config and the
// logger, in that order. Every command starts here.
func loadRuntime(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func buildEmbeddingClient(cfg *config.Config, logger zerolog.Logger) *semantic.Client {
	caller := remote.NewCaller("embedding", cfg.EmbeddingMinSpacing, remote.Policy{
		RequestTimeout: cfg.EmbeddingTimeout,
	}, logger)
	return semantic.NewClient(cfg.EmbeddingEndpoint, cfg.EmbeddingBatchSize, caller)
}

func buildCascade(cfg *config.Config, logger zerolog.Logger) *verify.Cascade {
	caller := remote.NewCaller("llm", cfg.LLMMinSpacing, remote.Policy{
		MaxAttempts:    cfg.LLMMaxAttempts,
		RequestTimeout: cfg.LLMTimeout,
	}, logger)
	if strings.TrimSpace(cfg.LLMAPIKey) != "" {
		caller.SetHeader("Authorization", "Bearer "+cfg.LLMAPIKey)
	}

	client := verify.NewLLMClient(cfg.LLMEndpoint, cfg.LLMTextModel, cfg.LLMVisionModel, caller)
	return verify.NewCascade(client, verify.VisionBackendFrom(client), cfg.VisionThreshold, cfg.TextThreshold, logger)
}

func matchOptions(cfg *config.Config) match.Options {
	return match.Options{
		LexicalGate:     cfg.LexicalGateThreshold,
		BridgeThreshold: cfg.BridgeThreshold,
		MinPostLength:   cfg.MinPostLength,
	}
}

// buildEngine assembles the full live matching stack around one pool.
// Without a Telegram token the engine still evaluates but never
// dispatches.
func buildEngine(cfg *config.Config, pool *db.Pool, embed *semantic.Client, logger zerolog.Logger) (*match.Engine, error) {
	matcher := semantic.NewMatcher(embed, cfg.SemanticPositiveThreshold, cfg.SemanticNegativeThreshold, logger)
	cascade := buildCascade(cfg, logger)

	var sender notifier.Sender
	if strings.TrimSpace(cfg.TelegramToken) != "" {
		telegram, err := notifier.NewTelegram(cfg.TelegramToken, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize telegram sender: %w", err)
		}
		sender = telegram
	} else {
		logger.Warn().Msg("no telegram token configured, matches will not be dispatched")
	}

	return match.NewEngine(pool, pool, matcher, cascade, pool, sender, matchOptions(cfg), logger), nil
}

func retrievalOptions(cfg *config.Config) retrieval.Options {
	return retrieval.Options{
		Ladder:          cfg.RelaxationLadder(),
		BridgeThreshold: cfg.BridgeThreshold,
		MinPostLength:   cfg.MinPostLength,
	}
}
