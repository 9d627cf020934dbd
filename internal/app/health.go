package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/bazaar/internal/cli"
	"horse.fit/bazaar/internal/db"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "Backend check timeout")
	skipEmbedding := fs.Bool("skip-embedding", false, "Only check the database")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, err := loadRuntime(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	logger.Info().Dur("timeout", *timeout).Msg("database health check passed")
	fmt.Println("ok: database ping successful")

	if *skipEmbedding {
		return 0
	}

	embed := buildEmbeddingClient(cfg, logger)
	if err := embed.Health(ctx); err != nil {
		logger.Error().Err(err).Str("endpoint", cfg.EmbeddingEndpoint).Msg("embedding health check failed")
		fmt.Fprintf(os.Stderr, "Embedding backend unreachable: %v\n", err)
		return 1
	}

	logger.Info().Str("endpoint", cfg.EmbeddingEndpoint).Msg("embedding health check passed")
	fmt.Println("ok: embedding backend reachable")
	return 0
}
