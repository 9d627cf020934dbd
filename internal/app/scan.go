package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/bazaar/internal/cli"
	"horse.fit/bazaar/internal/db"
)

func runScan(args []string) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", 200, "Maximum posts to scan per pass")
	interval := fs.Duration("interval", 0, "Repeat the scan at this interval until interrupted (0 runs once)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be positive")
		return 2
	}

	cfg, logger, err := loadRuntime(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("scan failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	embed := buildEmbeddingClient(cfg, logger)
	engine, err := buildEngine(cfg, pool, embed, logger)
	if err != nil {
		logger.Error().Err(err).Msg("scan failed to assemble matching stack")
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}

	for {
		result, err := engine.ScanPending(ctx, *limit)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info().Msg("scan interrupted")
				return 0
			}
			logger.Error().Err(err).Msg("scan pass failed")
			fmt.Fprintf(os.Stderr, "Scan failed: %v\n", err)
			return 1
		}

		logger.Info().
			Int("posts", result.Posts).
			Int("matches", result.Matches).
			Int("dispatched", result.Dispatched).
			Int("errors", result.Errors).
			Msg("scan pass finished")
		fmt.Printf("ok: scanned %d posts, %d matches, %d dispatched, %d errors\n",
			result.Posts, result.Matches, result.Dispatched, result.Errors)

		if *interval <= 0 {
			return 0
		}

		select {
		case <-ctx.Done():
			return 0
		case <-time.After(*interval):
		}
	}
}
