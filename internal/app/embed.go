package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"horse.fit/bazaar/internal/cli"
	"horse.fit/bazaar/internal/db"
	"horse.fit/bazaar/internal/globaltime"
	"horse.fit/bazaar/internal/semantic"
)

func runEmbed(args []string) int {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", 100, "Maximum rows to backfill per kind")
	withPosts := fs.Bool("posts", false, "Also backfill post embeddings")

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

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("embed failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	embed := buildEmbeddingClient(cfg, logger)

	subscriptions, err := backfillSubscriptionEmbeddings(ctx, pool, embed, *limit, logger)
	if err != nil {
		logger.Error().Err(err).Msg("subscription embedding backfill failed")
		fmt.Fprintf(os.Stderr, "Backfill failed: %v\n", err)
		return 1
	}
	fmt.Printf("ok: embedded %d subscriptions\n", subscriptions)

	if !*withPosts {
		return 0
	}

	posts, err := backfillPostEmbeddings(ctx, pool, embed, cfg.EmbeddingEndpoint, *limit, logger)
	if err != nil {
		logger.Error().Err(err).Msg("post embedding backfill failed")
		fmt.Fprintf(os.Stderr, "Backfill failed: %v\n", err)
		return 1
	}
	fmt.Printf("ok: embedded %d posts\n", posts)
	return 0
}

// backfillSubscriptionEmbeddings recomputes the keyword vector cache
// for subscriptions whose keyword lists changed since the last pass.
// Disabled negatives are embedded too; the read side skips them, so
// re-enabling a keyword never needs another backend round trip.
func backfillSubscriptionEmbeddings(ctx context.Context, pool *db.Pool, embed semantic.Backend, limit int, logger zerolog.Logger) (int, error) {
	subs, err := pool.SubscriptionsMissingEmbeddings(ctx, limit)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, sub := range subs {
		lists, err := sub.KeywordLists()
		if err != nil {
			logger.Error().Err(err).Int64("subscription_id", sub.SubscriptionID).Msg("skipping subscription with bad keyword lists")
			continue
		}

		texts := make([]string, 0, len(lists.Positive)+len(lists.Negative))
		texts = append(texts, lists.Positive...)
		texts = append(texts, lists.Negative...)

		var vectors [][]float64
		if len(texts) > 0 {
			vectors, err = embed.EmbedBatch(ctx, texts)
			if err != nil {
				return done, fmt.Errorf("embed subscription %d keywords: %w", sub.SubscriptionID, err)
			}
			if len(vectors) != len(texts) {
				return done, fmt.Errorf("embed subscription %d keywords: got %d vectors for %d texts", sub.SubscriptionID, len(vectors), len(texts))
			}
		}

		embeddings := make([]db.KeywordEmbedding, 0, len(texts))
		for i, keyword := range lists.Positive {
			literal, err := db.VectorLiteral(vectors[i])
			if err != nil {
				return done, fmt.Errorf("encode vector for keyword %q: %w", keyword, err)
			}
			embeddings = append(embeddings, db.KeywordEmbedding{
				Kind:          "positive",
				KeywordIndex:  i,
				Keyword:       keyword,
				VectorLiteral: literal,
			})
		}
		for i, keyword := range lists.Negative {
			literal, err := db.VectorLiteral(vectors[len(lists.Positive)+i])
			if err != nil {
				return done, fmt.Errorf("encode vector for keyword %q: %w", keyword, err)
			}
			embeddings = append(embeddings, db.KeywordEmbedding{
				Kind:          "negative",
				KeywordIndex:  i,
				Keyword:       keyword,
				VectorLiteral: literal,
			})
		}

		if err := pool.ReplaceSubscriptionEmbeddings(ctx, sub.SubscriptionID, embeddings, globaltime.UTC()); err != nil {
			return done, err
		}

		logger.Info().
			Int64("subscription_id", sub.SubscriptionID).
			Int("positive", len(lists.Positive)).
			Int("negative", len(lists.Negative)).
			Msg("subscription embeddings refreshed")
		done++
	}
	return done, nil
}

func backfillPostEmbeddings(ctx context.Context, pool *db.Pool, embed semantic.Backend, endpoint string, limit int, logger zerolog.Logger) (int, error) {
	posts, err := pool.PostsMissingEmbeddings(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(posts) == 0 {
		return 0, nil
	}

	texts := make([]string, len(posts))
	for i, post := range posts {
		texts[i] = post.Text
	}

	vectors, err := embed.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed post batch: %w", err)
	}
	if len(vectors) != len(posts) {
		return 0, fmt.Errorf("embed post batch: got %d vectors for %d posts", len(vectors), len(posts))
	}

	done := 0
	for i, post := range posts {
		literal, err := db.VectorLiteral(vectors[i])
		if err != nil {
			return done, fmt.Errorf("encode vector for post %d: %w", post.PostID, err)
		}

		inserted, err := pool.InsertPostEmbedding(ctx, post.PostID, db.DefaultEmbeddingModelName, db.DefaultEmbeddingModelVersion, literal, endpoint, globaltime.UTC())
		if err != nil {
			return done, err
		}
		if inserted {
			done++
		} else {
			logger.Debug().Int64("post_id", post.PostID).Msg("post embedding already present")
		}
	}
	return done, nil
}
