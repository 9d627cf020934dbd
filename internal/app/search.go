package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"horse.fit/bazaar/internal/cli"
	"horse.fit/bazaar/internal/db"
	"horse.fit/bazaar/internal/retrieval"
)

func runSearch(args []string) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	query := fs.String("q", "", "Query text (required)")
	negative := fs.String("negative", "", "Comma-separated exclusion keywords")
	groups := fs.String("group-ids", "", "Comma-separated chat ids to search (default all)")
	limit := fs.Int("limit", 10, "Maximum posts to return")
	asJSON := fs.Bool("json", false, "Print hits as JSON lines")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if strings.TrimSpace(*query) == "" {
		fmt.Fprintln(os.Stderr, "--q is required")
		return 2
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "--limit must be positive")
		return 2
	}

	groupIDs, err := parseIDList(*groups)
	if err != nil {
		fmt.Fprintf(os.Stderr, "--group-ids: %v\n", err)
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
		logger.Error().Err(err).Msg("search failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	embed := buildEmbeddingClient(cfg, logger)
	orchestrator := retrieval.NewOrchestrator(embed, pool, pool, retrievalOptions(cfg), logger)

	hits, err := orchestrator.Find(ctx, retrieval.Query{
		Text:     *query,
		Negative: splitKeywords(*negative),
		GroupIDs: groupIDs,
		Limit:    *limit,
	})
	if err != nil {
		logger.Error().Err(err).Str("query", *query).Msg("search failed")
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		return 1
	}

	if len(hits) == 0 {
		fmt.Println("no posts found")
		return 0
	}

	for _, hit := range hits {
		if *asJSON {
			line, err := json.Marshal(map[string]any{
				"post_id":   hit.Post.PostID,
				"group_id":  hit.Post.GroupID,
				"score":     hit.Score,
				"strategy":  hit.Strategy,
				"posted_at": hit.Post.PostedAt,
				"text":      hit.Post.Text,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to encode hit: %v\n", err)
				return 1
			}
			fmt.Println(string(line))
			continue
		}
		fmt.Printf("%.3f  [%s]  post=%d group=%d  %s\n",
			hit.Score, hit.Strategy, hit.Post.PostID, hit.Post.GroupID, firstLine(hit.Post.Text))
	}
	return 0
}

func parseIDList(raw string) ([]int64, error) {
	parts := splitKeywords(raw)
	if len(parts) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitKeywords(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstLine(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	runes := []rune(line)
	if len(runes) > 120 {
		return string(runes[:120]) + "…"
	}
	return line
}
