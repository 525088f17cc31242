// Command reindex triggers a catalog rebuild from the command line: a full
// rebuild of every scope by default, a targeted refresh with -ids, or an
// event enqueued through RabbitMQ with -enqueue so the running indexer does
// the work.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"catalog-search-indexer/internal/app"
	"catalog-search-indexer/internal/config"
	"catalog-search-indexer/internal/queue"

	_ "github.com/lib/pq"
)

func main() {
	var (
		idsFlag  = flag.String("ids", "", "comma-separated entity ids to refresh instead of a full rebuild")
		enqueue  = flag.Bool("enqueue", false, "publish the rebuild as an event instead of running it here")
		synonyms = flag.Bool("synonyms", false, "reload synonyms into the live indices and exit")
	)
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "component", "reindex", "error", err)
		os.Exit(1)
	}

	ids, err := parseIDs(*idsFlag)
	if err != nil {
		slog.Error("invalid -ids value", "component", "reindex", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if *enqueue {
		if err := publish(ctx, cfg, ids); err != nil {
			slog.Error("enqueue failed", "component", "reindex", "error", err)
			os.Exit(1)
		}
		slog.Info("rebuild enqueued", "component", "reindex", "ids", len(ids))
		return
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "component", "reindex", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	scopes, err := application.Scopes(ctx)
	if err != nil {
		slog.Error("scope enumeration failed", "component", "reindex", "error", err)
		os.Exit(1)
	}

	switch {
	case *synonyms:
		err = application.Manager.UpdateSynonyms(ctx, scopes)
	case len(ids) > 0:
		for _, sc := range scopes {
			if err = application.Manager.RebuildEntities(ctx, sc, ids); err != nil {
				break
			}
		}
	default:
		err = application.Manager.ReindexAll(ctx, scopes)
	}
	if err != nil {
		slog.Error("reindex failed", "component", "reindex", "error", err)
		os.Exit(1)
	}
	slog.Info("reindex complete", "component", "reindex")
}

func publish(ctx context.Context, cfg *config.Config, ids []int) error {
	publisher, err := queue.NewPublisher(cfg.RabbitMQURL, cfg.EventQueue)
	if err != nil {
		return err
	}
	defer publisher.Close()

	payload := map[string]any{"full_reindex_all": true}
	if len(ids) > 0 {
		payload = map[string]any{"product_ids": ids, "action_type": "add"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return publisher.Publish(ctx, body)
}

func parseIDs(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
