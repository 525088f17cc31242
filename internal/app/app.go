// Package app wires the indexing components from configuration. Shared by
// the long-running indexer and the one-shot reindex command.
package app

import (
	"context"
	"log/slog"

	"catalog-search-indexer/internal/config"
	"catalog-search-indexer/internal/database"
	"catalog-search-indexer/internal/document"
	"catalog-search-indexer/internal/index"
	"catalog-search-indexer/internal/pipeline"
	"catalog-search-indexer/internal/provider"
	"catalog-search-indexer/internal/schema"
	"catalog-search-indexer/internal/scope"
	"catalog-search-indexer/internal/search"
)

// EntityType of the catalog documents this service indexes.
const EntityType = "product"

// App bundles the wired components and their owned connections.
type App struct {
	Cfg     *config.Config
	DB      *database.DB
	Engine  *search.Client
	Manager *index.Manager

	cache *schema.MappingCache
}

// New connects to Postgres and Elasticsearch, snapshots the attribute
// metadata and builds the index manager. The Redis mapping cache is a soft
// dependency: when unreachable the manager runs without it.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	engine, err := search.New(cfg.ElasticsearchHosts)
	if err != nil {
		db.Conn.Close()
		return nil, err
	}

	cache, err := schema.NewMappingCache(cfg.RedisAddr, cfg.CacheTTL)
	if err != nil {
		slog.Warn("mapping cache unavailable, continuing without", "error", err)
		cache = nil
	}

	attributes, err := db.ListAttributes(ctx)
	if err != nil {
		db.Conn.Close()
		return nil, err
	}
	synonyms, err := db.SynonymGroups(ctx)
	if err != nil {
		db.Conn.Close()
		return nil, err
	}

	providers := []schema.DataProvider{
		provider.NewCategory(db),
		provider.NewPrice(db),
		provider.NewVirtualCategoryPositions(db),
	}
	generator := schema.NewGenerator(EntityType, attributes, schema.Settings{
		Synonyms:         synonyms,
		EnableIcuFolding: cfg.EnableIcuFolding,
	}, providers...)

	manager := index.NewManager(
		engine, db, generator,
		pipeline.New(db, attributes, cfg.BatchSize),
		document.NewAssembler(providers...),
		cache,
		index.Options{
			BaseAlias:        cfg.IndexAlias,
			NumberOfShards:   cfg.NumberOfShards,
			NumberOfReplicas: cfg.NumberOfReplicas,
		},
	)

	return &App{Cfg: cfg, DB: db, Engine: engine, Manager: manager, cache: cache}, nil
}

// Scopes enumerates the active store views as indexing scopes.
func (a *App) Scopes(ctx context.Context) ([]scope.Scope, error) {
	stores, err := a.DB.ListStores(ctx)
	if err != nil {
		return nil, err
	}
	scopes := make([]scope.Scope, len(stores))
	for i, s := range stores {
		scopes[i] = scope.New(s.StoreID, s.WebsiteID, s.LocaleCode)
	}
	return scopes, nil
}

// Close releases all owned connections.
func (a *App) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	a.DB.Conn.Close()
}
