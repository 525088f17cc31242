// Package index manages the lifecycle of the per-scope search indices: full
// rebuilds into a fresh physical index swapped in atomically, incremental
// updates against the live alias, and synonym reloads.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"catalog-search-indexer/internal/database"
	"catalog-search-indexer/internal/document"
	"catalog-search-indexer/internal/metrics"
	"catalog-search-indexer/internal/pipeline"
	"catalog-search-indexer/internal/schema"
	"catalog-search-indexer/internal/scope"
	"catalog-search-indexer/internal/search"
)

// Refresh intervals: relaxed while a rebuild streams documents into an index
// nobody queries yet, near-realtime once the index is live.
const (
	buildingRefreshInterval = "10s"
	liveRefreshInterval     = "1s"
)

// Engine is the slice of the search client the manager drives. Narrowed to
// an interface so lifecycle logic tests against a fake.
type Engine interface {
	Active(ctx context.Context) bool
	CreateIndex(ctx context.Context, name string, settings, mappings map[string]any) error
	DeleteIndex(ctx context.Context, name string) error
	Bulk(ctx context.Context, body []byte) error
	UpdateAliases(ctx context.Context, actions []search.AliasAction) error
	AliasIndices(ctx context.Context, alias string) ([]string, error)
	Refresh(ctx context.Context, name string) error
	ForceMerge(ctx context.Context, name string) error
	PutSettings(ctx context.Context, name string, settings map[string]any) error
	PutMapping(ctx context.Context, name string, mappings map[string]any) error
	CloseIndex(ctx context.Context, name string) error
	OpenIndex(ctx context.Context, name string) error
}

// Options tune the physical index layout.
type Options struct {
	BaseAlias        string
	NumberOfShards   int
	NumberOfReplicas int
}

// Manager orchestrates index builds for one entity type.
type Manager struct {
	engine    Engine
	db        *database.DB
	generator *schema.Generator
	pipeline  *pipeline.Pipeline
	assembler *document.Assembler
	cache     *schema.MappingCache // optional
	opts      Options
}

// NewManager wires a lifecycle manager. cache may be nil, in which case
// every rebuild derives the mapping from scratch.
func NewManager(engine Engine, db *database.DB, generator *schema.Generator,
	pipe *pipeline.Pipeline, assembler *document.Assembler,
	cache *schema.MappingCache, opts Options) *Manager {
	return &Manager{
		engine:    engine,
		db:        db,
		generator: generator,
		pipeline:  pipe,
		assembler: assembler,
		cache:     cache,
		opts:      opts,
	}
}

// AliasName is the stable per-scope alias queries go through.
func (m *Manager) AliasName(sc scope.Scope) string {
	return fmt.Sprintf("%s_%s_%s", m.opts.BaseAlias, sc.Identifier(), m.generator.EntityType())
}

// physicalName generates a unique name for a new build. The timestamp keeps
// names sortable for operators; the uuid suffix makes concurrent builds of
// the same scope collision free.
func (m *Manager) physicalName(sc scope.Scope) string {
	return fmt.Sprintf("%s-%s-%s",
		m.AliasName(sc),
		time.Now().UTC().Format("20060102150405"),
		uuid.NewString()[:8],
	)
}

// ReindexAll rebuilds every scope from scratch. Scopes are isolated: a
// failing scope is logged and reported but does not stop the others.
func (m *Manager) ReindexAll(ctx context.Context, scopes []scope.Scope) error {
	var errs []error
	for _, sc := range scopes {
		if err := m.Rebuild(ctx, sc); err != nil {
			slog.Error("scope rebuild failed",
				"scope", sc.Identifier(),
				"entity_type", m.generator.EntityType(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("scope %s: %w", sc.Identifier(), err))
			continue
		}
	}
	return errors.Join(errs...)
}

// Rebuild builds a fresh physical index for one scope, populates it from the
// catalog and swaps the alias over atomically. The previous index serves
// queries until the swap, then gets deleted. Failures before the swap leave
// the live index untouched.
func (m *Manager) Rebuild(ctx context.Context, sc scope.Scope) error {
	if !m.engine.Active(ctx) {
		return search.ErrEngineInactive
	}

	name := m.physicalName(sc)
	mapping, err := m.mappingFor(ctx, sc)
	if err != nil {
		return err
	}

	if err := m.engine.CreateIndex(ctx, name, m.buildSettings(sc), mapping); err != nil {
		return err
	}

	start := time.Now()
	total := 0
	err = m.pipeline.Run(ctx, sc, nil, func(batch []pipeline.EntityData) error {
		n, err := m.writeBatch(ctx, sc, name, batch)
		total += n
		return err
	})
	if err != nil {
		// abandon the half-built index, the live one keeps serving
		if delErr := m.engine.DeleteIndex(ctx, name); delErr != nil {
			slog.Warn("orphan index not deleted", "index", name, "error", delErr)
		}
		return err
	}

	if err := m.install(ctx, sc, name); err != nil {
		return err
	}

	slog.Info("scope rebuilt",
		"scope", sc.Identifier(),
		"index", name,
		"documents", total,
		"duration", time.Since(start),
	)
	return nil
}

// install promotes a freshly populated index: compact it, restore serving
// settings, then swap the alias in one atomic call and drop the retired
// indices.
func (m *Manager) install(ctx context.Context, sc scope.Scope, name string) error {
	alias := m.AliasName(sc)

	if err := m.engine.ForceMerge(ctx, name); err != nil {
		return err
	}
	if err := m.engine.PutSettings(ctx, name, m.liveSettings()); err != nil {
		return err
	}
	if err := m.engine.Refresh(ctx, name); err != nil {
		return err
	}

	retired, err := m.engine.AliasIndices(ctx, alias)
	if err != nil {
		return err
	}

	actions := []search.AliasAction{search.AddAlias(name, alias)}
	for _, old := range retired {
		actions = append(actions, search.RemoveAlias(old, alias))
	}
	if err := m.engine.UpdateAliases(ctx, actions); err != nil {
		return err
	}

	for _, old := range retired {
		if err := m.engine.DeleteIndex(ctx, old); err != nil {
			slog.Warn("retired index not deleted", "index", old, "error", err)
		}
	}
	return nil
}

// RebuildEntities refreshes the given entities in the live index of one
// scope. Entities that vanished from the catalog are deleted from the index.
func (m *Manager) RebuildEntities(ctx context.Context, sc scope.Scope, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	if !m.engine.Active(ctx) {
		return search.ErrEngineInactive
	}

	alias := m.AliasName(sc)
	seen := make(map[int]struct{}, len(ids))

	err := m.pipeline.Run(ctx, sc, ids, func(batch []pipeline.EntityData) error {
		for _, data := range batch {
			seen[data.Entity.ID] = struct{}{}
		}
		_, err := m.writeBatch(ctx, sc, alias, batch)
		return err
	})
	if err != nil {
		return err
	}

	// ids absent from the walk are gone or no longer visible on the website
	var gone []int
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		if err := m.CleanEntities(ctx, sc, gone); err != nil {
			return err
		}
	}
	return m.engine.Refresh(ctx, alias)
}

// CleanEntities deletes the given entities from the live index of one scope.
func (m *Manager) CleanEntities(ctx context.Context, sc scope.Scope, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	if !m.engine.Active(ctx) {
		return search.ErrEngineInactive
	}

	builder := document.NewBulkBuilder(m.AliasName(sc))
	for _, id := range ids {
		builder.Delete(document.UniqueID(id, sc))
	}
	body, err := builder.Bytes()
	if err != nil {
		return err
	}
	if err := m.engine.Bulk(ctx, body); err != nil {
		return err
	}
	metrics.DocumentsIndexed.WithLabelValues(sc.Identifier(), "delete").Add(float64(len(ids)))
	return nil
}

// UpdateSynonyms reloads the synonym groups into every live index of the
// given scopes. Settings changes on the analysis chain require the index to
// be closed, so each index bounces through close/open; queries briefly fail
// rather than silently using stale synonyms.
func (m *Manager) UpdateSynonyms(ctx context.Context, scopes []scope.Scope) error {
	if !m.engine.Active(ctx) {
		return search.ErrEngineInactive
	}

	var errs []error
	for _, sc := range scopes {
		indices, err := m.engine.AliasIndices(ctx, m.AliasName(sc))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, name := range indices {
			if err := m.reloadAnalysis(ctx, sc, name); err != nil {
				errs = append(errs, fmt.Errorf("index %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) reloadAnalysis(ctx context.Context, sc scope.Scope, name string) error {
	if err := m.engine.CloseIndex(ctx, name); err != nil {
		return err
	}
	settings := map[string]any{"analysis": schema.AnalysisSettings(sc, m.generator.Settings())}
	if err := m.engine.PutSettings(ctx, name, settings); err != nil {
		m.engine.OpenIndex(ctx, name)
		return err
	}
	if err := m.engine.PutMapping(ctx, name, m.generator.Mapping(sc)); err != nil {
		m.engine.OpenIndex(ctx, name)
		return err
	}
	return m.engine.OpenIndex(ctx, name)
}

// writeBatch assembles and bulk-writes one resolved batch into target,
// returning the number of documents written.
func (m *Manager) writeBatch(ctx context.Context, sc scope.Scope, target string, batch []pipeline.EntityData) (int, error) {
	docs, err := m.assembler.Assemble(ctx, sc, batch)
	if err != nil {
		return 0, err
	}

	builder := document.NewBulkBuilder(target)
	for _, doc := range docs {
		builder.Index(doc)
	}
	body, err := builder.Bytes()
	if err != nil {
		return 0, err
	}

	timer := prometheus.NewTimer(metrics.BulkDuration.WithLabelValues(sc.Identifier()))
	defer timer.ObserveDuration()

	if err := m.engine.Bulk(ctx, body); err != nil {
		return 0, err
	}
	metrics.DocumentsIndexed.WithLabelValues(sc.Identifier(), "index").Add(float64(len(docs)))
	return len(docs), nil
}

// buildSettings are the index settings for a fresh build: no replicas and a
// relaxed refresh until the index goes live. liveSettings replace them at
// install time.
func (m *Manager) buildSettings(sc scope.Scope) map[string]any {
	return map[string]any{
		"index": map[string]any{
			"number_of_shards":                 m.opts.NumberOfShards,
			"number_of_replicas":               0,
			"refresh_interval":                 buildingRefreshInterval,
			"merge.scheduler.max_thread_count": 1,
			"analysis":                         schema.AnalysisSettings(sc, m.generator.Settings()),
		},
	}
}

// liveSettings restore the serving configuration after a build.
func (m *Manager) liveSettings() map[string]any {
	return map[string]any{
		"index": map[string]any{
			"number_of_replicas": m.opts.NumberOfReplicas,
			"refresh_interval":   liveRefreshInterval,
		},
	}
}

// mappingFor resolves the scope mapping, through the shared cache when one
// is configured.
func (m *Manager) mappingFor(ctx context.Context, sc scope.Scope) (schema.Mapping, error) {
	if m.cache == nil {
		return m.generator.Mapping(sc), nil
	}

	key := schema.CacheKey{
		IndexName:       m.AliasName(sc),
		EntityType:      m.generator.EntityType(),
		MetadataVersion: m.generator.Version(),
	}
	cached, err := m.cache.Get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, schema.ErrCacheMiss) {
		slog.Warn("mapping cache read failed", "key", key.String(), "error", err)
	}

	mapping := m.generator.Mapping(sc)
	if err := m.cache.Set(ctx, key, mapping); err != nil {
		slog.Warn("mapping cache write failed", "key", key.String(), "error", err)
	}
	return mapping, nil
}
