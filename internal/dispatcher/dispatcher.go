// Package dispatcher decodes catalog change events and routes them to the
// right index operations: full rebuilds, targeted refreshes, deletions and
// website membership changes, with parent propagation for composite
// entities.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"catalog-search-indexer/internal/database"
	"catalog-search-indexer/internal/index"
	"catalog-search-indexer/internal/metrics"
	"catalog-search-indexer/internal/models"
	"catalog-search-indexer/internal/scope"
)

// ErrUnknownEvent is returned when a payload matches no known event shape.
var ErrUnknownEvent = errors.New("dispatcher: unknown event")

// Batch actions and status values carried by catalog events.
const (
	ActionAdd      = "add"
	ActionRemove   = "remove"
	StatusEnabled  = "enabled"
	StatusDisabled = "disabled"
)

// Event is one decoded catalog change.
type Event interface {
	// Kind names the event for logs and metrics.
	Kind() string
}

// FullReindex rebuilds every scope from scratch.
type FullReindex struct{}

func (FullReindex) Kind() string { return "full_reindex" }

// Delete removes one entity from every scope.
type Delete struct{ ID int }

func (Delete) Kind() string { return "delete" }

// Update refreshes one entity in every scope.
type Update struct{ ID int }

func (Update) Kind() string { return "update" }

// Batch applies a bulk membership or status change. WebsiteIDs restricts the
// affected scopes when set; ForceReindex upgrades the event to a full
// rebuild.
type Batch struct {
	IDs          []int
	WebsiteIDs   []int
	Action       string
	Status       string
	ForceReindex bool
}

func (Batch) Kind() string { return "batch" }

// Decode parses a raw event payload. Unrecognized keys are ignored so
// producers can evolve ahead of consumers.
func Decode(data []byte) (Event, error) {
	var p struct {
		FullReindexAll  bool   `json:"full_reindex_all"`
		DeleteProductID int    `json:"delete_product_id"`
		UpdateProductID int    `json:"update_product_id"`
		ProductIDs      []int  `json:"product_ids"`
		WebsiteIDs      []int  `json:"website_ids"`
		ActionType      string `json:"action_type"`
		Status          string `json:"status"`
		ForceReindex    bool   `json:"force_reindex"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("dispatcher: decode event: %w", err)
	}

	switch {
	case p.FullReindexAll:
		return FullReindex{}, nil
	case p.DeleteProductID > 0:
		return Delete{ID: p.DeleteProductID}, nil
	case p.UpdateProductID > 0:
		return Update{ID: p.UpdateProductID}, nil
	case len(p.ProductIDs) > 0:
		return Batch{
			IDs:          p.ProductIDs,
			WebsiteIDs:   p.WebsiteIDs,
			Action:       p.ActionType,
			Status:       p.Status,
			ForceReindex: p.ForceReindex,
		}, nil
	}
	return nil, ErrUnknownEvent
}

// Indexer is the slice of the lifecycle manager the dispatcher drives.
type Indexer interface {
	ReindexAll(ctx context.Context, scopes []scope.Scope) error
	RebuildEntities(ctx context.Context, sc scope.Scope, ids []int) error
	CleanEntities(ctx context.Context, sc scope.Scope, ids []int) error
}

var _ Indexer = (*index.Manager)(nil)

// Catalog is the slice of the database the dispatcher needs to resolve
// scopes and composite parents.
type Catalog interface {
	ListStores(ctx context.Context) ([]database.Store, error)
	ParentIDs(ctx context.Context, childIDs []int) ([]int, error)
	EntityTypeIDs(ctx context.Context, entityIDs []int) (map[int]string, error)
}

var _ Catalog = (*database.DB)(nil)

// Dispatcher routes decoded events to index operations.
type Dispatcher struct {
	catalog Catalog
	indexer Indexer
}

func New(catalog Catalog, indexer Indexer) *Dispatcher {
	return &Dispatcher{catalog: catalog, indexer: indexer}
}

// Dispatch executes one event across the affected scopes.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	metrics.EventsProcessed.WithLabelValues(ev.Kind()).Inc()

	scopes, err := d.scopes(ctx)
	if err != nil {
		return err
	}

	switch e := ev.(type) {
	case FullReindex:
		return d.indexer.ReindexAll(ctx, scopes)

	case Update:
		ids, err := d.withParents(ctx, []int{e.ID})
		if err != nil {
			return err
		}
		return d.rebuildAll(ctx, scopes, ids)

	case Delete:
		// resolve parents before the row disappears from the link tables
		parents, err := d.parentsOfNonComposite(ctx, []int{e.ID})
		if err != nil {
			return err
		}
		for _, sc := range scopes {
			if err := d.indexer.CleanEntities(ctx, sc, []int{e.ID}); err != nil {
				return err
			}
		}
		return d.rebuildAll(ctx, scopes, parents)

	case Batch:
		return d.dispatchBatch(ctx, scopes, e)
	}
	return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, scopes []scope.Scope, e Batch) error {
	if e.ForceReindex {
		return d.indexer.ReindexAll(ctx, scopes)
	}
	if len(e.WebsiteIDs) > 0 {
		scopes = scope.FilterByWebsites(scopes, e.WebsiteIDs)
	}

	switch {
	case e.Action == ActionRemove, e.Status == StatusDisabled:
		for _, sc := range scopes {
			if err := d.indexer.CleanEntities(ctx, sc, e.IDs); err != nil {
				return err
			}
		}
		// parents remain live and must stop advertising the removed
		// children's values
		parents, err := d.parentsOfNonComposite(ctx, e.IDs)
		if err != nil {
			return err
		}
		return d.rebuildAll(ctx, scopes, parents)

	case e.Action == ActionAdd, e.Status == StatusEnabled:
		ids, err := d.withParents(ctx, e.IDs)
		if err != nil {
			return err
		}
		return d.rebuildAll(ctx, scopes, ids)
	}

	slog.Warn("batch event without action or status", "ids", len(e.IDs))
	return d.rebuildAll(ctx, scopes, e.IDs)
}

func (d *Dispatcher) rebuildAll(ctx context.Context, scopes []scope.Scope, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	for _, sc := range scopes {
		if err := d.indexer.RebuildEntities(ctx, sc, ids); err != nil {
			return err
		}
	}
	return nil
}

// withParents extends a change set with the composite parents referencing
// any of its entities, so inherited child data stays current.
func (d *Dispatcher) withParents(ctx context.Context, ids []int) ([]int, error) {
	parents, err := d.parentsOfNonComposite(ctx, ids)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]struct{}, len(ids))
	all := make([]int, 0, len(ids)+len(parents))
	for _, id := range append(append([]int(nil), ids...), parents...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		all = append(all, id)
	}
	return all, nil
}

// parentsOfNonComposite resolves the composite parents of the non-composite
// entities in ids. Composite entities own their children and never propagate
// upward; entities already gone from the catalog are treated as
// non-composite since their link rows may still exist.
func (d *Dispatcher) parentsOfNonComposite(ctx context.Context, ids []int) ([]int, error) {
	types, err := d.catalog.EntityTypeIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	var children []int
	for _, id := range ids {
		if typeID, ok := types[id]; ok && models.IsCompositeType(typeID) {
			continue
		}
		children = append(children, id)
	}
	if len(children) == 0 {
		return nil, nil
	}
	return d.catalog.ParentIDs(ctx, children)
}

func (d *Dispatcher) scopes(ctx context.Context) ([]scope.Scope, error) {
	stores, err := d.catalog.ListStores(ctx)
	if err != nil {
		return nil, err
	}
	scopes := make([]scope.Scope, len(stores))
	for i, s := range stores {
		scopes[i] = scope.New(s.StoreID, s.WebsiteID, s.LocaleCode)
	}
	return scopes, nil
}
