// Package pipeline extracts entity attribute data for one scope: it pages
// through the catalog, resolves EAV values with store overrides applied,
// translates option ids to labels and folds child data into composite
// parents.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"catalog-search-indexer/internal/database"
	"catalog-search-indexer/internal/models"
	"catalog-search-indexer/internal/scope"
)

// zero datetime emitted by the catalog for unset date values
const zeroDatetime = "0000-00-00 00:00:00"

// EntityData is one fully resolved entity ready for document assembly.
type EntityData struct {
	Entity models.Entity

	// Values maps attribute code to the normalized value: a scalar for
	// single values, a list where several values apply (multiselects,
	// inherited child values).
	Values map[string]any

	// OptionLabels maps attribute code to the display labels of its
	// resolved option values, for source-backed attributes only.
	OptionLabels map[string][]string

	// ChildrenIDs lists the child entity ids folded into this document,
	// empty for non-composite entities.
	ChildrenIDs []int
}

// Pipeline resolves attribute data in batches. One pipeline is shared by
// every scope and caller; the attribute snapshot is read-only after New and
// the label cache locks internally, so concurrent runs are safe.
type Pipeline struct {
	db        *database.DB
	batchSize int

	attributes []models.Attribute
	byTable    map[string][]models.Attribute
	byID       map[int]models.Attribute

	labels *labelCache
}

// New builds a pipeline over the given attribute metadata. Only non-static
// attributes with an extractable backend participate; static columns come
// with the entity row itself.
func New(db *database.DB, attributes []models.Attribute, batchSize int) *Pipeline {
	p := &Pipeline{
		db:         db,
		batchSize:  batchSize,
		attributes: attributes,
		byTable:    make(map[string][]models.Attribute),
		byID:       make(map[int]models.Attribute, len(attributes)),
		labels:     newLabelCache(db),
	}
	for _, a := range attributes {
		p.byID[a.ID] = a
		if a.BackendType == models.BackendStatic || !a.CanIndex() {
			continue
		}
		p.byTable[a.BackendTable] = append(p.byTable[a.BackendTable], a)
	}
	return p
}

// Run pages through the entities of the scope's website in ascending id
// order and hands each resolved batch to fn. A nil ids filter walks the full
// catalog; a non-nil filter restricts the walk to those entities. Run stops
// at the first error from the database, the resolver or fn.
func (p *Pipeline) Run(ctx context.Context, sc scope.Scope, ids []int, fn func([]EntityData) error) error {
	lastID := 0
	for {
		entities, err := p.db.EntityPage(ctx, sc.WebsiteID(), ids, lastID, p.batchSize)
		if err != nil {
			return err
		}
		if len(entities) == 0 {
			return nil
		}
		lastID = entities[len(entities)-1].ID

		batch, err := p.ResolveBatch(ctx, sc, entities)
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}

		slog.Debug("batch resolved",
			"scope", sc.Identifier(),
			"count", len(batch),
			"last_id", lastID,
		)
	}
}

// ResolveBatch resolves attribute values and child data for one page of
// entities.
func (p *Pipeline) ResolveBatch(ctx context.Context, sc scope.Scope, entities []models.Entity) ([]EntityData, error) {
	entityIDs := make([]int, len(entities))
	for i, e := range entities {
		entityIDs[i] = e.ID
	}

	values, err := p.resolveValues(ctx, sc, entityIDs, p.byTable)
	if err != nil {
		return nil, err
	}

	batch := make([]EntityData, len(entities))
	for i, e := range entities {
		batch[i] = EntityData{
			Entity:       e,
			Values:       values[e.ID],
			OptionLabels: make(map[string][]string),
		}
		if batch[i].Values == nil {
			batch[i].Values = make(map[string]any)
		}
	}

	if err := p.addChildrenData(ctx, sc, batch); err != nil {
		return nil, err
	}

	for i := range batch {
		if err := p.addOptionLabels(ctx, sc, &batch[i]); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// resolveValues loads and normalizes values for the given entities, one
// query per backend value table. Result is entity id -> code -> value.
func (p *Pipeline) resolveValues(ctx context.Context, sc scope.Scope, entityIDs []int, byTable map[string][]models.Attribute) (map[int]map[string]any, error) {
	resolved := make(map[int]map[string]any, len(entityIDs))

	for table, attrs := range byTable {
		attributeIDs := make([]int, len(attrs))
		for i, a := range attrs {
			attributeIDs[i] = a.ID
		}

		rows, err := p.db.AttributeValues(ctx, table, sc.StoreID(), attributeIDs, entityIDs)
		if err != nil {
			return nil, err
		}

		for entityID, perAttribute := range rows {
			for attributeID, raw := range perAttribute {
				attr := p.byID[attributeID]
				value := normalizeValue(attr, raw)
				if value == nil {
					continue
				}
				if resolved[entityID] == nil {
					resolved[entityID] = make(map[string]any)
				}
				resolved[entityID][attr.Code] = value
			}
		}
	}
	return resolved, nil
}

// addChildrenData folds child attribute values into composite parents.
// Configurable parents inherit only their configurable select/multiselect
// axes; other composite types inherit every indexable attribute. Codes in
// models.ForbiddenChildCodes never cross the parent boundary.
func (p *Pipeline) addChildrenData(ctx context.Context, sc scope.Scope, batch []EntityData) error {
	parentsByType := make(map[string][]int)
	index := make(map[int]*EntityData, len(batch))
	for i := range batch {
		e := &batch[i]
		index[e.Entity.ID] = e
		if models.IsCompositeType(e.Entity.TypeID) {
			parentsByType[e.Entity.TypeID] = append(parentsByType[e.Entity.TypeID], e.Entity.ID)
		}
	}
	if len(parentsByType) == 0 {
		return nil
	}

	for _, rule := range models.DefaultRelationRules {
		parentIDs := parentsByType[rule.TypeID]
		if len(parentIDs) == 0 {
			continue
		}

		children, err := p.db.ChildrenIDs(ctx, rule, parentIDs)
		if err != nil {
			return err
		}

		childIDSet := make(map[int]struct{})
		for _, ids := range children {
			for _, id := range ids {
				childIDSet[id] = struct{}{}
			}
		}
		if len(childIDSet) == 0 {
			continue
		}
		childIDs := make([]int, 0, len(childIDSet))
		for id := range childIDSet {
			childIDs = append(childIDs, id)
		}

		childTables := p.childAttributeTables(rule.TypeID)
		childValues, err := p.resolveValues(ctx, sc, childIDs, childTables)
		if err != nil {
			return err
		}

		for parentID, ids := range children {
			parent := index[parentID]
			for _, childID := range ids {
				parent.ChildrenIDs = append(parent.ChildrenIDs, childID)
				for code, value := range childValues[childID] {
					if _, forbidden := models.ForbiddenChildCodes[code]; forbidden {
						continue
					}
					parent.Values[code] = mergeValues(parent.Values[code], value)
				}
			}
		}
	}
	return nil
}

// childAttributeTables selects which attributes a composite parent inherits,
// grouped by backend table.
func (p *Pipeline) childAttributeTables(parentTypeID string) map[string][]models.Attribute {
	tables := make(map[string][]models.Attribute)
	for table, attrs := range p.byTable {
		for _, a := range attrs {
			if parentTypeID == models.TypeConfigurable {
				if !a.Configurable {
					continue
				}
				if a.FrontendInput != models.InputSelect && a.FrontendInput != models.InputMultiselect {
					continue
				}
			}
			tables[table] = append(tables[table], a)
		}
	}
	return tables
}

// addOptionLabels resolves the display labels of every source-backed value
// on the entity, store translations applied.
func (p *Pipeline) addOptionLabels(ctx context.Context, sc scope.Scope, data *EntityData) error {
	for _, attr := range p.attributes {
		if !attr.UsesSource() {
			continue
		}
		value, ok := data.Values[attr.Code]
		if !ok {
			continue
		}

		labels, err := p.labels.get(ctx, attr, sc.StoreID())
		if err != nil {
			return err
		}

		var resolved []string
		for _, option := range valueList(value) {
			if label, ok := labels[option]; ok && label != "" {
				resolved = append(resolved, label)
			}
		}
		if len(resolved) > 0 {
			data.OptionLabels[attr.Code] = resolved
		}
	}
	return nil
}

// normalizeValue turns a raw stored value into its indexed form: multiselect
// strings split on commas, empties dropped, duplicates removed, numeric
// backends coerced, and single-element lists collapsed to a scalar. Returns
// nil when nothing indexable remains.
func normalizeValue(attr models.Attribute, raw string) any {
	parts := []string{raw}
	if attr.FrontendInput == models.InputMultiselect {
		parts = strings.Split(raw, ",")
	}

	seen := make(map[string]struct{}, len(parts))
	values := make([]any, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}

		v := coerce(attr, part)
		if v == nil {
			continue
		}
		values = append(values, v)
	}

	switch len(values) {
	case 0:
		return nil
	case 1:
		return values[0]
	default:
		return values
	}
}

func coerce(attr models.Attribute, raw string) any {
	switch attr.BackendType {
	case models.BackendInt:
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
		return raw
	case models.BackendDecimal:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	case models.BackendDatetime:
		if raw == zeroDatetime {
			return nil
		}
		return raw
	default:
		// boolean-source attributes on non-int storage map as boolean
		// fields, so the value must be a real bool
		if attr.IsBooleanSource() {
			return raw == "1" || strings.EqualFold(raw, "true")
		}
		return raw
	}
}

// mergeValues unions a child value into a parent value. Lists stay lists and
// never carry duplicates; scalars promote to lists when a second distinct
// value arrives.
func mergeValues(parent, child any) any {
	if parent == nil {
		return child
	}
	merged := toList(parent)
	seen := make(map[string]struct{}, len(merged))
	for _, v := range merged {
		seen[stamp(v)] = struct{}{}
	}
	for _, v := range toList(child) {
		if _, dup := seen[stamp(v)]; dup {
			continue
		}
		seen[stamp(v)] = struct{}{}
		merged = append(merged, v)
	}
	if len(merged) == 1 {
		return merged[0]
	}
	return merged
}

func toList(v any) []any {
	if list, ok := v.([]any); ok {
		return append([]any(nil), list...)
	}
	return []any{v}
}

func stamp(v any) string { return fmt.Sprintf("%v", v) }

// valueList renders a normalized value as its raw string forms, for option
// label lookup.
func valueList(v any) []string {
	var out []string
	for _, item := range toList(v) {
		out = append(out, stamp(item))
	}
	return out
}

// labelCache caches option label maps per (attribute, store). Boolean
// attributes get a synthetic single-option map labelled after the attribute
// itself. Lazily populated under a lock: the cron rebuild and the event
// consumer resolve labels through the same cache concurrently.
type labelCache struct {
	db *database.DB

	mu      sync.Mutex
	entries map[labelKey]map[string]string
}

type labelKey struct {
	attributeID int
	storeID     int
}

func newLabelCache(db *database.DB) *labelCache {
	return &labelCache{db: db, entries: make(map[labelKey]map[string]string)}
}

func (c *labelCache) get(ctx context.Context, attr models.Attribute, storeID int) (map[string]string, error) {
	key := labelKey{attributeID: attr.ID, storeID: storeID}

	c.mu.Lock()
	defer c.mu.Unlock()
	if labels, ok := c.entries[key]; ok {
		return labels, nil
	}

	var (
		labels map[string]string
		err    error
	)
	if attr.IsBooleanSource() {
		var label string
		label, err = c.db.BooleanLabel(ctx, attr.ID, storeID)
		if err == nil {
			// keyed by both renderings so int-coerced and bool-coerced
			// values resolve
			labels = map[string]string{"1": label, "true": label}
		}
	} else {
		labels, err = c.db.OptionLabels(ctx, attr.ID, storeID)
	}
	if err != nil {
		return nil, err
	}

	c.entries[key] = labels
	return labels, nil
}
