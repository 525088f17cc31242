// Package document assembles resolved entity data into engine documents and
// encodes them into bulk request bodies.
package document

import (
	"context"
	"fmt"

	"catalog-search-indexer/internal/pipeline"
	"catalog-search-indexer/internal/schema"
	"catalog-search-indexer/internal/scope"
)

// Document is one engine document keyed by its unique id.
type Document struct {
	ID     string
	Fields map[string]any
}

// UniqueID builds the document id: entity id qualified by the scope, so the
// same entity can live in every scope's index without colliding when indices
// are queried together.
func UniqueID(entityID int, sc scope.Scope) string {
	return fmt.Sprintf("%d|%s", entityID, sc.Identifier())
}

// Assembler turns pipeline output into documents, enriched by the registered
// data providers.
type Assembler struct {
	providers []schema.DataProvider
}

// NewAssembler builds an assembler over the given providers. Providers run
// in registration order; later fragments overwrite earlier fields on
// collision.
func NewAssembler(providers ...schema.DataProvider) *Assembler {
	return &Assembler{providers: providers}
}

// Assemble builds one document per resolved entity.
func (a *Assembler) Assemble(ctx context.Context, sc scope.Scope, batch []pipeline.EntityData) ([]Document, error) {
	docs := make([]Document, len(batch))
	byEntity := make(map[int]int, len(batch))
	entityIDs := make([]int, len(batch))

	for i, data := range batch {
		fields := map[string]any{
			"unique":   UniqueID(data.Entity.ID, sc),
			"id":       data.Entity.ID,
			"store_id": sc.StoreID(),
			"sku":      data.Entity.SKU,
			"type_id":  data.Entity.TypeID,
			"in_stock": data.Entity.InStock,
		}

		indexed := make([]string, 0, len(data.Values))
		for code, value := range data.Values {
			if dropEmpty(value) {
				continue
			}
			fields[code] = value
			indexed = append(indexed, code)
		}
		for code, labels := range data.OptionLabels {
			fields["options_"+code] = labels
		}
		if len(indexed) > 0 {
			fields["indexed_attributes"] = indexed
		}
		if len(data.ChildrenIDs) > 0 {
			fields["children_ids"] = data.ChildrenIDs
		}

		docs[i] = Document{ID: fields["unique"].(string), Fields: fields}
		byEntity[data.Entity.ID] = i
		entityIDs[i] = data.Entity.ID
	}

	for _, provider := range a.providers {
		fragments, err := provider.EntitiesData(ctx, sc, entityIDs)
		if err != nil {
			return nil, fmt.Errorf("document: provider data: %w", err)
		}
		for entityID, fragment := range fragments {
			i, ok := byEntity[entityID]
			if !ok {
				continue
			}
			for field, value := range fragment {
				docs[i].Fields[field] = value
			}
		}
	}
	return docs, nil
}

// dropEmpty reports whether a value carries no signal and should stay out of
// the document: nil, false, empty strings and empty lists. Explicit zero
// numbers are kept, a price of 0 is a real value.
func dropEmpty(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case bool:
		return !value
	case string:
		return value == ""
	case []any:
		return len(value) == 0
	case []string:
		return len(value) == 0
	default:
		return false
	}
}
