// Package provider holds the pluggable data providers enriching entity
// documents with data that lives outside the EAV value tables: category
// memberships, price tiers and manual positions in virtual categories.
package provider

import (
	"context"

	"catalog-search-indexer/internal/database"
	"catalog-search-indexer/internal/scope"
)

// Category contributes the nested category membership field: one entry per
// category the product belongs to, carrying the store-translated name so
// category names are searchable without a join at query time.
type Category struct {
	db *database.DB
}

func NewCategory(db *database.DB) *Category { return &Category{db: db} }

// MappingProperties is nil: the category field is part of the base mapping
// because category_name needs the language-dependent sub-field fan-out only
// the generator can derive.
func (p *Category) MappingProperties() map[string]any { return nil }

func (p *Category) EntitiesData(ctx context.Context, sc scope.Scope, entityIDs []int) (map[int]map[string]any, error) {
	memberships, err := p.db.CategoryMemberships(ctx, sc.StoreID(), entityIDs)
	if err != nil {
		return nil, err
	}

	result := make(map[int]map[string]any, len(memberships))
	for entityID, rows := range memberships {
		categories := make([]map[string]any, len(rows))
		for i, row := range rows {
			categories[i] = map[string]any{
				"category_id":   row.CategoryID,
				"category_name": row.Name,
				"position":      row.Position,
				"is_virtual":    row.IsVirtual,
			}
		}
		result[entityID] = map[string]any{"category": categories}
	}
	return result, nil
}

// Price contributes the nested price field, one entry per customer group so
// group-specific prices filter and sort without client-side math.
type Price struct {
	db *database.DB
}

func NewPrice(db *database.DB) *Price { return &Price{db: db} }

// MappingProperties is nil: the price field is part of the base mapping.
func (p *Price) MappingProperties() map[string]any { return nil }

func (p *Price) EntitiesData(ctx context.Context, sc scope.Scope, entityIDs []int) (map[int]map[string]any, error) {
	tiers, err := p.db.PriceTiers(ctx, sc.WebsiteID(), entityIDs)
	if err != nil {
		return nil, err
	}

	result := make(map[int]map[string]any, len(tiers))
	for entityID, rows := range tiers {
		prices := make([]map[string]any, len(rows))
		for i, row := range rows {
			prices[i] = map[string]any{
				"customer_group_id": row.CustomerGroupID,
				"price":             row.Price,
				"original_price":    row.OriginalPrice,
				"is_discount":       row.Price < row.OriginalPrice,
			}
		}
		result[entityID] = map[string]any{"price": prices}
	}
	return result, nil
}

// VirtualCategoryPositions contributes manual product positions inside
// virtual categories. Every requested entity gets a fragment, empty when no
// positions exist, so a removed position clears the previously indexed one
// on reindex.
type VirtualCategoryPositions struct {
	db *database.DB
}

func NewVirtualCategoryPositions(db *database.DB) *VirtualCategoryPositions {
	return &VirtualCategoryPositions{db: db}
}

func (p *VirtualCategoryPositions) MappingProperties() map[string]any {
	return map[string]any{
		"virtual_category_position": map[string]any{
			"type": "nested",
			"properties": map[string]any{
				"virtual_category_id":       map[string]any{"type": "long"},
				"category_product_position": map[string]any{"type": "integer"},
			},
		},
	}
}

func (p *VirtualCategoryPositions) EntitiesData(ctx context.Context, sc scope.Scope, entityIDs []int) (map[int]map[string]any, error) {
	positions, err := p.db.VirtualCategoryPositions(ctx, sc.StoreID(), entityIDs)
	if err != nil {
		return nil, err
	}

	result := make(map[int]map[string]any, len(entityIDs))
	for _, entityID := range entityIDs {
		entries := make([]map[string]any, 0, len(positions[entityID]))
		for _, row := range positions[entityID] {
			entries = append(entries, map[string]any{
				"virtual_category_id":       row.CategoryID,
				"category_product_position": row.Position,
			})
		}
		result[entityID] = map[string]any{"virtual_category_position": entries}
	}
	return result, nil
}
