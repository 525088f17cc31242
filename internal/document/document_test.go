package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-search-indexer/internal/models"
	"catalog-search-indexer/internal/pipeline"
	"catalog-search-indexer/internal/scope"
	"catalog-search-indexer/internal/schema"
)

var frScope = scope.New(1, 1, "fr_FR")

func TestUniqueID(t *testing.T) {
	assert.Equal(t, "42|store1", UniqueID(42, frScope))
}

func TestAssembleBaseFields(t *testing.T) {
	batch := []pipeline.EntityData{{
		Entity: models.Entity{ID: 42, TypeID: models.TypeSimple, SKU: "SKU-42", InStock: true},
		Values: map[string]any{
			"name":       "Blue Jacket",
			"color":      11,
			"is_new":     false,              // dropped
			"short_desc": "",                 // dropped
			"tags":       []any{},            // dropped
			"weight":     0.0,                // kept, zero is a real value
		},
		OptionLabels: map[string][]string{"color": {"Blue"}},
	}}

	docs, err := NewAssembler().Assemble(context.Background(), frScope, batch)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	doc := docs[0]
	assert.Equal(t, "42|store1", doc.ID)
	assert.Equal(t, "42|store1", doc.Fields["unique"])
	assert.Equal(t, 42, doc.Fields["id"])
	assert.Equal(t, 1, doc.Fields["store_id"])
	assert.Equal(t, "SKU-42", doc.Fields["sku"])
	assert.Equal(t, true, doc.Fields["in_stock"])

	assert.Equal(t, "Blue Jacket", doc.Fields["name"])
	assert.Equal(t, []string{"Blue"}, doc.Fields["options_color"])
	assert.NotContains(t, doc.Fields, "is_new")
	assert.NotContains(t, doc.Fields, "short_desc")
	assert.NotContains(t, doc.Fields, "tags")
	assert.Equal(t, 0.0, doc.Fields["weight"])

	assert.ElementsMatch(t, []string{"name", "color", "weight"}, doc.Fields["indexed_attributes"])
}

type staticProvider struct {
	data map[int]map[string]any
}

func (p staticProvider) MappingProperties() map[string]any { return nil }

func (p staticProvider) EntitiesData(ctx context.Context, sc scope.Scope, entityIDs []int) (map[int]map[string]any, error) {
	return p.data, nil
}

func TestAssembleMergesProviderFragments(t *testing.T) {
	var _ schema.DataProvider = staticProvider{}

	batch := []pipeline.EntityData{
		{Entity: models.Entity{ID: 1, TypeID: models.TypeSimple}, Values: map[string]any{}, OptionLabels: map[string][]string{}},
		{Entity: models.Entity{ID: 2, TypeID: models.TypeSimple}, Values: map[string]any{}, OptionLabels: map[string][]string{}},
	}
	p := staticProvider{data: map[int]map[string]any{
		1: {"category": []map[string]any{{"category_id": 3}}},
	}}

	docs, err := NewAssembler(p).Assemble(context.Background(), frScope, batch)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Contains(t, docs[0].Fields, "category")
	assert.NotContains(t, docs[1].Fields, "category")
}

func TestBulkBuilderPairsActionsWithSources(t *testing.T) {
	b := NewBulkBuilder("catalog_store1_product")
	b.Index(Document{ID: "1|store1", Fields: map[string]any{"sku": "A"}})
	b.Delete("2|store1")
	b.Update(Document{ID: "3|store1", Fields: map[string]any{"in_stock": false}})

	assert.Equal(t, 3, b.Len())

	body, err := b.Bytes()
	require.NoError(t, err)

	lines := splitLines(body)
	require.Len(t, lines, 5) // index+doc, delete, update+doc

	assert.JSONEq(t, `{"index":{"_index":"catalog_store1_product","_id":"1|store1"}}`, lines[0])
	assert.JSONEq(t, `{"sku":"A"}`, lines[1])
	assert.JSONEq(t, `{"delete":{"_index":"catalog_store1_product","_id":"2|store1"}}`, lines[2])
	assert.JSONEq(t, `{"update":{"_index":"catalog_store1_product","_id":"3|store1"}}`, lines[3])
	assert.JSONEq(t, `{"doc":{"in_stock":false}}`, lines[4])
}

func splitLines(body []byte) []string {
	var lines []string
	start := 0
	for i, c := range body {
		if c == '\n' {
			lines = append(lines, string(body[start:i]))
			start = i + 1
		}
	}
	return lines
}
