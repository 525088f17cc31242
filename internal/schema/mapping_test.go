package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-search-indexer/internal/models"
	"catalog-search-indexer/internal/scope"
)

var frScope = scope.New(1, 1, "fr_FR")

func textAttr(code string, weight int) models.Attribute {
	return models.Attribute{
		ID: 1, Code: code,
		BackendType:  models.BackendVarchar,
		Searchable:   true,
		SearchWeight: weight,
	}
}

func TestAttributeType(t *testing.T) {
	assert.Equal(t, "integer", AttributeType(models.Attribute{BackendType: models.BackendInt}))
	assert.Equal(t, "double", AttributeType(models.Attribute{BackendType: models.BackendDecimal}))
	assert.Equal(t, "date", AttributeType(models.Attribute{BackendType: models.BackendDatetime}))
	assert.Equal(t, "text", AttributeType(models.Attribute{BackendType: models.BackendVarchar}))

	// backend storage wins: int-backed boolean flags stay integers so the
	// mapping agrees with the int-coerced values
	assert.Equal(t, "integer", AttributeType(models.Attribute{
		BackendType: models.BackendInt, SourceModel: models.SourceBoolean,
	}))
	assert.Equal(t, "boolean", AttributeType(models.Attribute{
		BackendType: models.BackendVarchar, SourceModel: models.SourceBoolean,
	}))
	assert.Equal(t, "integer", AttributeType(models.Attribute{
		BackendType: models.BackendVarchar, FrontendInput: models.InputSelect,
	}))
	assert.Equal(t, "double", AttributeType(models.Attribute{
		BackendType: models.BackendVarchar, FrontendClass: "validate-number",
	}))
}

func properties(t *testing.T, m Mapping) map[string]any {
	t.Helper()
	props, ok := m["properties"].(map[string]any)
	require.True(t, ok)
	return props
}

func TestMappingTextFanOut(t *testing.T) {
	attr := textAttr("name", 5)
	attr.Sortable = true
	attr.Filterable = true
	attr.FuzzinessEnabled = true
	attr.UsedInAutocomplete = true

	g := NewGenerator("product", []models.Attribute{attr}, Settings{})
	props := properties(t, g.Mapping(frScope))

	name := props["name"].(map[string]any)
	assert.Equal(t, "text", name["type"])
	assert.Equal(t, "analyzer_fr", name["analyzer"])

	fields := name["fields"].(map[string]any)
	assert.Contains(t, fields, "whitespace")
	assert.Contains(t, fields, "untouched")
	assert.Contains(t, fields, "edge_ngram_front")
	assert.Contains(t, fields, "sortable")
	assert.Contains(t, fields, "phonetic") // french supports beider-morse

	copyTo := name["copy_to"].([]string)
	assert.ElementsMatch(t, []string{"search", "spelling", "autocomplete"}, copyTo)
}

func TestMappingPlainTextWithoutFlags(t *testing.T) {
	g := NewGenerator("product", []models.Attribute{textAttr("description", 1)}, Settings{})
	props := properties(t, g.Mapping(frScope))

	desc := props["description"].(map[string]any)
	fields := desc["fields"].(map[string]any)
	assert.Contains(t, fields, "whitespace")
	assert.NotContains(t, fields, "untouched")
	assert.NotContains(t, fields, "sortable")
	assert.Equal(t, []string{"search"}, desc["copy_to"])
}

func TestMappingSelectAttributeGetsOptionsField(t *testing.T) {
	attr := models.Attribute{
		ID: 2, Code: "color",
		BackendType:   models.BackendInt,
		FrontendInput: models.InputSelect,
		SourceModel:   models.SourceTable,
		Filterable:    true,
	}
	g := NewGenerator("product", []models.Attribute{attr}, Settings{})
	props := properties(t, g.Mapping(frScope))

	color := props["color"].(map[string]any)
	assert.Equal(t, "integer", color["type"])

	options := props["options_color"].(map[string]any)
	assert.Equal(t, "text", options["type"])
	fields := options["fields"].(map[string]any)
	assert.Contains(t, fields, "untouched")
}

func TestMappingDateFormats(t *testing.T) {
	attr := models.Attribute{ID: 3, Code: "created_at", BackendType: models.BackendDatetime}
	g := NewGenerator("product", []models.Attribute{attr}, Settings{})
	props := properties(t, g.Mapping(frScope))

	created := props["created_at"].(map[string]any)
	assert.Equal(t, "date", created["type"])
	assert.Equal(t, "yyyy-MM-dd HH:mm:ss||yyyy-MM-dd", created["format"])
}

func TestMappingStructuralFields(t *testing.T) {
	g := NewGenerator("product", nil, Settings{})
	props := properties(t, g.Mapping(frScope))

	assert.Equal(t, map[string]any{"type": "keyword"}, props["unique"])
	assert.Equal(t, map[string]any{"type": "long"}, props["id"])
	assert.Equal(t, map[string]any{"type": "integer"}, props["store_id"])
	assert.Equal(t, map[string]any{"type": "boolean"}, props["in_stock"])
	assert.Equal(t, map[string]any{"type": "keyword"}, props["indexed_attributes"])

	category := props["category"].(map[string]any)
	assert.Equal(t, "nested", category["type"])
	price := props["price"].(map[string]any)
	assert.Equal(t, "nested", price["type"])

	// composite copy_to targets exist
	assert.Contains(t, props, "search")
	assert.Contains(t, props, "spelling")
	assert.Contains(t, props, "autocomplete")
}

func TestFieldName(t *testing.T) {
	attrs := []models.Attribute{
		textAttr("name", 5),
		{ID: 2, Code: "color", BackendType: models.BackendInt,
			FrontendInput: models.InputSelect, SourceModel: models.SourceTable, Filterable: true},
		{ID: 3, Code: "position", BackendType: models.BackendInt},
	}
	attrs[0].Filterable = true
	attrs[0].Sortable = true

	m := NewGenerator("product", attrs, Settings{}).Mapping(frScope)

	assert.Equal(t, "name.untouched", m.FieldName("name", UseFacet, ""))
	assert.Equal(t, "name.sortable", m.FieldName("name", UseSort, ""))
	assert.Equal(t, "name.whitespace", m.FieldName("name", UseSearch, "whitespace"))

	// search/sort/facet prefer the options_ label field
	assert.Equal(t, "options_color.untouched", m.FieldName("color", UseFacet, ""))

	// non-text fields cannot serve full-text search
	assert.Equal(t, "", m.FieldName("position", UseSearch, ""))
	assert.Equal(t, "position", m.FieldName("position", UseFilter, ""))

	// unknown fields pass through untouched
	assert.Equal(t, "ghost", m.FieldName("ghost", UseFilter, ""))
}

func TestSearchFieldsWeighted(t *testing.T) {
	name := textAttr("name", 5)
	name.FuzzinessEnabled = true
	desc := textAttr("description", 1) // weight 1 covered by composite field
	g := NewGenerator("product", []models.Attribute{name, desc}, Settings{})

	fields := g.SearchFields(frScope, SearchNormal, "")
	require.NotEmpty(t, fields)
	assert.Equal(t, "search", fields[0])
	assert.Contains(t, fields, "name^5")
	assert.NotContains(t, fields, "description^1")

	fuzzy := g.SearchFields(frScope, SearchFuzzy, "")
	assert.Equal(t, "spelling.whitespace", fuzzy[0])
	assert.Contains(t, fuzzy, "name.whitespace^5")
}

func TestMetadataVersionTracksFlagChanges(t *testing.T) {
	attrs := []models.Attribute{textAttr("name", 5)}
	v1 := NewGenerator("product", attrs, Settings{}).Version()

	attrs[0].Sortable = true
	v2 := NewGenerator("product", attrs, Settings{}).Version()
	assert.NotEqual(t, v1, v2)

	attrs[0].Sortable = false
	v3 := NewGenerator("product", attrs, Settings{}).Version()
	assert.Equal(t, v1, v3)
}
