package schema

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"

	"catalog-search-indexer/internal/models"
	"catalog-search-indexer/internal/scope"
)

// Field uses, passed to Mapping.FieldName to resolve the concrete engine
// field for one purpose.
const (
	UseSearch = "search"
	UseFilter = "filter"
	UseSort   = "sort"
	UseFacet  = "facet"
)

// Search types, passed to Generator.SearchFields.
const (
	SearchNormal       = "normal"
	SearchFuzzy        = "fuzzy"
	SearchPhonetic     = "phonetic"
	SearchAutocomplete = "autocomplete"
)

// Date formats accepted by date fields.
const dateFormats = "yyyy-MM-dd HH:mm:ss||yyyy-MM-dd"

// DataProvider contributes a mapping fragment and per-entity data merged
// into documents at save time. Providers replace mapping subclassing: the
// generic entity mapping is composed from per-attribute derivation plus a
// pluggable provider list.
type DataProvider interface {
	// MappingProperties returns extra properties merged into the mapping.
	MappingProperties() map[string]any
	// EntitiesData returns extra document fields per entity id.
	EntitiesData(ctx context.Context, sc scope.Scope, entityIDs []int) (map[int]map[string]any, error)
}

// Mapping is the generated mapping document ({"properties": ...}).
type Mapping map[string]any

// Generator derives field mappings for one entity type from a fixed
// attribute-metadata snapshot. It is safe for concurrent readers.
type Generator struct {
	entityType string
	attributes []models.Attribute
	settings   Settings
	providers  []DataProvider
	version    string
}

// NewGenerator builds a generator over an attribute-metadata snapshot.
func NewGenerator(entityType string, attributes []models.Attribute, st Settings, providers ...DataProvider) *Generator {
	return &Generator{
		entityType: entityType,
		attributes: attributes,
		settings:   st,
		providers:  providers,
		version:    metadataVersion(attributes),
	}
}

func (g *Generator) EntityType() string { return g.entityType }

// Version is a stamp of the metadata snapshot, part of the mapping cache key
// so a metadata change invalidates cached mappings.
func (g *Generator) Version() string { return g.version }

// Attributes returns the metadata snapshot the generator was built from.
func (g *Generator) Attributes() []models.Attribute { return g.attributes }

// Settings returns the indexing settings the generator was built with.
func (g *Generator) Settings() Settings { return g.settings }

// Mapping derives the full mapping document for one scope. Analyzer choices
// are language dependent, so the result is scope specific.
func (g *Generator) Mapping(sc scope.Scope) Mapping {
	phonetic := PhoneticSupported(sc)
	lang := sc.LanguageCode()

	properties := map[string]any{}

	// Composite fields collecting copy_to targets. Queries hit these instead
	// of enumerating every source field.
	for _, field := range []string{"search", "spelling", "autocomplete"} {
		subFields := map[string]any{
			"whitespace": map[string]any{"type": "text", "analyzer": "whitespace"},
		}
		if field == "autocomplete" {
			subFields["edge_ngram_front"] = map[string]any{"type": "text", "analyzer": "edge_ngram_front"}
		}
		if phonetic {
			subFields["phonetic"] = map[string]any{"type": "text", "analyzer": PhoneticAnalyzerName(lang)}
		}
		properties[field] = map[string]any{
			"type":     "text",
			"analyzer": AnalyzerName(lang),
			"fields":   subFields,
		}
	}

	for _, attr := range g.attributes {
		for name, prop := range g.attributeMapping(attr, lang, phonetic) {
			properties[name] = prop
		}
	}

	// Structural fields present on every document.
	properties["unique"] = map[string]any{"type": "keyword"}
	properties["id"] = map[string]any{"type": "long"}
	properties["store_id"] = map[string]any{"type": "integer"}
	properties["in_stock"] = map[string]any{"type": "boolean"}
	properties["indexed_attributes"] = map[string]any{"type": "keyword"}
	properties["category"] = map[string]any{
		"type": "nested",
		"properties": map[string]any{
			"category_id": map[string]any{"type": "long"},
			"category_name": g.stringMapping(lang, phonetic, fieldFlags{
				sortable: true, fuzzy: true, facet: true, autocomplete: true, searchable: true,
			}),
			"position":   map[string]any{"type": "long"},
			"is_virtual": map[string]any{"type": "boolean"},
		},
	}
	properties["price"] = map[string]any{
		"type": "nested",
		"properties": map[string]any{
			"price":             map[string]any{"type": "double"},
			"original_price":    map[string]any{"type": "double"},
			"is_discount":       map[string]any{"type": "boolean"},
			"customer_group_id": map[string]any{"type": "integer"},
		},
	}

	for _, provider := range g.providers {
		for name, prop := range provider.MappingProperties() {
			properties[name] = prop
		}
	}

	return Mapping{"properties": properties}
}

// attributeMapping derives the field(s) of one attribute: the raw value
// field plus, for option-backed attributes, the parallel options_<code>
// label field.
func (g *Generator) attributeMapping(attr models.Attribute, lang string, phonetic bool) map[string]any {
	if !attr.CanIndex() {
		return nil
	}

	out := map[string]any{}
	esType := AttributeType(attr)

	switch {
	case esType == "text" && attr.BackendModel == "" && attr.FrontendInput != models.InputMediaImage:
		// Free-form text without a fixed source gets the full sub-field
		// fan-out; source-backed text keeps the plain analyzed field and
		// fans out on its options_ variant instead.
		if !attr.UsesSource() && (attr.BackendType == models.BackendVarchar || attr.BackendType == models.BackendText) {
			out[attr.Code] = g.stringMapping(lang, phonetic, fieldFlags{
				sortable:     attr.Sortable,
				fuzzy:        attr.IsFuzzy(),
				facet:        attr.IsFacet(),
				autocomplete: attr.IsAutocomplete(),
				searchable:   attr.IsSearched(),
			})
		} else {
			out[attr.Code] = map[string]any{"type": "text", "analyzer": AnalyzerName(lang)}
		}
	case esType == "date":
		out[attr.Code] = map[string]any{"type": "date", "format": dateFormats}
	default:
		out[attr.Code] = map[string]any{"type": esType}
	}

	if attr.UsesSource() {
		out["options_"+attr.Code] = g.stringMapping(lang, phonetic, fieldFlags{
			sortable:     attr.Sortable,
			fuzzy:        attr.IsFuzzy(),
			facet:        attr.IsFacet(),
			autocomplete: attr.IsAutocomplete(),
			searchable:   attr.IsSearched(),
		})
	}

	return out
}

type fieldFlags struct {
	sortable     bool
	fuzzy        bool
	facet        bool
	autocomplete bool
	searchable   bool
}

// stringMapping fans a text field out into its conditional sub-fields and
// copy_to targets.
func (g *Generator) stringMapping(lang string, phonetic bool, flags fieldFlags) map[string]any {
	subFields := map[string]any{
		"whitespace": map[string]any{"type": "text", "analyzer": "whitespace"},
	}
	var copyTo []string

	if flags.facet {
		// Unanalyzed variant for filtering and facet counts.
		subFields["untouched"] = map[string]any{"type": "keyword"}
	}
	if flags.autocomplete || flags.facet {
		subFields["edge_ngram_front"] = map[string]any{"type": "text", "analyzer": "edge_ngram_front"}
	}
	if flags.autocomplete {
		copyTo = append(copyTo, "autocomplete")
	}
	if flags.sortable {
		subFields["sortable"] = map[string]any{"type": "text", "analyzer": "sortable"}
	}
	if flags.fuzzy {
		copyTo = append(copyTo, "spelling")
	}
	if phonetic {
		subFields["phonetic"] = map[string]any{"type": "text", "analyzer": PhoneticAnalyzerName(lang)}
	}
	if flags.searchable {
		copyTo = append(copyTo, "search")
	}

	field := map[string]any{
		"type":     "text",
		"analyzer": AnalyzerName(lang),
		"fields":   subFields,
	}
	if len(copyTo) > 0 {
		field["copy_to"] = copyTo
	}
	return field
}

// AttributeType infers the engine core type of an attribute from its backend
// storage and source.
func AttributeType(attr models.Attribute) string {
	switch {
	// backend storage wins over the source: int-backed boolean flags index
	// as integers, matching how their values are stored and coerced
	case attr.BackendType == models.BackendInt || attr.FrontendClass == "validate-digits":
		return "integer"
	case attr.BackendType == models.BackendDecimal || attr.FrontendClass == "validate-number":
		return "double"
	case attr.IsBooleanSource():
		return "boolean"
	case attr.BackendType == models.BackendDatetime:
		return "date"
	case attr.UsesSource() && attr.SourceModel == "":
		// Select inputs without an explicit source store raw option ids.
		return "integer"
	default:
		return "text"
	}
}

// FieldName resolves the engine field to use for one purpose. For search,
// sort and facet uses the options_ label variant is preferred when it
// exists. A non-text field requested for full-text search resolves to ""
// ("field unavailable for this use", not an error). Text fields get the
// untouched sub-field for filter/facet and the sortable sub-field for sort
// unless the caller forces an analyzer.
func (m Mapping) FieldName(field, use, analyzer string) string {
	properties, ok := m["properties"].(map[string]any)
	if !ok {
		return field
	}

	if use == UseSearch || use == UseSort || use == UseFacet {
		if _, hasOptions := properties["options_"+field]; hasOptions {
			field = "options_" + field
		}
	}

	prop, ok := properties[field].(map[string]any)
	if !ok {
		return field
	}
	fieldType, _ := prop["type"].(string)

	if use == UseSearch && fieldType != "text" && fieldType != "keyword" {
		return ""
	}

	if fieldType == "text" {
		if analyzer == "" {
			switch use {
			case UseFilter, UseFacet:
				analyzer = "untouched"
			case UseSort:
				analyzer = "sortable"
			}
		}
		if analyzer != "" {
			return field + "." + analyzer
		}
	}
	return field
}

// defaultAnalyzer returns the sub-field analyzer implied by a search type.
func defaultAnalyzer(searchType string) string {
	switch searchType {
	case SearchFuzzy:
		return "whitespace"
	case SearchPhonetic:
		return "phonetic"
	case SearchAutocomplete:
		return "edge_ngram_front"
	}
	return ""
}

// defaultSearchField returns the composite field queried for a search type.
func defaultSearchField(searchType string) string {
	switch searchType {
	case SearchFuzzy, SearchPhonetic:
		return "spelling"
	case SearchAutocomplete:
		return "autocomplete"
	}
	return "search"
}

// SearchFields lists the weighted "field^weight" entries queried for one
// search type, the composite default field first. Attributes with weight 1
// are already covered by the composite field and skipped.
func (g *Generator) SearchFields(sc scope.Scope, searchType, analyzer string) []string {
	if searchType == "" {
		searchType = SearchNormal
	}
	if analyzer == "" {
		analyzer = defaultAnalyzer(searchType)
	}

	mapping := g.Mapping(sc)

	defaultField := defaultSearchField(searchType)
	if analyzer != "" {
		defaultField = defaultField + "." + analyzer
	}
	fields := []string{defaultField}

	for _, attr := range g.attributes {
		if !g.usedForSearchType(attr, searchType) {
			continue
		}
		field := mapping.FieldName(attr.Code, UseSearch, analyzer)
		if field == "" || attr.SearchWeight <= 1 {
			continue
		}
		fields = append(fields, fmt.Sprintf("%s^%d", field, attr.SearchWeight))
	}

	if g.settings.SearchCategoryName && g.categoryNameUsable(searchType) {
		field := mapping.FieldName("category_name", UseSearch, analyzer)
		if field != "" {
			fields = append(fields, fmt.Sprintf("category.%s^%d", field, g.settings.CategoryNameWeight))
		}
	}

	return fields
}

func (g *Generator) usedForSearchType(attr models.Attribute, searchType string) bool {
	searchable := attr.Searchable || attr.Code == "name"
	switch searchType {
	case SearchFuzzy, SearchPhonetic:
		return searchable && attr.FuzzinessEnabled
	case SearchAutocomplete:
		return searchable && attr.UsedInAutocomplete
	}
	return searchable
}

func (g *Generator) categoryNameUsable(searchType string) bool {
	switch searchType {
	case SearchFuzzy, SearchPhonetic:
		return g.settings.CategoryNameFuzzy
	case SearchAutocomplete:
		return g.settings.CategoryNameAutocomp
	}
	return true
}

// metadataVersion stamps an attribute snapshot. Any change to codes, types
// or indexing flags yields a new version and therefore new cache keys.
func metadataVersion(attributes []models.Attribute) string {
	lines := make([]string, 0, len(attributes))
	for _, a := range attributes {
		lines = append(lines, fmt.Sprintf("%d:%s:%s:%s:%s:%t:%t:%t:%t:%t:%t:%d",
			a.ID, a.Code, a.BackendType, a.SourceModel, a.FrontendInput,
			a.Searchable, a.Filterable, a.Sortable, a.FuzzinessEnabled,
			a.UsedInAutocomplete, a.Configurable, a.SearchWeight))
	}
	sort.Strings(lines)

	h := fnv.New64a()
	for _, line := range lines {
		fmt.Fprintln(h, line)
	}
	return fmt.Sprintf("%x", h.Sum64())
}
