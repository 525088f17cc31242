// Package models holds the catalog domain types shared by the extraction,
// schema and document packages.
package models

// Backend storage types of the EAV model.
const (
	BackendStatic   = "static"
	BackendVarchar  = "varchar"
	BackendInt      = "int"
	BackendDecimal  = "decimal"
	BackendDatetime = "datetime"
	BackendText     = "text"
)

// Source models for attributes backed by a fixed option list.
const (
	SourceBoolean = "boolean"
	SourceTable   = "table"
)

// Frontend input kinds that matter for indexing decisions.
const (
	InputSelect      = "select"
	InputMultiselect = "multiselect"
	InputMediaImage  = "media_image"
)

// Attribute is one EAV attribute's metadata. Loaded once per indexing run
// and cached by id.
type Attribute struct {
	ID            int
	Code          string
	BackendType   string
	BackendTable  string
	BackendModel  string
	FrontendInput string
	FrontendClass string
	SourceModel   string

	Searchable          bool
	Filterable          bool
	FilterableInSearch  bool
	UsedForPromoRules   bool
	Sortable            bool
	FuzzinessEnabled    bool
	UsedInAutocomplete  bool
	ShownInAutocomplete bool
	VisibleInAdvSearch  bool
	Configurable        bool
	SearchWeight        int
}

// UsesSource reports whether the attribute values come from a fixed option
// list rather than free-form storage.
func (a Attribute) UsesSource() bool {
	return a.SourceModel != "" || a.FrontendInput == InputSelect || a.FrontendInput == InputMultiselect
}

// IsBooleanSource reports whether the attribute is a yes/no flag.
func (a Attribute) IsBooleanSource() bool { return a.SourceModel == SourceBoolean }

// IsFacet reports whether the attribute participates in faceting.
func (a Attribute) IsFacet() bool {
	return a.Filterable || a.FilterableInSearch || a.UsedForPromoRules
}

// IsSearched reports whether the attribute feeds the full-text search field.
// A zero weight opts an otherwise searchable attribute out.
func (a Attribute) IsSearched() bool { return a.Searchable && a.SearchWeight > 0 }

// IsFuzzy reports whether the attribute feeds the spelling field.
func (a Attribute) IsFuzzy() bool { return a.FuzzinessEnabled && a.IsSearched() }

// IsAutocomplete reports whether the attribute feeds the autocomplete field.
func (a Attribute) IsAutocomplete() bool { return a.UsedInAutocomplete || a.ShownInAutocomplete }

// authorizedBackendModels are the only custom backend models whose values are
// plain enough to index. Attributes with any other backend model are computed
// by application code and cannot be extracted from the value tables.
var authorizedBackendModels = map[string]struct{}{
	"sku":               {},
	"array":             {},
	"price":             {},
	"time_created":      {},
	"time_updated":      {},
	"startdate":         {},
	"startdate_special": {},
	"datetime":          {},
	"status":            {},
	"visibility":        {},
}

// CanIndex reports whether the attribute's backend storage is supported.
func (a Attribute) CanIndex() bool {
	if a.BackendModel == "" {
		return true
	}
	_, ok := authorizedBackendModels[a.BackendModel]
	return ok
}

// ForbiddenChildCodes are never inherited from child entities into a
// composite parent document.
var ForbiddenChildCodes = map[string]struct{}{
	"visibility":   {},
	"status":       {},
	"price":        {},
	"tax_class_id": {},
}
