package models

// Composite entity type ids. A composite entity's document inherits
// attribute values from its children.
const (
	TypeSimple       = "simple"
	TypeConfigurable = "configurable"
	TypeGrouped      = "grouped"
	TypeBundle       = "bundle"
)

// IsCompositeType reports whether entities of the given type id are built
// from child entities.
func IsCompositeType(typeID string) bool {
	switch typeID {
	case TypeConfigurable, TypeGrouped, TypeBundle:
		return true
	}
	return false
}

// Entity is one base row of the entity table, fetched per batch page.
type Entity struct {
	ID             int
	TypeID         string
	SKU            string
	AttributeSetID int
	HasOptions     bool
	RequiredOpts   bool
	InStock        bool
}

// RelationRule describes how children of one composite type are linked to
// their parent in the relational source.
type RelationRule struct {
	TypeID      string
	Table       string
	ParentField string
	ChildField  string
	// Extra WHERE fragment, e.g. a link-type filter for grouped products.
	Where string
}

// DefaultRelationRules mirror the link tables of the catalog schema.
var DefaultRelationRules = []RelationRule{
	{TypeID: TypeConfigurable, Table: "catalog_product_super_link", ParentField: "parent_id", ChildField: "product_id"},
	{TypeID: TypeGrouped, Table: "catalog_product_link", ParentField: "product_id", ChildField: "linked_product_id", Where: "link_type_id = 3"},
	{TypeID: TypeBundle, Table: "catalog_product_bundle_selection", ParentField: "parent_product_id", ChildField: "product_id"},
}
