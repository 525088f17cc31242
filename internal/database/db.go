// Package database provides read-only batched access to the relational
// catalog. Postgres remains the source of truth; the search engine is a
// projection rebuilt from the queries in this package.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"catalog-search-indexer/internal/metrics"
	"catalog-search-indexer/internal/models"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
)

// Operation timeouts. Extraction queries run inside long reindex loops, so
// they get a wider timeout than point lookups.
const (
	readTimeout    = 10 * time.Second
	extractTimeout = 2 * time.Minute
)

type DB struct {
	Conn *sql.DB
}

// Connect opens and verifies a Postgres connection.
func Connect(connStr string) (*DB, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		return nil, err
	}
	slog.Info("postgres connected")
	return &DB{Conn: conn}, nil
}

// Store is one configured store view row.
type Store struct {
	StoreID    int
	WebsiteID  int
	LocaleCode string
}

// ListStores enumerates all active store views, ordered by id so scope
// enumeration is deterministic. Store 0 is the admin store and never indexed.
func (db *DB) ListStores(ctx context.Context) ([]Store, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	rows, err := db.Conn.QueryContext(ctx,
		`SELECT store_id, website_id, locale_code
		 FROM core_store
		 WHERE store_id > 0 AND is_active = 1
		 ORDER BY store_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("database: list stores: %w", err)
	}
	defer rows.Close()

	var stores []Store
	for rows.Next() {
		var s Store
		if err := rows.Scan(&s.StoreID, &s.WebsiteID, &s.LocaleCode); err != nil {
			return nil, fmt.Errorf("database: scan store: %w", err)
		}
		stores = append(stores, s)
	}
	return stores, rows.Err()
}

// ListAttributes loads the metadata of every attribute that participates in
// indexing: searchable, filterable, sortable or promo-rule attributes, plus
// status and visibility which the incremental path always needs.
func (db *DB) ListAttributes(ctx context.Context) ([]models.Attribute, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.DBQueryDuration.WithLabelValues("list_attributes"))
	defer timer.ObserveDuration()

	rows, err := db.Conn.QueryContext(ctx,
		`SELECT a.attribute_id, a.attribute_code, a.backend_type, a.backend_table,
		        COALESCE(a.backend_model, ''), COALESCE(a.frontend_input, ''),
		        COALESCE(a.frontend_class, ''), COALESCE(a.source_model, ''),
		        c.is_searchable, c.is_filterable, c.is_filterable_in_search,
		        c.is_used_for_promo_rules, c.used_for_sort_by,
		        c.is_fuzziness_enabled, c.is_used_in_autocomplete,
		        c.is_displayed_in_autocomplete, c.is_visible_in_advanced_search,
		        c.is_configurable, c.search_weight
		 FROM eav_attribute a
		 JOIN catalog_eav_attribute c ON c.attribute_id = a.attribute_id
		 WHERE c.is_searchable = 1
		    OR c.is_visible_in_advanced_search = 1
		    OR c.is_filterable > 0
		    OR c.is_filterable_in_search = 1
		    OR c.used_for_sort_by = 1
		    OR c.is_used_for_promo_rules = 1
		    OR a.attribute_code IN ('status', 'visibility')
		 ORDER BY a.attribute_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("database: list attributes: %w", err)
	}
	defer rows.Close()

	var attrs []models.Attribute
	for rows.Next() {
		var a models.Attribute
		if err := rows.Scan(
			&a.ID, &a.Code, &a.BackendType, &a.BackendTable,
			&a.BackendModel, &a.FrontendInput, &a.FrontendClass, &a.SourceModel,
			&a.Searchable, &a.Filterable, &a.FilterableInSearch,
			&a.UsedForPromoRules, &a.Sortable,
			&a.FuzzinessEnabled, &a.UsedInAutocomplete,
			&a.ShownInAutocomplete, &a.VisibleInAdvSearch,
			&a.Configurable, &a.SearchWeight,
		); err != nil {
			return nil, fmt.Errorf("database: scan attribute: %w", err)
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

// EntityPage fetches one page of indexable entities for a website, ordered by
// entity id ascending so the caller can cursor forward from the last seen id.
// A nil ids filter means "all entities". An empty result ends the cursor.
func (db *DB) EntityPage(ctx context.Context, websiteID int, ids []int, lastID, limit int) ([]models.Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.DBQueryDuration.WithLabelValues("entity_page"))
	defer timer.ObserveDuration()

	query := `SELECT e.entity_id, e.type_id, e.sku, e.attribute_set_id,
	                 e.has_options, e.required_options,
	                 COALESCE(s.stock_status, 0) AS in_stock
	          FROM catalog_product_entity e
	          JOIN catalog_product_website w
	            ON w.product_id = e.entity_id AND w.website_id = $1
	          LEFT JOIN cataloginventory_stock_status s
	            ON s.product_id = e.entity_id AND s.website_id = $1
	          WHERE e.entity_id > $2`
	args := []any{websiteID, lastID, limit}
	if ids != nil {
		query += ` AND e.entity_id = ANY($4)`
		args = append(args, int64Array(ids))
	}
	query += ` ORDER BY e.entity_id LIMIT $3`

	rows, err := db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("database: entity page: %w", err)
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		var (
			e          models.Entity
			hasOptions int
			required   int
			inStock    int
		)
		if err := rows.Scan(&e.ID, &e.TypeID, &e.SKU, &e.AttributeSetID, &hasOptions, &required, &inStock); err != nil {
			return nil, fmt.Errorf("database: scan entity: %w", err)
		}
		e.HasOptions = hasOptions != 0
		e.RequiredOpts = required != 0
		e.InStock = inStock != 0
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// AttributeValues resolves values for (entity, attribute) pairs out of one
// backend value table, preferring the store-scoped row over the store-0
// default. NULL values are excluded by the COALESCE+filter so a deleted
// override falls back to the default row.
// Result is entity id -> attribute id -> raw value.
func (db *DB) AttributeValues(ctx context.Context, table string, storeID int, attributeIDs, entityIDs []int) (map[int]map[int]string, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.DBQueryDuration.WithLabelValues("attribute_values"))
	defer timer.ObserveDuration()

	query := fmt.Sprintf(
		`SELECT d.entity_id, d.attribute_id, COALESCE(s.value::text, d.value::text) AS value
		 FROM %[1]s d
		 LEFT JOIN %[1]s s
		   ON s.entity_id = d.entity_id
		  AND s.attribute_id = d.attribute_id
		  AND s.store_id = $1
		 WHERE d.store_id = 0
		   AND d.attribute_id = ANY($2)
		   AND d.entity_id = ANY($3)`, pq.QuoteIdentifier(table))

	rows, err := db.Conn.QueryContext(ctx, query, storeID, int64Array(attributeIDs), int64Array(entityIDs))
	if err != nil {
		return nil, fmt.Errorf("database: attribute values from %s: %w", table, err)
	}
	defer rows.Close()

	result := make(map[int]map[int]string)
	for rows.Next() {
		var (
			entityID, attributeID int
			value                 sql.NullString
		)
		if err := rows.Scan(&entityID, &attributeID, &value); err != nil {
			return nil, fmt.Errorf("database: scan attribute value: %w", err)
		}
		if !value.Valid {
			continue
		}
		if result[entityID] == nil {
			result[entityID] = make(map[int]string)
		}
		result[entityID][attributeID] = value.String
	}
	return result, rows.Err()
}

// OptionLabels loads every option label of an attribute for a store, store-0
// defaults overlaid by store-specific translations. Keys are the raw option
// id as stored in the value tables.
func (db *DB) OptionLabels(ctx context.Context, attributeID, storeID int) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.DBQueryDuration.WithLabelValues("option_labels"))
	defer timer.ObserveDuration()

	rows, err := db.Conn.QueryContext(ctx,
		`SELECT o.option_id, v.store_id, v.value
		 FROM eav_attribute_option o
		 JOIN eav_attribute_option_value v ON v.option_id = o.option_id
		 WHERE o.attribute_id = $1 AND v.store_id IN (0, $2)
		 ORDER BY v.store_id`,
		attributeID, storeID,
	)
	if err != nil {
		return nil, fmt.Errorf("database: option labels: %w", err)
	}
	defer rows.Close()

	labels := make(map[string]string)
	for rows.Next() {
		var (
			optionID int
			rowStore int
			label    string
		)
		if err := rows.Scan(&optionID, &rowStore, &label); err != nil {
			return nil, fmt.Errorf("database: scan option label: %w", err)
		}
		// store rows come after store-0 rows, so overrides win
		labels[fmt.Sprintf("%d", optionID)] = label
	}
	return labels, rows.Err()
}

// BooleanLabel returns the store label of a yes/no attribute, used as the
// option text of its truthy value.
func (db *DB) BooleanLabel(ctx context.Context, attributeID, storeID int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var label string
	err := db.Conn.QueryRowContext(ctx,
		`SELECT COALESCE(
		   (SELECT value FROM eav_attribute_label WHERE attribute_id = $1 AND store_id = $2),
		   (SELECT frontend_label FROM eav_attribute WHERE attribute_id = $1)
		 )`,
		attributeID, storeID,
	).Scan(&label)
	if err != nil {
		return "", fmt.Errorf("database: boolean label: %w", err)
	}
	return label, nil
}

// ChildrenIDs resolves child entity ids for composite parents using one
// relation rule. Result is parent id -> child ids.
func (db *DB) ChildrenIDs(ctx context.Context, rule models.RelationRule, parentIDs []int) (map[int][]int, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.DBQueryDuration.WithLabelValues("children_ids"))
	defer timer.ObserveDuration()

	query := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE %s = ANY($1)`,
		pq.QuoteIdentifier(rule.ParentField), pq.QuoteIdentifier(rule.ChildField),
		pq.QuoteIdentifier(rule.Table), pq.QuoteIdentifier(rule.ParentField))
	if rule.Where != "" {
		query += " AND " + rule.Where
	}

	rows, err := db.Conn.QueryContext(ctx, query, int64Array(parentIDs))
	if err != nil {
		return nil, fmt.Errorf("database: children ids from %s: %w", rule.Table, err)
	}
	defer rows.Close()

	children := make(map[int][]int)
	for rows.Next() {
		var parentID, childID int
		if err := rows.Scan(&parentID, &childID); err != nil {
			return nil, fmt.Errorf("database: scan relation: %w", err)
		}
		children[parentID] = append(children[parentID], childID)
	}
	return children, rows.Err()
}

// ParentIDs resolves composite parents referencing any of the given children,
// across every relation rule. Used by the dispatcher to propagate a child
// change to its parents.
func (db *DB) ParentIDs(ctx context.Context, childIDs []int) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	seen := make(map[int]struct{})
	var parents []int
	for _, rule := range models.DefaultRelationRules {
		query := fmt.Sprintf(`SELECT DISTINCT %s FROM %s WHERE %s = ANY($1)`,
			pq.QuoteIdentifier(rule.ParentField), pq.QuoteIdentifier(rule.Table),
			pq.QuoteIdentifier(rule.ChildField))
		if rule.Where != "" {
			query += " AND " + rule.Where
		}
		rows, err := db.Conn.QueryContext(ctx, query, int64Array(childIDs))
		if err != nil {
			return nil, fmt.Errorf("database: parent ids from %s: %w", rule.Table, err)
		}
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("database: scan parent id: %w", err)
			}
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				parents = append(parents, id)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return parents, nil
}

// EntityTypeIDs returns the type id of each given entity. Entities missing
// from the result no longer exist.
func (db *DB) EntityTypeIDs(ctx context.Context, entityIDs []int) (map[int]string, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	rows, err := db.Conn.QueryContext(ctx,
		`SELECT entity_id, type_id FROM catalog_product_entity WHERE entity_id = ANY($1)`,
		int64Array(entityIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("database: entity type ids: %w", err)
	}
	defer rows.Close()

	types := make(map[int]string)
	for rows.Next() {
		var (
			id     int
			typeID string
		)
		if err := rows.Scan(&id, &typeID); err != nil {
			return nil, fmt.Errorf("database: scan type id: %w", err)
		}
		types[id] = typeID
	}
	return types, rows.Err()
}

// CategoryRow is one category membership of a product in a store.
type CategoryRow struct {
	CategoryID int
	Name       string
	Position   int
	IsVirtual  bool
}

// CategoryMemberships returns category rows per product for a store.
func (db *DB) CategoryMemberships(ctx context.Context, storeID int, entityIDs []int) (map[int][]CategoryRow, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.DBQueryDuration.WithLabelValues("category_memberships"))
	defer timer.ObserveDuration()

	rows, err := db.Conn.QueryContext(ctx,
		`SELECT i.product_id, i.category_id, COALESCE(c.name, ''), i.position, i.is_virtual
		 FROM catalog_category_product_index i
		 LEFT JOIN catalog_category_flat c
		   ON c.entity_id = i.category_id AND c.store_id = i.store_id
		 WHERE i.store_id = $1 AND i.product_id = ANY($2)`,
		storeID, int64Array(entityIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("database: category memberships: %w", err)
	}
	defer rows.Close()

	result := make(map[int][]CategoryRow)
	for rows.Next() {
		var (
			productID int
			row       CategoryRow
			isVirtual int
		)
		if err := rows.Scan(&productID, &row.CategoryID, &row.Name, &row.Position, &isVirtual); err != nil {
			return nil, fmt.Errorf("database: scan category row: %w", err)
		}
		row.IsVirtual = isVirtual != 0
		result[productID] = append(result[productID], row)
	}
	return result, rows.Err()
}

// PriceRow is one price tier of a product for a customer group.
type PriceRow struct {
	CustomerGroupID int
	Price           float64
	OriginalPrice   float64
}

// PriceTiers returns final/original prices per product and customer group
// for a website.
func (db *DB) PriceTiers(ctx context.Context, websiteID int, entityIDs []int) (map[int][]PriceRow, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.DBQueryDuration.WithLabelValues("price_tiers"))
	defer timer.ObserveDuration()

	rows, err := db.Conn.QueryContext(ctx,
		`SELECT entity_id, customer_group_id, final_price, price
		 FROM catalog_product_index_price
		 WHERE website_id = $1 AND entity_id = ANY($2)`,
		websiteID, int64Array(entityIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("database: price tiers: %w", err)
	}
	defer rows.Close()

	result := make(map[int][]PriceRow)
	for rows.Next() {
		var (
			entityID int
			row      PriceRow
		)
		if err := rows.Scan(&entityID, &row.CustomerGroupID, &row.Price, &row.OriginalPrice); err != nil {
			return nil, fmt.Errorf("database: scan price row: %w", err)
		}
		result[entityID] = append(result[entityID], row)
	}
	return result, rows.Err()
}

// PositionRow is one custom product position inside a virtual category.
type PositionRow struct {
	CategoryID int
	Position   int
}

// VirtualCategoryPositions returns custom product positions per product for
// a store.
func (db *DB) VirtualCategoryPositions(ctx context.Context, storeID int, entityIDs []int) (map[int][]PositionRow, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	rows, err := db.Conn.QueryContext(ctx,
		`SELECT product_id, category_id, position
		 FROM virtual_category_product_position
		 WHERE store_id = $1 AND product_id = ANY($2)`,
		storeID, int64Array(entityIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("database: virtual category positions: %w", err)
	}
	defer rows.Close()

	result := make(map[int][]PositionRow)
	for rows.Next() {
		var (
			productID int
			row       PositionRow
		)
		if err := rows.Scan(&productID, &row.CategoryID, &row.Position); err != nil {
			return nil, fmt.Errorf("database: scan position row: %w", err)
		}
		result[productID] = append(result[productID], row)
	}
	return result, rows.Err()
}

// SynonymGroups exports the synonym list, one comma-joined group per entry,
// in the format the synonym token filter consumes.
func (db *DB) SynonymGroups(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	rows, err := db.Conn.QueryContext(ctx, `SELECT synonyms FROM search_synonym ORDER BY synonym_id`)
	if err != nil {
		return nil, fmt.Errorf("database: synonym groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var group string
		if err := rows.Scan(&group); err != nil {
			return nil, fmt.Errorf("database: scan synonym group: %w", err)
		}
		if group != "" {
			groups = append(groups, group)
		}
	}
	return groups, rows.Err()
}

func int64Array(ids []int) pq.Int64Array {
	arr := make(pq.Int64Array, len(ids))
	for i, id := range ids {
		arr[i] = int64(id)
	}
	return arr
}
