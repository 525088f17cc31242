package pipeline

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-search-indexer/internal/database"
	"catalog-search-indexer/internal/models"
)

func TestNormalizeValueScalarCoercion(t *testing.T) {
	assert.Equal(t, 42, normalizeValue(models.Attribute{BackendType: models.BackendInt}, "42"))
	assert.Equal(t, 19.99, normalizeValue(models.Attribute{BackendType: models.BackendDecimal}, "19.99"))
	assert.Equal(t, "blue", normalizeValue(models.Attribute{BackendType: models.BackendVarchar}, "blue"))

	// unparseable numerics fall back to the raw string
	assert.Equal(t, "n/a", normalizeValue(models.Attribute{BackendType: models.BackendInt}, "n/a"))
}

func TestNormalizeValueZeroDatetimeDropped(t *testing.T) {
	attr := models.Attribute{BackendType: models.BackendDatetime}
	assert.Nil(t, normalizeValue(attr, "0000-00-00 00:00:00"))
	assert.Equal(t, "2024-03-01 10:00:00", normalizeValue(attr, "2024-03-01 10:00:00"))
}

func TestNormalizeValueMultiselect(t *testing.T) {
	attr := models.Attribute{
		BackendType:   models.BackendVarchar,
		FrontendInput: models.InputMultiselect,
	}

	assert.Equal(t, []any{"10", "11"}, normalizeValue(attr, "10,11"))

	// empties and duplicates dropped
	assert.Equal(t, []any{"10", "11"}, normalizeValue(attr, "10,,11,10"))

	// single survivor collapses to a scalar
	assert.Equal(t, "10", normalizeValue(attr, "10,10,"))
	assert.Nil(t, normalizeValue(attr, ","))
}

func TestNormalizeValueMultiselectIntBackend(t *testing.T) {
	attr := models.Attribute{
		BackendType:   models.BackendInt,
		FrontendInput: models.InputMultiselect,
	}
	assert.Equal(t, []any{10, 11}, normalizeValue(attr, "10,11"))
}

func TestNormalizeValueBooleanSourceAgreesWithMapping(t *testing.T) {
	// int storage keeps ints, matching the integer field mapping
	intFlag := models.Attribute{BackendType: models.BackendInt, SourceModel: models.SourceBoolean}
	assert.Equal(t, 1, normalizeValue(intFlag, "1"))

	// non-int storage maps as a boolean field, so values become real bools
	varcharFlag := models.Attribute{BackendType: models.BackendVarchar, SourceModel: models.SourceBoolean}
	assert.Equal(t, true, normalizeValue(varcharFlag, "1"))
	assert.Equal(t, false, normalizeValue(varcharFlag, "0"))
}

func TestMergeValuesUnion(t *testing.T) {
	// scalar + distinct scalar promotes to a list
	assert.Equal(t, []any{"red", "blue"}, mergeValues("red", "blue"))

	// duplicate stays scalar
	assert.Equal(t, "red", mergeValues("red", "red"))

	// nil parent adopts the child value
	assert.Equal(t, "red", mergeValues(nil, "red"))

	// lists union without duplicates
	merged := mergeValues([]any{"s", "m"}, []any{"m", "l"})
	assert.Equal(t, []any{"s", "m", "l"}, merged)

	// mixed numeric identity uses the rendered form
	assert.Equal(t, 10, mergeValues(10, 10))
}

// emptyDriver backs label-cache tests with a connection whose every query
// yields zero rows.
type emptyDriver struct{}

func (emptyDriver) Open(string) (driver.Conn, error) { return emptyConn{}, nil }

type emptyConn struct{}

func (emptyConn) Prepare(string) (driver.Stmt, error) { return emptyStmt{}, nil }
func (emptyConn) Close() error                        { return nil }
func (emptyConn) Begin() (driver.Tx, error)           { return nil, errors.New("no transactions") }

type emptyStmt struct{}

func (emptyStmt) Close() error  { return nil }
func (emptyStmt) NumInput() int { return -1 }

func (emptyStmt) Exec([]driver.Value) (driver.Result, error) {
	return nil, errors.New("no writes")
}

func (emptyStmt) Query([]driver.Value) (driver.Rows, error) { return &emptyRows{}, nil }

type emptyRows struct{}

func (*emptyRows) Columns() []string         { return []string{"option_id", "store_id", "value"} }
func (*emptyRows) Close() error              { return nil }
func (*emptyRows) Next([]driver.Value) error { return io.EOF }

var registerEmptyDriver sync.Once

func emptyDB(t *testing.T) *database.DB {
	t.Helper()
	registerEmptyDriver.Do(func() { sql.Register("pipeline-empty", emptyDriver{}) })
	conn, err := sql.Open("pipeline-empty", "")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &database.DB{Conn: conn}
}

func TestLabelCacheConcurrentAccess(t *testing.T) {
	cache := newLabelCache(emptyDB(t))

	attrs := make([]models.Attribute, 8)
	for i := range attrs {
		attrs[i] = models.Attribute{
			ID:            i + 1,
			SourceModel:   models.SourceTable,
			FrontendInput: models.InputSelect,
		}
	}

	// lazy population from several goroutines, as when the scheduled
	// rebuild and the event consumer share the pipeline
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				for _, attr := range attrs {
					labels, err := cache.get(context.Background(), attr, 1)
					assert.NoError(t, err)
					assert.NotNil(t, labels)
				}
			}
		}()
	}
	wg.Wait()
}

func TestChildAttributeTablesConfigurableRule(t *testing.T) {
	attrs := []models.Attribute{
		{ID: 1, Code: "color", BackendType: models.BackendInt, BackendTable: "catalog_product_entity_int",
			FrontendInput: models.InputSelect, Configurable: true, Searchable: true, SearchWeight: 1},
		{ID: 2, Code: "description", BackendType: models.BackendText, BackendTable: "catalog_product_entity_text",
			Searchable: true, SearchWeight: 1},
	}
	p := New(nil, attrs, 100)

	// configurable parents inherit only configurable select/multiselect axes
	tables := p.childAttributeTables(models.TypeConfigurable)
	assert.Len(t, tables, 1)
	assert.Equal(t, "color", tables["catalog_product_entity_int"][0].Code)

	// other composites inherit everything indexable
	tables = p.childAttributeTables(models.TypeGrouped)
	assert.Len(t, tables, 2)
}
