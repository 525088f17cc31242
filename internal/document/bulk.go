package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BulkBuilder accumulates one NDJSON bulk body: an action line followed by
// an optional source line per operation.
type BulkBuilder struct {
	buf   bytes.Buffer
	index string
	count int
	err   error
}

// NewBulkBuilder starts a bulk body targeting one index or alias.
func NewBulkBuilder(index string) *BulkBuilder {
	return &BulkBuilder{index: index}
}

// Index appends a full document write, replacing any existing version.
func (b *BulkBuilder) Index(doc Document) {
	b.action("index", doc.ID)
	b.line(doc.Fields)
	b.count++
}

// Update appends a partial document merge.
func (b *BulkBuilder) Update(doc Document) {
	b.action("update", doc.ID)
	b.line(map[string]any{"doc": doc.Fields})
	b.count++
}

// Delete appends a document removal.
func (b *BulkBuilder) Delete(id string) {
	b.action("delete", id)
	b.count++
}

// Len returns the number of operations accumulated so far.
func (b *BulkBuilder) Len() int { return b.count }

// Bytes returns the encoded body, or an error if any line failed to encode.
func (b *BulkBuilder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.buf.Bytes(), nil
}

func (b *BulkBuilder) action(op, id string) {
	b.line(map[string]any{
		op: map[string]string{"_index": b.index, "_id": id},
	})
}

func (b *BulkBuilder) line(v any) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("document: encode bulk line: %w", err)
		return
	}
	b.buf.Write(data)
	b.buf.WriteByte('\n')
}
