package store

import (
	"encoding/json"
	"strconv"

	"github.com/Aman-CERP/amanidx/pkg/indexer"
)

// Reserved field names of the native document.
const (
	FieldPrimaryKey = "_pk"
	FieldStored     = "_stored"
)

// Document is the native form of an indexer.Document: a bleve document
// with a unique ID, the primary key as a keyword field, indexed fields as
// analyzed text, and stored fields packed into one stored-only blob.
type Document struct {
	ID         string
	PrimaryKey string
	Fields     map[string]any
}

// Batch is one atomic change to an index.
type Batch struct {
	// Reset drops every document before applying the rest of the batch.
	Reset bool
	// Remove lists primary keys whose documents are dropped.
	Remove []string
	// Add lists documents to index after the removals.
	Add []Document
}

// Empty reports whether applying b would change nothing.
func (b *Batch) Empty() bool {
	return !b.Reset && len(b.Remove) == 0 && len(b.Add) == 0
}

// DocumentID returns the ID of the seq-th document with primaryKey.
func DocumentID(primaryKey string, seq int) string {
	return primaryKey + "#" + strconv.Itoa(seq)
}

// Convert maps doc to its native form. seq distinguishes documents that
// share a primary key.
func Convert(doc *indexer.Document, seq int) Document {
	fields := map[string]any{FieldPrimaryKey: doc.PrimaryKey}

	var stored []indexer.Field
	for _, f := range doc.Fields {
		if f.Stored {
			stored = append(stored, indexer.Field{Name: f.Name, Value: f.Value})
		}
		if !f.Indexed || f.Name == FieldPrimaryKey || f.Name == FieldStored {
			continue
		}
		switch prev := fields[f.Name].(type) {
		case nil:
			fields[f.Name] = f.Value
		case string:
			fields[f.Name] = []string{prev, f.Value}
		case []string:
			fields[f.Name] = append(prev, f.Value)
		}
	}
	if len(stored) > 0 {
		blob, _ := json.Marshal(storedFields(stored))
		fields[FieldStored] = string(blob)
	}

	return Document{
		ID:         DocumentID(doc.PrimaryKey, seq),
		PrimaryKey: doc.PrimaryKey,
		Fields:     fields,
	}
}

type storedField struct {
	Name  string `json:"n"`
	Value string `json:"v"`
}

func storedFields(fields []indexer.Field) []storedField {
	out := make([]storedField, len(fields))
	for i, f := range fields {
		out[i] = storedField{Name: f.Name, Value: f.Value}
	}
	return out
}

// DecodeStored unpacks the stored-field blob of a native document.
func DecodeStored(blob string) ([]indexer.Field, error) {
	var raw []storedField
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return nil, err
	}
	out := make([]indexer.Field, len(raw))
	for i, f := range raw {
		out[i] = indexer.Field{Name: f.Name, Value: f.Value, Stored: true}
	}
	return out, nil
}
