package indexer

// Field is one named value of a Document.
type Field struct {
	Name  string
	Value string
	// Stored fields can be read back from the index.
	Stored bool
	// Indexed fields are searchable.
	Indexed bool
}

// Document is the indexed representation of (part of) an Indexable.
// Several documents may share a PrimaryKey.
type Document struct {
	PrimaryKey string
	Fields     []Field
}

// NewDocument creates an empty document for primaryKey.
func NewDocument(primaryKey string) *Document {
	return &Document{PrimaryKey: primaryKey}
}

// Add appends a field and returns d for chaining.
func (d *Document) Add(name, value string, stored, indexed bool) *Document {
	d.Fields = append(d.Fields, Field{Name: name, Value: value, Stored: stored, Indexed: indexed})
	return d
}

// Get returns the value of the first field called name.
func (d *Document) Get(name string) (string, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}
