package schema

// EntityType is a named record schema. It owns an ordered set of field
// descriptors and is immutable once registered.
type EntityType struct {
	Name        string
	KeyField    string   // primary key field, "id" when empty
	Fields      []*Field // declaration order is the projection order
	LoadMapping LoadMapping

	index map[string]int
}

// Field describes one field of an entity type.
type Field struct {
	Name string
	Kind FieldKind

	// Set for nested kinds only.
	Related     string // related entity type name
	Write       WriteMode
	Cardinality Cardinality

	// ForeignKey names the field on the related type that holds the owner's
	// key. Required for has-many relations.
	ForeignKey string
}

// FieldKind is the closed set of field shapes. Classification happens once
// at registration time, never by inspecting live values.
type FieldKind string

const (
	KindFlat       FieldKind = "FLAT"
	KindSingle     FieldKind = "NESTED_SINGLE"
	KindCollection FieldKind = "NESTED_COLLECTION"
)

// WriteMode determines how a nested field participates in mutation payloads.
type WriteMode string

const (
	WriteNone    WriteMode = "NOT_WRITABLE"
	WriteReplace WriteMode = "REPLACEABLE"   // settable by reference only
	WriteDeep    WriteMode = "DEEP_WRITABLE" // sub-entity created/updated through the parent
)

// Cardinality determines the write semantics of a nested relation.
type Cardinality string

const (
	BelongsTo  Cardinality = "BELONGS_TO"
	HasMany    Cardinality = "HAS_MANY"
	ManyToMany Cardinality = "MANY_TO_MANY"
)

// IsNested reports whether the field refers to a related entity.
func (f *Field) IsNested() bool {
	return f.Kind == KindSingle || f.Kind == KindCollection
}

// Field returns the descriptor for name, or nil.
func (t *EntityType) Field(name string) *Field {
	if i, ok := t.index[name]; ok {
		return t.Fields[i]
	}
	return nil
}

// FieldNames returns every field name in declaration order.
func (t *EntityType) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// Key returns the primary key field name.
func (t *EntityType) Key() string {
	if t.KeyField == "" {
		return "id"
	}
	return t.KeyField
}
