package resolver

// ContextKind is the closed set of resolution positions an entity can be
// resolved in. The position decides where the selection tree comes from.
type ContextKind string

const (
	// ContextRoot is the outermost entity of a response.
	ContextRoot ContextKind = "ROOT"
	// ContextRootListItem is an element of an outermost list.
	ContextRootListItem ContextKind = "ROOT_LIST_ITEM"
	// ContextNested is a field nested directly under a resolved entity.
	ContextNested ContextKind = "NESTED"
	// ContextNestedListItem is an item of a nested collection field.
	ContextNestedListItem ContextKind = "NESTED_LIST_ITEM"
	// ContextUnknown is any unrecognized parent chain. Resolution under it
	// fails open: no filtering at all.
	ContextUnknown ContextKind = "UNKNOWN"
)

// Context describes the position of the entity being resolved. For nested
// kinds, Parent is the scope recorded by the parent's resolution and Field
// is this entity's field name on the parent.
type Context struct {
	Kind   ContextKind
	Parent Scope
	Field  string
}

// Root is the context for a top-level single entity.
func Root() Context { return Context{Kind: ContextRoot} }

// RootListItem is the context for elements of a top-level list.
func RootListItem() Context { return Context{Kind: ContextRootListItem} }

// Nested is the context for a single nested field under a resolved parent.
func Nested(parent Scope, field string) Context {
	return Context{Kind: ContextNested, Parent: parent, Field: field}
}

// NestedListItem is the context for items of a nested collection field.
func NestedListItem(parent Scope, field string) Context {
	return Context{Kind: ContextNestedListItem, Parent: parent, Field: field}
}

// Unknown is the fail-open context.
func Unknown() Context { return Context{Kind: ContextUnknown} }
