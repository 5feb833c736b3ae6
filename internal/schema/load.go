package schema

// LoadKind is the closed set of eager-load directive shapes.
type LoadKind string

const (
	// LoadNone declares a field without any backing relation load. Rules of
	// this kind are declared for completeness and emit nothing.
	LoadNone LoadKind = ""
	// LoadJoin attaches a single related entity in the same fetch.
	LoadJoin LoadKind = "JOIN"
	// LoadPrefetch batch-fetches a related collection alongside the base query.
	LoadPrefetch LoadKind = "PREFETCH"
)

// LoadRule declares how selecting a field translates into relation loads.
// Base is the directive for the field itself; Nested optionally maps deeper
// selector names to their own rules.
type LoadRule struct {
	Kind   LoadKind
	Path   string // relation path understood by the store, "." separated
	Nested LoadMapping
}

// LoadMapping is an entity type's declared field -> load-rule table.
type LoadMapping map[string]LoadRule

// Join is shorthand for a single-valued load rule.
func Join(path string) LoadRule { return LoadRule{Kind: LoadJoin, Path: path} }

// Prefetch is shorthand for a collection load rule.
func Prefetch(path string) LoadRule { return LoadRule{Kind: LoadPrefetch, Path: path} }

// WithNested attaches a sub-mapping for deeper selectors.
func (r LoadRule) WithNested(nested LoadMapping) LoadRule {
	r.Nested = nested
	return r
}
