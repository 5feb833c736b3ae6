// Package loadplan turns a selection tree into relation-loading directives
// using an entity type's declared load mapping, then applies a computed
// plan to a result set so nested resolution never fetches per row.
package loadplan

import (
	"sort"

	"github.com/hanpama/restql/internal/schema"
	"github.com/hanpama/restql/internal/selection"
)

// Directive instructs the store to load one relation eagerly alongside the
// base query.
type Directive struct {
	Kind schema.LoadKind
	Path string
}

// Plan is the ordered set of directives for one request.
type Plan struct {
	Directives []Directive
}

// Build computes the load plan for a selection tree. Only presence and
// recursive children of a selector matter here, not whether it was written
// flat or nested.
func Build(tree selection.Tree, mapping schema.LoadMapping) Plan {
	var p Plan
	build(tree, mapping, &p)
	return p
}

func build(tree selection.Tree, mapping schema.LoadMapping, p *Plan) {
	for _, node := range tree {
		rule, ok := mapping[node.Name]
		if !ok {
			continue
		}
		if rule.Kind != schema.LoadNone {
			p.Directives = append(p.Directives, Directive{Kind: rule.Kind, Path: rule.Path})
		}
		if rule.Nested == nil {
			continue
		}
		if node.IsNested() {
			// The request narrows the relation further; only keep the loads
			// it actually selected.
			build(node.Children, rule.Nested, p)
		} else {
			// A terminal selector over a mapped relation: no narrowing will
			// occur below this point, so every declared load backing the
			// relation must be provided.
			emitAll(rule.Nested, p)
		}
	}
}

// emitAll appends every directive found anywhere within the mapping, in
// name order for determinism.
func emitAll(mapping schema.LoadMapping, p *Plan) {
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rule := mapping[name]
		if rule.Kind != schema.LoadNone {
			p.Directives = append(p.Directives, Directive{Kind: rule.Kind, Path: rule.Path})
		}
		if rule.Nested != nil {
			emitAll(rule.Nested, p)
		}
	}
}
