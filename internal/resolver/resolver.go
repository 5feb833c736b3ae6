// Package resolver applies a selection tree to an entity type's field set.
// Each resolution returns the visible field subset plus the scope map its
// nested fields consume during their own resolution; scope is threaded
// explicitly by the caller, never stored on entities.
package resolver

import (
	"github.com/hanpama/restql/internal/schema"
	"github.com/hanpama/restql/internal/selection"
)

// Scope maps a nested field's name to the sub-tree that applies to it.
// A resolved entity's scope is consumed by its direct children.
type Scope map[string]selection.Tree

// Result is the outcome of resolving one entity.
type Result struct {
	// Fields is the visible subset of the input field names, in their
	// original relative order.
	Fields []string
	// Scopes holds the sub-tree for every nested field that was selected
	// with its own selection. Nested fields selected without a sub-tree are
	// absent, which renders them unfiltered all the way down.
	Scopes Scope
}

// Resolve computes the visible fields of one entity.
//
// A selection tree is sourced fresh from the request only for the outermost
// entity of a response (ContextRoot) or the elements of an outermost list
// (ContextRootListItem). In every other position the tree comes from the
// parent's scope, keyed by this field's name; tree is ignored there. An
// unrecognized context skips filtering and shows every field, which is a
// deliberate availability-over-strictness default.
func Resolve(et *schema.EntityType, fields []string, tree selection.Tree, rctx Context) (*Result, error) {
	switch rctx.Kind {
	case ContextRoot, ContextRootListItem:
	case ContextNested, ContextNestedListItem:
		tree = rctx.Parent[rctx.Field]
	default:
		return &Result{Fields: fields}, nil
	}
	if tree == nil {
		// Not a filtered resolution: show everything.
		return &Result{Fields: fields}, nil
	}

	known := make(map[string]struct{}, len(fields))
	for _, name := range fields {
		known[name] = struct{}{}
	}

	allowed := make(map[string]struct{}, len(tree))
	scopes := make(Scope)
	for _, node := range tree {
		if _, ok := known[node.Name]; !ok {
			return nil, &FieldNotFoundError{Field: node.Name}
		}
		if node.IsNested() {
			fd := et.Field(node.Name)
			if fd == nil || !fd.IsNested() {
				return nil, &NotNestedError{Field: node.Name}
			}
			scopes[node.Name] = node.Children
		}
		allowed[node.Name] = struct{}{}
	}

	visible := make([]string, 0, len(allowed))
	for _, name := range fields {
		if _, ok := allowed[name]; ok {
			visible = append(visible, name)
		}
	}
	return &Result{Fields: visible, Scopes: scopes}, nil
}

// Restrict applies declared allow/exclude lists before query filtering.
// Exactly one of allowed and excluded may be set. Every listed name must
// exist in fields.
func Restrict(fields []string, allowed, excluded []string) ([]string, error) {
	if allowed != nil && excluded != nil {
		return nil, &ConflictingRestrictionsError{}
	}
	known := make(map[string]struct{}, len(fields))
	for _, name := range fields {
		known[name] = struct{}{}
	}

	if allowed != nil {
		keep := make(map[string]struct{}, len(allowed))
		for _, name := range allowed {
			if _, ok := known[name]; !ok {
				return nil, &FieldNotFoundError{Field: name}
			}
			keep[name] = struct{}{}
		}
		out := make([]string, 0, len(keep))
		for _, name := range fields {
			if _, ok := keep[name]; ok {
				out = append(out, name)
			}
		}
		return out, nil
	}

	if excluded != nil {
		drop := make(map[string]struct{}, len(excluded))
		for _, name := range excluded {
			if _, ok := known[name]; !ok {
				return nil, &FieldNotFoundError{Field: name}
			}
			drop[name] = struct{}{}
		}
		out := make([]string, 0, len(fields))
		for _, name := range fields {
			if _, ok := drop[name]; !ok {
				out = append(out, name)
			}
		}
		return out, nil
	}

	return fields, nil
}
