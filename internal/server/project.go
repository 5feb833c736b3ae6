package server

import (
	"context"
	"encoding/json"

	"github.com/hanpama/restql/internal/resolver"
	"github.com/hanpama/restql/internal/schema"
	"github.com/hanpama/restql/internal/selection"
	"github.com/hanpama/restql/internal/store"
)

// project renders one record as a response object, honoring the resource's
// declared field restrictions and the resolved selection. Nested records
// attached by the load planner are rendered in place; nested fields that are
// still bare keys are fetched only when the selection descends into them,
// otherwise the key itself is rendered.
func (h *Handler) project(ctx context.Context, res Resource, et *schema.EntityType, rec store.Record, tree selection.Tree, rctx resolver.Context) (map[string]any, error) {
	fields := et.FieldNames()
	if rctx.Kind == resolver.ContextRoot || rctx.Kind == resolver.ContextRootListItem {
		var err error
		fields, err = resolver.Restrict(fields, res.Allowed, res.Excluded)
		if err != nil {
			return nil, err
		}
	}
	resolved, err := resolver.Resolve(et, fields, tree, rctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(resolved.Fields))
	for _, name := range resolved.Fields {
		fd := et.Field(name)
		switch fd.Kind {
		case schema.KindSingle:
			v, err := h.projectSingle(ctx, fd, rec[name], resolved.Scopes, name)
			if err != nil {
				return nil, err
			}
			out[name] = v
		case schema.KindCollection:
			v, err := h.projectCollection(ctx, et, fd, rec, resolved.Scopes, name)
			if err != nil {
				return nil, err
			}
			out[name] = v
		default:
			out[name] = rec[name]
		}
	}
	return out, nil
}

func (h *Handler) projectSingle(ctx context.Context, fd *schema.Field, value any, scopes resolver.Scope, name string) (any, error) {
	if value == nil {
		return nil, nil
	}
	related := h.reg.Type(fd.Related)
	if child, ok := value.(store.Record); ok {
		return h.project(ctx, Resource{}, related, child, nil, resolver.Nested(scopes, name))
	}
	key, ok := asKey(value)
	if !ok {
		return value, nil
	}
	// Bare key: fetch only when the selection descends into this field.
	if _, descends := scopes[name]; !descends {
		return key, nil
	}
	child, err := h.store.Get(ctx, related.Name, key)
	if err != nil {
		return nil, err
	}
	return h.project(ctx, Resource{}, related, child, nil, resolver.Nested(scopes, name))
}

func (h *Handler) projectCollection(ctx context.Context, et *schema.EntityType, fd *schema.Field, rec store.Record, scopes resolver.Scope, name string) (any, error) {
	related := h.reg.Type(fd.Related)
	children, ok := rec[name].([]store.Record)
	if !ok {
		// Not prefetched: walk the relation handle.
		key, keyed := asKey(rec[et.Key()])
		if !keyed {
			return []any{}, nil
		}
		rel, err := h.store.Relation(ctx, et.Name, key, name)
		if err != nil {
			return nil, err
		}
		keys, err := rel.Keys(ctx)
		if err != nil {
			return nil, err
		}
		children = make([]store.Record, 0, len(keys))
		for _, k := range keys {
			child, err := rel.Get(ctx, k)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
	}
	out := make([]any, 0, len(children))
	for _, child := range children {
		obj, err := h.project(ctx, Resource{}, related, child, nil, resolver.NestedListItem(scopes, name))
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func asKey(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
