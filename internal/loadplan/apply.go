package loadplan

import (
	"context"
	"fmt"
	"strings"

	"github.com/hanpama/restql/internal/schema"
	"github.com/hanpama/restql/internal/store"
)

// Apply executes a plan against loaded records, attaching related entities
// in place: joined singles replace their reference key with the related
// record, prefetched collections appear under the field name as a record
// slice. Nested path segments recurse into already-attached values.
func Apply(ctx context.Context, st store.Store, reg *schema.Registry, et *schema.EntityType, recs []store.Record, plan Plan) error {
	for _, d := range plan.Directives {
		segs := strings.Split(d.Path, ".")
		if err := apply(ctx, st, reg, et, recs, d.Kind, segs); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, st store.Store, reg *schema.Registry, et *schema.EntityType, recs []store.Record, kind schema.LoadKind, segs []string) error {
	if len(segs) == 0 {
		return nil
	}
	field := segs[0]
	fd := et.Field(field)
	if fd == nil || !fd.IsNested() {
		return fmt.Errorf("load path %q: not a relation on %s", field, et.Name)
	}
	related := reg.Type(fd.Related)

	var next []store.Record
	for _, rec := range recs {
		switch fd.Kind {
		case schema.KindSingle:
			child, err := attachSingle(ctx, st, related, rec, field)
			if err != nil {
				return err
			}
			if child != nil {
				next = append(next, child)
			}
		case schema.KindCollection:
			children, err := attachCollection(ctx, st, et, rec, field)
			if err != nil {
				return err
			}
			next = append(next, children...)
		}
	}
	if len(segs) > 1 {
		return apply(ctx, st, reg, related, next, kind, segs[1:])
	}
	return nil
}

func attachSingle(ctx context.Context, st store.Store, related *schema.EntityType, rec store.Record, field string) (store.Record, error) {
	switch v := rec[field].(type) {
	case nil:
		return nil, nil
	case store.Record:
		// Already attached by an earlier directive.
		return v, nil
	default:
		key, ok := asKey(v)
		if !ok {
			return nil, fmt.Errorf("field %q does not hold a reference key", field)
		}
		child, err := st.Get(ctx, related.Name, key)
		if err != nil {
			return nil, err
		}
		rec[field] = child
		return child, nil
	}
}

func attachCollection(ctx context.Context, st store.Store, et *schema.EntityType, rec store.Record, field string) ([]store.Record, error) {
	if attached, ok := rec[field].([]store.Record); ok {
		return attached, nil
	}
	key, ok := asKey(rec[et.Key()])
	if !ok {
		return nil, fmt.Errorf("record of %s has no key", et.Name)
	}
	rel, err := st.Relation(ctx, et.Name, key, field)
	if err != nil {
		return nil, err
	}
	keys, err := rel.Keys(ctx)
	if err != nil {
		return nil, err
	}
	children := make([]store.Record, 0, len(keys))
	for _, k := range keys {
		child, err := rel.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	rec[field] = children
	return children, nil
}

func asKey(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
