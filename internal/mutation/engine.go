// Package mutation persists nested entity payloads. A payload is
// partitioned by the relation classifier and each bucket is handled by a
// cardinality-specific routine; all writes of one Create or Update call are
// expected to run inside a transaction owned by the caller.
package mutation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hanpama/restql/internal/schema"
	"github.com/hanpama/restql/internal/store"
)

// Engine executes nested create and update operations against a store.
type Engine struct {
	reg   *schema.Registry
	store store.Store
}

// NewEngine returns an engine bound to the registered schema and store.
func NewEngine(reg *schema.Registry, st store.Store) *Engine {
	return &Engine{reg: reg, store: st}
}

// Create persists a new entity and its relation payloads. Single-valued
// relations are resolved before the base row is created; collection
// relations are written afterwards, many-to-many before has-many, since
// they need the new parent's key.
func (e *Engine) Create(ctx context.Context, et *schema.EntityType, payload store.Record) (store.Record, error) {
	part, err := Classify(et, payload)
	if err != nil {
		return nil, err
	}

	base := part.Plain.Clone()
	for field, sub := range part.SingleWritable {
		related := e.reg.Type(et.Field(field).Related)
		rec, err := e.Create(ctx, related, sub)
		if err != nil {
			return nil, &RelationWriteError{Field: field, Err: err}
		}
		base[field] = rec[related.Key()]
	}
	for field, ref := range part.SingleReplaceable {
		k, err := toKey(ref)
		if err != nil {
			return nil, &MalformedPayloadError{Field: field, Reason: "expected a reference key"}
		}
		base[field] = k
	}

	key, err := e.store.Create(ctx, et.Name, base)
	if err != nil {
		return nil, err
	}

	for field, ops := range part.ManyToMany {
		if err := e.createManyToMany(ctx, et, key, field, ops); err != nil {
			return nil, err
		}
	}
	for field, ops := range part.HasMany {
		if err := e.createHasMany(ctx, et, key, field, ops); err != nil {
			return nil, err
		}
	}

	return e.store.Get(ctx, et.Name, key)
}

// Update applies a partial payload to an existing entity. Relation writes
// run before the remaining plain fields are saved; many-to-many writes run
// before has-many writes.
func (e *Engine) Update(ctx context.Context, et *schema.EntityType, key int64, payload store.Record) (store.Record, error) {
	part, err := Classify(et, payload)
	if err != nil {
		return nil, err
	}
	existing, err := e.store.Get(ctx, et.Name, key)
	if err != nil {
		return nil, err
	}

	for field, ref := range part.SingleReplaceable {
		k, err := toKey(ref)
		if err != nil {
			return nil, &MalformedPayloadError{Field: field, Reason: "expected a reference key"}
		}
		if err := e.store.Update(ctx, et.Name, key, store.Record{field: k}); err != nil {
			return nil, &RelationWriteError{Field: field, Err: err}
		}
	}

	for field, sub := range part.SingleWritable {
		refKey, ok := existingKey(existing[field])
		if !ok {
			return nil, &RelationWriteError{Field: field, Err: fmt.Errorf("no existing related entity")}
		}
		related := e.reg.Type(et.Field(field).Related)
		if _, err := e.Update(ctx, related, refKey, sub); err != nil {
			return nil, &RelationWriteError{Field: field, Err: err}
		}
	}

	for field, ops := range part.ManyToMany {
		if err := e.updateManyToMany(ctx, et, key, field, ops); err != nil {
			return nil, err
		}
	}
	for field, ops := range part.HasMany {
		if err := e.updateHasMany(ctx, et, key, field, ops); err != nil {
			return nil, err
		}
	}

	if len(part.Plain) > 0 {
		if err := e.store.Update(ctx, et.Name, key, part.Plain); err != nil {
			return nil, err
		}
	}
	return e.store.Get(ctx, et.Name, key)
}

// createManyToMany handles a many-to-many payload during create. ADD
// replaces the (empty) membership, CREATE appends, so both apply.
func (e *Engine) createManyToMany(ctx context.Context, et *schema.EntityType, key int64, field string, ops OperationSet) error {
	if err := checkOps(ops, createOps); err != nil {
		return err
	}
	rel, err := e.store.Relation(ctx, et.Name, key, field)
	if err != nil {
		return &RelationWriteError{Field: field, Err: err}
	}
	related := e.reg.Type(et.Field(field).Related)

	if v, ok := ops[OpAdd]; ok {
		keys, err := keyList(field, v)
		if err != nil {
			return err
		}
		if err := rel.Set(ctx, keys...); err != nil {
			return &RelationWriteError{Field: field, Err: err}
		}
	}
	if v, ok := ops[OpCreate]; ok {
		subs, err := recordList(field, v)
		if err != nil {
			return err
		}
		created, err := e.createAll(ctx, related, subs)
		if err != nil {
			return &RelationWriteError{Field: field, Err: err}
		}
		if err := rel.Add(ctx, created...); err != nil {
			return &RelationWriteError{Field: field, Err: err}
		}
	}
	return nil
}

// createHasMany handles a has-many payload during create. ADD bulk-updates
// the referenced rows' foreign key; CREATE stamps the foreign key onto each
// sub-payload before creating it.
func (e *Engine) createHasMany(ctx context.Context, et *schema.EntityType, key int64, field string, ops OperationSet) error {
	if err := checkOps(ops, createOps); err != nil {
		return err
	}
	fd := et.Field(field)
	related := e.reg.Type(fd.Related)

	if v, ok := ops[OpAdd]; ok {
		keys, err := keyList(field, v)
		if err != nil {
			return err
		}
		if _, err := e.store.BulkUpdate(ctx, related.Name, store.KeyIn(keys...), store.Record{fd.ForeignKey: key}); err != nil {
			return &RelationWriteError{Field: field, Err: err}
		}
	}
	if v, ok := ops[OpCreate]; ok {
		subs, err := recordList(field, v)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			stamped := sub.Clone()
			stamped[fd.ForeignKey] = key
			if _, err := e.Create(ctx, related, stamped); err != nil {
				return &RelationWriteError{Field: field, Err: err}
			}
		}
	}
	return nil
}

// updateManyToMany supports the full operation set against an attachment
// relation. Detach failures surface as relation write failures tagged with
// the field; whether a no-op detach fails is the store's policy.
func (e *Engine) updateManyToMany(ctx context.Context, et *schema.EntityType, key int64, field string, ops OperationSet) error {
	if err := checkOps(ops, updateOps); err != nil {
		return err
	}
	rel, err := e.store.Relation(ctx, et.Name, key, field)
	if err != nil {
		return &RelationWriteError{Field: field, Err: err}
	}
	related := e.reg.Type(et.Field(field).Related)

	if v, ok := ops[OpAdd]; ok {
		keys, err := keyList(field, v)
		if err != nil {
			return err
		}
		if err := rel.Add(ctx, keys...); err != nil {
			return &RelationWriteError{Field: field, Err: err}
		}
	}
	if v, ok := ops[OpCreate]; ok {
		subs, err := recordList(field, v)
		if err != nil {
			return err
		}
		created, err := e.createAll(ctx, related, subs)
		if err != nil {
			return &RelationWriteError{Field: field, Err: err}
		}
		if err := rel.Add(ctx, created...); err != nil {
			return &RelationWriteError{Field: field, Err: err}
		}
	}
	if v, ok := ops[OpRemove]; ok {
		keys, err := keyList(field, v)
		if err != nil {
			return err
		}
		if err := rel.Remove(ctx, keys...); err != nil {
			return &RelationWriteError{Field: field, Err: err}
		}
	}
	if v, ok := ops[OpUpdate]; ok {
		partials, err := updateMap(field, v)
		if err != nil {
			return err
		}
		for k, partial := range partials {
			if _, err := rel.Get(ctx, k); err != nil {
				return &RelationWriteError{Field: field, Err: err}
			}
			if _, err := e.Update(ctx, related, k, partial); err != nil {
				return &RelationWriteError{Field: field, Err: err}
			}
		}
	}
	return nil
}

// updateHasMany supports the full operation set against a foreign-key
// relation. REMOVE deletes the referenced child rows; UPDATE re-stamps the
// foreign key so a partial payload cannot reassign the child.
func (e *Engine) updateHasMany(ctx context.Context, et *schema.EntityType, key int64, field string, ops OperationSet) error {
	if err := checkOps(ops, updateOps); err != nil {
		return err
	}
	fd := et.Field(field)
	related := e.reg.Type(fd.Related)
	rel, err := e.store.Relation(ctx, et.Name, key, field)
	if err != nil {
		return &RelationWriteError{Field: field, Err: err}
	}

	if v, ok := ops[OpAdd]; ok {
		keys, err := keyList(field, v)
		if err != nil {
			return err
		}
		if _, err := e.store.BulkUpdate(ctx, related.Name, store.KeyIn(keys...), store.Record{fd.ForeignKey: key}); err != nil {
			return &RelationWriteError{Field: field, Err: err}
		}
	}
	if v, ok := ops[OpCreate]; ok {
		subs, err := recordList(field, v)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			stamped := sub.Clone()
			stamped[fd.ForeignKey] = key
			if _, err := e.Create(ctx, related, stamped); err != nil {
				return &RelationWriteError{Field: field, Err: err}
			}
		}
	}
	if v, ok := ops[OpRemove]; ok {
		keys, err := keyList(field, v)
		if err != nil {
			return err
		}
		// Only rows actually owned by this parent are deleted; stray keys
		// are skipped rather than reported.
		children, err := rel.Keys(ctx)
		if err != nil {
			return &RelationWriteError{Field: field, Err: err}
		}
		owned := make(map[int64]struct{}, len(children))
		for _, c := range children {
			owned[c] = struct{}{}
		}
		var doomed []int64
		for _, k := range keys {
			if _, ok := owned[k]; ok {
				doomed = append(doomed, k)
			}
		}
		if len(doomed) > 0 {
			if _, err := e.store.BulkDelete(ctx, related.Name, store.KeyIn(doomed...)); err != nil {
				return &RelationWriteError{Field: field, Err: err}
			}
		}
	}
	if v, ok := ops[OpUpdate]; ok {
		partials, err := updateMap(field, v)
		if err != nil {
			return err
		}
		for k, partial := range partials {
			if _, err := rel.Get(ctx, k); err != nil {
				return &RelationWriteError{Field: field, Err: err}
			}
			stamped := partial.Clone()
			stamped[fd.ForeignKey] = key
			if _, err := e.Update(ctx, related, k, stamped); err != nil {
				return &RelationWriteError{Field: field, Err: err}
			}
		}
	}
	return nil
}

func (e *Engine) createAll(ctx context.Context, et *schema.EntityType, subs []store.Record) ([]int64, error) {
	keys := make([]int64, 0, len(subs))
	for _, sub := range subs {
		rec, err := e.Create(ctx, et, sub)
		if err != nil {
			return nil, err
		}
		k, err := toKey(rec[et.Key()])
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// ----- payload coercion -----

func toKey(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("cannot use %T as a reference key", v)
}

func existingKey(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	k, err := toKey(v)
	if err != nil {
		return 0, false
	}
	return k, true
}

func keyList(field string, v any) ([]int64, error) {
	switch list := v.(type) {
	case []int64:
		return list, nil
	case []any:
		keys := make([]int64, 0, len(list))
		for _, item := range list {
			k, err := toKey(item)
			if err != nil {
				return nil, &MalformedPayloadError{Field: field, Reason: "expected a list of keys"}
			}
			keys = append(keys, k)
		}
		return keys, nil
	}
	return nil, &MalformedPayloadError{Field: field, Reason: "expected a list of keys"}
}

func recordList(field string, v any) ([]store.Record, error) {
	switch list := v.(type) {
	case []store.Record:
		return list, nil
	case []any:
		recs := make([]store.Record, 0, len(list))
		for _, item := range list {
			rec, err := asRecord(field, item)
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
		return recs, nil
	}
	return nil, &MalformedPayloadError{Field: field, Reason: "expected a list of objects"}
}

func updateMap(field string, v any) (map[int64]store.Record, error) {
	switch m := v.(type) {
	case map[int64]store.Record:
		return m, nil
	case map[string]any:
		out := make(map[int64]store.Record, len(m))
		for raw, sub := range m {
			k, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, &MalformedPayloadError{Field: field, Reason: "expected key -> object mapping"}
			}
			rec, err := asRecord(field, sub)
			if err != nil {
				return nil, err
			}
			out[k] = rec
		}
		return out, nil
	}
	return nil, &MalformedPayloadError{Field: field, Reason: "expected key -> object mapping"}
}
