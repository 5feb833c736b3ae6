// Package store defines the datastore contract the mutation engine and the
// load planner operate against, plus an in-memory implementation used by
// tests and the sample server. Persistence engines supply their own
// implementation; the engine never reaches past this interface.
package store

import (
	"context"
	"errors"
)

// Record is one entity row. Values are flat field values; single nested
// relations hold the related entity's key under the field name.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ErrNotFound reports a key with no backing row.
var ErrNotFound = errors.New("record not found")

// Predicate selects rows for bulk operations. An empty Field matches the
// primary key; otherwise the named field's value is matched against In.
type Predicate struct {
	Field string
	In    []int64
}

// KeyIn selects rows whose primary key is one of keys.
func KeyIn(keys ...int64) Predicate { return Predicate{In: keys} }

// FieldIn selects rows whose field value is one of keys.
func FieldIn(field string, keys ...int64) Predicate {
	return Predicate{Field: field, In: keys}
}

// Store is the CRUD surface consumed by the engine. All writes within one
// logical operation are expected to run inside a transaction supplied by
// the surrounding layer; the engine itself never rolls back.
type Store interface {
	// Create inserts values as a new row and returns its key.
	Create(ctx context.Context, entity string, values Record) (int64, error)
	// Get returns the row for key, or ErrNotFound.
	Get(ctx context.Context, entity string, key int64) (Record, error)
	// List returns every row in key order.
	List(ctx context.Context, entity string) ([]Record, error)
	// Update applies the partial values to the row for key.
	Update(ctx context.Context, entity string, key int64, values Record) error
	// BulkUpdate applies values to every row matching pred and reports how
	// many rows changed.
	BulkUpdate(ctx context.Context, entity string, pred Predicate, values Record) (int64, error)
	// BulkDelete removes every row matching pred and reports how many rows
	// were removed.
	BulkDelete(ctx context.Context, entity string, pred Predicate) (int64, error)
	// Relation returns a handle on a collection relation of one row.
	Relation(ctx context.Context, entity string, key int64, field string) (Relation, error)
}

// Relation is a handle on one row's collection relation. For many-to-many
// relations the operations manage attachment; for has-many relations they
// manage the owning foreign key, and Remove deletes rows since a child
// cannot exist without its parent.
type Relation interface {
	Add(ctx context.Context, keys ...int64) error
	Remove(ctx context.Context, keys ...int64) error
	Set(ctx context.Context, keys ...int64) error
	// Get returns the related row for key, failing when it is not a member
	// of this relation.
	Get(ctx context.Context, key int64) (Record, error)
	// Keys returns the member keys in order.
	Keys(ctx context.Context) ([]int64, error)
}
