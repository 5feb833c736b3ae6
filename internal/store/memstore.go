package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/btree"

	"github.com/hanpama/restql/internal/schema"
)

// MemStore is an in-memory Store keyed by auto-incremented int64 keys.
// Tables are ordered b-trees so listing and bulk operations are
// deterministic. It consults the registry for relation shapes.
type MemStore struct {
	reg *schema.Registry

	mu     sync.RWMutex
	tables map[string]*memTable
	// many-to-many membership, keyed by "Entity.field" then owner key
	links map[string]map[int64]*btree.Set[int64]
}

type memTable struct {
	rows   btree.Map[int64, Record]
	nextID int64
}

// NewMem returns an empty in-memory store for the registered schema.
func NewMem(reg *schema.Registry) *MemStore {
	return &MemStore{
		reg:    reg,
		tables: make(map[string]*memTable),
		links:  make(map[string]map[int64]*btree.Set[int64]),
	}
}

func (s *MemStore) table(entity string) (*memTable, error) {
	if s.reg.Type(entity) == nil {
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}
	t, ok := s.tables[entity]
	if !ok {
		t = &memTable{}
		s.tables[entity] = t
	}
	return t, nil
}

func (s *MemStore) Create(ctx context.Context, entity string, values Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entity)
	if err != nil {
		return 0, err
	}
	t.nextID++
	key := t.nextID
	row := values.Clone()
	row[s.reg.Type(entity).Key()] = key
	t.rows.Set(key, row)
	return key, nil
}

func (s *MemStore) Get(ctx context.Context, entity string, key int64) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(entity, key)
}

func (s *MemStore) get(entity string, key int64) (Record, error) {
	t, err := s.table(entity)
	if err != nil {
		return nil, err
	}
	row, ok := t.rows.Get(key)
	if !ok {
		return nil, fmt.Errorf("%s %d: %w", entity, key, ErrNotFound)
	}
	return row.Clone(), nil
}

func (s *MemStore) List(ctx context.Context, entity string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(entity)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, t.rows.Len())
	t.rows.Scan(func(key int64, row Record) bool {
		out = append(out, row.Clone())
		return true
	})
	return out, nil
}

func (s *MemStore) Update(ctx context.Context, entity string, key int64, values Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entity)
	if err != nil {
		return err
	}
	row, ok := t.rows.Get(key)
	if !ok {
		return fmt.Errorf("%s %d: %w", entity, key, ErrNotFound)
	}
	for k, v := range values {
		row[k] = v
	}
	t.rows.Set(key, row)
	return nil
}

func (s *MemStore) BulkUpdate(ctx context.Context, entity string, pred Predicate, values Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entity)
	if err != nil {
		return 0, err
	}
	keys := s.match(entity, t, pred)
	for _, key := range keys {
		row, _ := t.rows.Get(key)
		for k, v := range values {
			row[k] = v
		}
		t.rows.Set(key, row)
	}
	return int64(len(keys)), nil
}

func (s *MemStore) BulkDelete(ctx context.Context, entity string, pred Predicate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(entity)
	if err != nil {
		return 0, err
	}
	keys := s.match(entity, t, pred)
	for _, key := range keys {
		t.rows.Delete(key)
		s.unlink(entity, key)
	}
	return int64(len(keys)), nil
}

// match collects the keys of rows satisfying pred, in key order.
func (s *MemStore) match(entity string, t *memTable, pred Predicate) []int64 {
	wanted := make(map[int64]struct{}, len(pred.In))
	for _, k := range pred.In {
		wanted[k] = struct{}{}
	}
	var keys []int64
	t.rows.Scan(func(key int64, row Record) bool {
		probe := key
		if pred.Field != "" {
			v, ok := asKey(row[pred.Field])
			if !ok {
				return true
			}
			probe = v
		}
		if _, ok := wanted[probe]; ok {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

// unlink drops a deleted row from every many-to-many relation it appears in.
func (s *MemStore) unlink(entity string, key int64) {
	for name, owners := range s.links {
		et, field, ok := s.linkField(name)
		if !ok {
			continue
		}
		if et == entity {
			delete(owners, key)
		}
		if field.Related == entity {
			for _, members := range owners {
				members.Delete(key)
			}
		}
	}
}

func (s *MemStore) linkField(name string) (string, *schema.Field, bool) {
	for _, tn := range s.reg.Types() {
		et := s.reg.Type(tn)
		for _, f := range et.Fields {
			if tn+"."+f.Name == name {
				return tn, f, true
			}
		}
	}
	return "", nil, false
}

func (s *MemStore) Relation(ctx context.Context, entity string, key int64, field string) (Relation, error) {
	et := s.reg.Type(entity)
	if et == nil {
		return nil, fmt.Errorf("unknown entity type %q", entity)
	}
	fd := et.Field(field)
	if fd == nil || fd.Kind != schema.KindCollection {
		return nil, fmt.Errorf("%s.%s is not a collection relation", entity, field)
	}
	if _, err := s.Get(ctx, entity, key); err != nil {
		return nil, err
	}
	switch fd.Cardinality {
	case schema.ManyToMany:
		return &m2mRelation{store: s, owner: entity, key: key, field: fd}, nil
	case schema.HasMany:
		return &hasManyRelation{store: s, owner: entity, key: key, field: fd}, nil
	}
	return nil, fmt.Errorf("%s.%s has unsupported cardinality %q", entity, field, fd.Cardinality)
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

// ----- many-to-many -----

type m2mRelation struct {
	store *MemStore
	owner string
	key   int64
	field *schema.Field
}

func (r *m2mRelation) members() *btree.Set[int64] {
	name := r.owner + "." + r.field.Name
	owners, ok := r.store.links[name]
	if !ok {
		owners = make(map[int64]*btree.Set[int64])
		r.store.links[name] = owners
	}
	set, ok := owners[r.key]
	if !ok {
		set = &btree.Set[int64]{}
		owners[r.key] = set
	}
	return set
}

func (r *m2mRelation) checkExists(keys []int64) error {
	for _, k := range keys {
		if _, err := r.store.get(r.field.Related, k); err != nil {
			return err
		}
	}
	return nil
}

func (r *m2mRelation) Add(ctx context.Context, keys ...int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.checkExists(keys); err != nil {
		return err
	}
	set := r.members()
	for _, k := range keys {
		set.Insert(k)
	}
	return nil
}

func (r *m2mRelation) Remove(ctx context.Context, keys ...int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	set := r.members()
	for _, k := range keys {
		if !set.Contains(k) {
			return fmt.Errorf("key %d is not attached to %s.%s", k, r.owner, r.field.Name)
		}
	}
	for _, k := range keys {
		set.Delete(k)
	}
	return nil
}

func (r *m2mRelation) Set(ctx context.Context, keys ...int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if err := r.checkExists(keys); err != nil {
		return err
	}
	name := r.owner + "." + r.field.Name
	owners, ok := r.store.links[name]
	if !ok {
		owners = make(map[int64]*btree.Set[int64])
		r.store.links[name] = owners
	}
	set := &btree.Set[int64]{}
	for _, k := range keys {
		set.Insert(k)
	}
	owners[r.key] = set
	return nil
}

func (r *m2mRelation) Get(ctx context.Context, key int64) (Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	name := r.owner + "." + r.field.Name
	owners := r.store.links[name]
	if owners == nil || owners[r.key] == nil || !owners[r.key].Contains(key) {
		return nil, fmt.Errorf("key %d is not attached to %s.%s: %w", key, r.owner, r.field.Name, ErrNotFound)
	}
	return r.store.get(r.field.Related, key)
}

func (r *m2mRelation) Keys(ctx context.Context) ([]int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	name := r.owner + "." + r.field.Name
	owners := r.store.links[name]
	if owners == nil || owners[r.key] == nil {
		return nil, nil
	}
	var keys []int64
	owners[r.key].Scan(func(k int64) bool {
		keys = append(keys, k)
		return true
	})
	return keys, nil
}

// ----- has-many -----

type hasManyRelation struct {
	store *MemStore
	owner string
	key   int64
	field *schema.Field
}

func (r *hasManyRelation) Add(ctx context.Context, keys ...int64) error {
	_, err := r.store.BulkUpdate(ctx, r.field.Related, KeyIn(keys...), Record{r.field.ForeignKey: r.key})
	return err
}

// Remove deletes the child rows: a has-many child cannot outlive its parent.
func (r *hasManyRelation) Remove(ctx context.Context, keys ...int64) error {
	for _, k := range keys {
		if _, err := r.Get(ctx, k); err != nil {
			return err
		}
	}
	_, err := r.store.BulkDelete(ctx, r.field.Related, KeyIn(keys...))
	return err
}

func (r *hasManyRelation) Set(ctx context.Context, keys ...int64) error {
	return fmt.Errorf("%s.%s: set is not supported on a has-many relation", r.owner, r.field.Name)
}

func (r *hasManyRelation) Get(ctx context.Context, key int64) (Record, error) {
	row, err := r.store.Get(ctx, r.field.Related, key)
	if err != nil {
		return nil, err
	}
	fk, ok := asKey(row[r.field.ForeignKey])
	if !ok || fk != r.key {
		return nil, fmt.Errorf("key %d does not belong to %s %d: %w", key, r.owner, r.key, ErrNotFound)
	}
	return row, nil
}

func (r *hasManyRelation) Keys(ctx context.Context) ([]int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	t, err := r.store.table(r.field.Related)
	if err != nil {
		return nil, err
	}
	related := r.store.reg.Type(r.field.Related)
	var keys []int64
	t.rows.Scan(func(key int64, row Record) bool {
		if fk, ok := asKey(row[r.field.ForeignKey]); ok && fk == r.key {
			if k, ok := asKey(row[related.Key()]); ok {
				keys = append(keys, k)
			}
		}
		return true
	})
	return keys, nil
}
