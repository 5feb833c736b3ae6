package mutation

import (
	"github.com/hanpama/restql/internal/schema"
	"github.com/hanpama/restql/internal/store"
)

// Partition groups a validated payload's fields by the write semantics of
// their descriptors. Non-writable and flat fields pass through as plain
// values to the base create/update call.
type Partition struct {
	SingleReplaceable store.Record            // field -> reference key
	SingleWritable    map[string]store.Record // field -> sub-payload
	ManyToMany        map[string]OperationSet
	HasMany           map[string]OperationSet
	Plain             store.Record
}

// Classify partitions payload by each field's descriptor. The same
// classification runs for create and update flows.
func Classify(et *schema.EntityType, payload store.Record) (*Partition, error) {
	part := &Partition{
		SingleReplaceable: store.Record{},
		SingleWritable:    map[string]store.Record{},
		ManyToMany:        map[string]OperationSet{},
		HasMany:           map[string]OperationSet{},
		Plain:             store.Record{},
	}
	for name, value := range payload {
		fd := et.Field(name)
		if fd == nil {
			return nil, &UnknownFieldError{Field: name}
		}
		switch {
		case fd.Kind == schema.KindSingle && fd.Write == schema.WriteReplace:
			part.SingleReplaceable[name] = value
		case fd.Kind == schema.KindSingle && fd.Write == schema.WriteDeep:
			sub, err := asRecord(name, value)
			if err != nil {
				return nil, err
			}
			part.SingleWritable[name] = sub
		case fd.Kind == schema.KindCollection && fd.Write != schema.WriteNone:
			ops, err := asOperationSet(name, value)
			if err != nil {
				return nil, err
			}
			if fd.Cardinality == schema.ManyToMany {
				part.ManyToMany[name] = ops
			} else {
				part.HasMany[name] = ops
			}
		default:
			part.Plain[name] = value
		}
	}
	return part, nil
}

func asRecord(field string, v any) (store.Record, error) {
	switch m := v.(type) {
	case store.Record:
		return m, nil
	case map[string]any:
		return store.Record(m), nil
	}
	return nil, &MalformedPayloadError{Field: field, Reason: "expected an object"}
}

func asOperationSet(field string, v any) (OperationSet, error) {
	switch m := v.(type) {
	case OperationSet:
		return m, nil
	case map[string]any:
		return OperationSet(m), nil
	}
	return nil, &MalformedPayloadError{Field: field, Reason: "expected an operation object"}
}
