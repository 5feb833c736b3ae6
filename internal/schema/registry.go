package schema

import "fmt"

// Registry holds every registered entity type. It is built once at startup
// and read-only afterwards, so it is safe to share across requests.
type Registry struct {
	types map[string]*EntityType
}

// Build validates the given entity types and returns an immutable registry.
func Build(types ...*EntityType) (*Registry, error) {
	reg := &Registry{types: make(map[string]*EntityType, len(types))}
	for _, t := range types {
		if t.Name == "" {
			return nil, fmt.Errorf("entity type with empty name")
		}
		if _, ok := reg.types[t.Name]; ok {
			return nil, fmt.Errorf("duplicate entity type %q", t.Name)
		}
		t.index = make(map[string]int, len(t.Fields))
		for i, f := range t.Fields {
			if _, ok := t.index[f.Name]; ok {
				return nil, fmt.Errorf("%s: duplicate field %q", t.Name, f.Name)
			}
			t.index[f.Name] = i
		}
		reg.types[t.Name] = t
	}
	for _, t := range reg.types {
		if err := reg.checkFields(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// MustBuild is Build for statically declared schemas.
func MustBuild(types ...*EntityType) *Registry {
	reg, err := Build(types...)
	if err != nil {
		panic(err)
	}
	return reg
}

func (r *Registry) checkFields(t *EntityType) error {
	for _, f := range t.Fields {
		switch f.Kind {
		case KindFlat:
			if f.Related != "" || f.Cardinality != "" {
				return fmt.Errorf("%s.%s: flat field declares relation attributes", t.Name, f.Name)
			}
		case KindSingle:
			if _, ok := r.types[f.Related]; !ok {
				return fmt.Errorf("%s.%s: unknown related type %q", t.Name, f.Name, f.Related)
			}
			if f.Cardinality != BelongsTo {
				return fmt.Errorf("%s.%s: single nested field must be belongs-to", t.Name, f.Name)
			}
		case KindCollection:
			related, ok := r.types[f.Related]
			if !ok {
				return fmt.Errorf("%s.%s: unknown related type %q", t.Name, f.Name, f.Related)
			}
			switch f.Cardinality {
			case HasMany:
				if f.ForeignKey == "" {
					return fmt.Errorf("%s.%s: has-many field requires a foreign key", t.Name, f.Name)
				}
				if related.Field(f.ForeignKey) == nil {
					return fmt.Errorf("%s.%s: foreign key %q not declared on %s", t.Name, f.Name, f.ForeignKey, related.Name)
				}
			case ManyToMany:
			default:
				return fmt.Errorf("%s.%s: collection field requires has-many or many-to-many cardinality", t.Name, f.Name)
			}
		default:
			return fmt.Errorf("%s.%s: unknown field kind %q", t.Name, f.Name, f.Kind)
		}
	}
	return nil
}

// Type returns the entity type registered under name, or nil.
func (r *Registry) Type(name string) *EntityType { return r.types[name] }

// Types returns the names of all registered entity types.
func (r *Registry) Types() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}
