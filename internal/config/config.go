// Package config loads a YAML service definition: the entity schema, the
// resource mounts, server settings and optional seed rows for the in-memory
// store.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hanpama/restql/internal/schema"
)

type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Otel      OtelConfig                `yaml:"otel"`
	Entities  []EntityConfig            `yaml:"entities"`
	Resources map[string]ResourceConfig `yaml:"resources"`
	Seed      []SeedConfig              `yaml:"seed"`
}

type ServerConfig struct {
	Addr         string   `yaml:"addr"`
	Pretty       bool     `yaml:"pretty"`
	Timeout      Duration `yaml:"timeout"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

// Duration accepts Go duration strings like "10s" in YAML documents.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type OtelConfig struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

type EntityConfig struct {
	Name   string              `yaml:"name"`
	Key    string              `yaml:"key"`
	Fields []FieldConfig       `yaml:"fields"`
	Load   map[string]LoadRule `yaml:"load"`
}

type FieldConfig struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"`        // "", "single", "collection"
	Related     string `yaml:"related"`
	Write       string `yaml:"write"`       // "", "replace", "deep"
	Cardinality string `yaml:"cardinality"` // "", "has_many", "many_to_many"
	ForeignKey  string `yaml:"foreign_key"`
}

type LoadRule struct {
	Kind   string              `yaml:"kind"` // "join", "prefetch"
	Path   string              `yaml:"path"`
	Nested map[string]LoadRule `yaml:"nested"`
}

// ResourceConfig mounts one entity type under a URL path segment.
type ResourceConfig struct {
	Entity  string   `yaml:"entity"`
	Fields  []string `yaml:"fields"`
	Exclude []string `yaml:"exclude"`
}

// SeedConfig inserts one row at startup, in declaration order. Links names
// many-to-many fields to attach after insertion.
type SeedConfig struct {
	Entity string             `yaml:"entity"`
	Values map[string]any     `yaml:"values"`
	Links  map[string][]int64 `yaml:"links"`
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = Duration(10 * time.Second)
	}
	if cfg.Otel.Service == "" {
		cfg.Otel.Service = "restql"
	}
	if len(cfg.Entities) == 0 {
		return nil, fmt.Errorf("config declares no entities")
	}
	if len(cfg.Resources) == 0 {
		return nil, fmt.Errorf("config declares no resources")
	}
	return &cfg, nil
}

// BuildRegistry converts the declared entities into a validated registry.
func (c *Config) BuildRegistry() (*schema.Registry, error) {
	types := make([]*schema.EntityType, 0, len(c.Entities))
	for _, e := range c.Entities {
		et := &schema.EntityType{Name: e.Name, KeyField: e.Key}
		for _, f := range e.Fields {
			fd, err := buildField(e.Name, f)
			if err != nil {
				return nil, err
			}
			et.Fields = append(et.Fields, fd)
		}
		mapping, err := buildMapping(e.Name, e.Load)
		if err != nil {
			return nil, err
		}
		et.LoadMapping = mapping
		types = append(types, et)
	}
	return schema.Build(types...)
}

func buildField(entity string, f FieldConfig) (*schema.Field, error) {
	fd := &schema.Field{Name: f.Name, Related: f.Related, ForeignKey: f.ForeignKey}

	switch f.Kind {
	case "":
		fd.Kind = schema.KindFlat
		return fd, nil
	case "single":
		fd.Kind = schema.KindSingle
		fd.Cardinality = schema.BelongsTo
	case "collection":
		fd.Kind = schema.KindCollection
		switch f.Cardinality {
		case "has_many":
			fd.Cardinality = schema.HasMany
		case "many_to_many":
			fd.Cardinality = schema.ManyToMany
		default:
			return nil, fmt.Errorf("%s.%s: unknown cardinality %q", entity, f.Name, f.Cardinality)
		}
	default:
		return nil, fmt.Errorf("%s.%s: unknown field kind %q", entity, f.Name, f.Kind)
	}

	switch f.Write {
	case "":
		fd.Write = schema.WriteNone
	case "replace":
		fd.Write = schema.WriteReplace
	case "deep":
		fd.Write = schema.WriteDeep
	default:
		return nil, fmt.Errorf("%s.%s: unknown write mode %q", entity, f.Name, f.Write)
	}
	return fd, nil
}

func buildMapping(entity string, rules map[string]LoadRule) (schema.LoadMapping, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	mapping := make(schema.LoadMapping, len(rules))
	for name, r := range rules {
		rule, err := buildRule(entity, name, r)
		if err != nil {
			return nil, err
		}
		mapping[name] = rule
	}
	return mapping, nil
}

func buildRule(entity, name string, r LoadRule) (schema.LoadRule, error) {
	var rule schema.LoadRule
	switch r.Kind {
	case "join":
		rule.Kind = schema.LoadJoin
	case "prefetch":
		rule.Kind = schema.LoadPrefetch
	case "":
		rule.Kind = schema.LoadNone
	default:
		return rule, fmt.Errorf("%s.%s: unknown load kind %q", entity, name, r.Kind)
	}
	rule.Path = r.Path
	if rule.Path == "" && rule.Kind != schema.LoadNone {
		rule.Path = name
	}
	nested, err := buildMapping(entity, r.Nested)
	if err != nil {
		return rule, err
	}
	rule.Nested = nested
	return rule, nil
}
