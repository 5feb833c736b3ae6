package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanpama/restql/internal/config"
	"github.com/hanpama/restql/internal/eventbus"
	"github.com/hanpama/restql/internal/metrics"
	"github.com/hanpama/restql/internal/otel"
	"github.com/hanpama/restql/internal/server"
	"github.com/hanpama/restql/internal/store"
)

const rootUsage = `restql — dynamic field selection & nested writes over REST

USAGE:
  restql <command> [flags]

COMMANDS:
  serve            Run the HTTP resource server
  check            Validate a configuration file
  example-config   Print a sample configuration
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -config <file>             Configuration file (required)
  -server.addr <addr>        HTTP listen address (overrides config)
  -server.pretty             Pretty-print JSON responses (overrides config)
  -server.timeout <duration> Per-request timeout, e.g. 10s (overrides config)
  -otel.endpoint <addr>      OTLP collector endpoint (overrides config)
  -otel.service <name>       OpenTelemetry service name (overrides config)
`

const checkUsage = `check FLAGS:
  -config <file>  Configuration file (required)
  (Exits non-zero when the schema or resource mounts are invalid)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("restql", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "check":
		return cmdCheck(cmdArgs)
	case "example-config":
		fmt.Print(exampleConfig)
		return nil
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "check":
		fmt.Print(checkUsage)
	case "example-config":
		fmt.Print("example-config takes no flags; the sample is written to stdout\n")
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdServe(args []string) error {
	configPath := ""
	addr := ""
	pretty := false
	timeout := time.Duration(0)
	otelEndpoint := ""
	otelService := ""

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&configPath, "config", configPath, "Configuration file")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if configPath == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("-config is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Flags that were set explicitly win over the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server.addr":
			cfg.Server.Addr = addr
		case "server.pretty":
			cfg.Server.Pretty = pretty
		case "server.timeout":
			cfg.Server.Timeout = config.Duration(timeout)
		case "otel.endpoint":
			cfg.Otel.Endpoint = otelEndpoint
		case "otel.service":
			cfg.Otel.Service = otelService
		}
	})

	reg, err := cfg.BuildRegistry()
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	st := store.NewMem(reg)
	if err := seed(context.Background(), st, cfg.Seed); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}

	eventbus.Use(eventbus.New())
	metrics.Register()
	shutdown, err := otel.Setup(cfg.Otel.Endpoint, cfg.Otel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	opts := []server.Option{server.WithTimeout(time.Duration(cfg.Server.Timeout))}
	if cfg.Server.Pretty {
		opts = append(opts, server.WithPretty())
	}
	if cfg.Server.MaxBodyBytes > 0 {
		opts = append(opts, server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		opts = append(opts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	for path, res := range cfg.Resources {
		opts = append(opts, server.WithResource(path, server.Resource{
			Entity:   res.Entity,
			Allowed:  res.Fields,
			Excluded: res.Exclude,
		}))
	}
	h, err := server.New(reg, st, opts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", h)

	log.Printf("restql server listening on %s", cfg.Server.Addr)
	return http.ListenAndServe(cfg.Server.Addr, mux)
}

func cmdCheck(args []string) error {
	configPath := ""
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&configPath, "config", configPath, "Configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, checkUsage)
		return err
	}
	if configPath == "" {
		fmt.Fprint(os.Stderr, checkUsage)
		return fmt.Errorf("-config is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg, err := cfg.BuildRegistry()
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	for path, res := range cfg.Resources {
		if reg.Type(res.Entity) == nil {
			return fmt.Errorf("resource %s: unknown entity type %q", path, res.Entity)
		}
	}
	fmt.Printf("ok: %d entity types, %d resources\n", len(cfg.Entities), len(cfg.Resources))
	return nil
}

// seed inserts the declared rows in order and attaches any links afterwards,
// so a row may reference earlier rows by their sequential keys.
func seed(ctx context.Context, st *store.MemStore, rows []config.SeedConfig) error {
	type pending struct {
		entity string
		key    int64
		links  map[string][]int64
	}
	var later []pending
	for _, row := range rows {
		key, err := st.Create(ctx, row.Entity, store.Record(row.Values))
		if err != nil {
			return fmt.Errorf("seed %s: %w", row.Entity, err)
		}
		if len(row.Links) > 0 {
			later = append(later, pending{entity: row.Entity, key: key, links: row.Links})
		}
	}
	for _, p := range later {
		for field, keys := range p.links {
			rel, err := st.Relation(ctx, p.entity, p.key, field)
			if err != nil {
				return fmt.Errorf("seed %s.%s: %w", p.entity, field, err)
			}
			if err := rel.Add(ctx, keys...); err != nil {
				return fmt.Errorf("seed %s.%s: %w", p.entity, field, err)
			}
		}
	}
	return nil
}

const exampleConfig = `server:
  addr: ":8080"
  pretty: true
  timeout: 10s

entities:
  - name: Author
    fields:
      - name: id
      - name: name
  - name: Tag
    fields:
      - name: id
      - name: label
  - name: Comment
    fields:
      - name: id
      - name: text
      - name: post_id
  - name: Post
    fields:
      - name: id
      - name: title
      - name: author
        kind: single
        related: Author
        write: deep
      - name: comments
        kind: collection
        cardinality: has_many
        related: Comment
        foreign_key: post_id
        write: deep
      - name: tags
        kind: collection
        cardinality: many_to_many
        related: Tag
        write: deep
    load:
      author:
        kind: join
      comments:
        kind: prefetch
      tags:
        kind: prefetch

resources:
  posts:
    entity: Post
  authors:
    entity: Author
  tags:
    entity: Tag

seed:
  - entity: Author
    values: {name: sam}
  - entity: Tag
    values: {label: go}
  - entity: Tag
    values: {label: sql}
  - entity: Comment
    values: {text: first, post_id: 1}
  - entity: Post
    values: {title: intro, author: 1}
    links:
      tags: [1, 2]
`
