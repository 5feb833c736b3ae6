// Package server exposes registered entity types as JSON resources. Read
// requests accept a ?query= selection that drives both the eager-load plan
// and the projection; write requests accept nested mutation payloads.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hanpama/restql/internal/eventbus"
	"github.com/hanpama/restql/internal/events"
	"github.com/hanpama/restql/internal/language"
	"github.com/hanpama/restql/internal/loadplan"
	"github.com/hanpama/restql/internal/mutation"
	"github.com/hanpama/restql/internal/reqid"
	"github.com/hanpama/restql/internal/resolver"
	"github.com/hanpama/restql/internal/schema"
	"github.com/hanpama/restql/internal/selection"
	"github.com/hanpama/restql/internal/store"
)

// queryParam is the request parameter carrying the raw selection query.
const queryParam = "query"

// Resource maps a URL path segment onto an entity type, optionally
// restricted by declared allow/exclude field lists.
type Resource struct {
	Entity   string
	Allowed  []string
	Excluded []string
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// Resources maps path segments to entity types.
	Resources map[string]Resource
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// WithResource mounts an entity type under a path segment.
func WithResource(path string, res Resource) Option {
	return func(o *Options) {
		if o.Resources == nil {
			o.Resources = map[string]Resource{}
		}
		o.Resources[path] = res
	}
}

// Handler is an http.Handler serving the mounted resources.
type Handler struct {
	reg    *schema.Registry
	store  store.Store
	engine *mutation.Engine
	opt    Options
}

// New creates a handler over the registered schema and store.
func New(reg *schema.Registry, st store.Store, opts ...Option) (*Handler, error) {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	for path, res := range op.Resources {
		if reg.Type(res.Entity) == nil {
			return nil, &unknownResourceError{path: path, entity: res.Entity}
		}
	}
	return &Handler{reg: reg, store: st, engine: mutation.NewEngine(reg, st), opt: op}, nil
}

type unknownResourceError struct{ path, entity string }

func (e *unknownResourceError) Error() string {
	return "resource " + e.path + ": unknown entity type " + e.entity
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}
	ctx, _ = reqid.NewContext(ctx)

	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}
	if r.Method == http.MethodOptions {
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	res, key, hasKey, ok := h.route(r.URL.Path)
	if !ok {
		status = http.StatusNotFound
		h.writeDetail(w, status, "not found")
		return
	}
	et := h.reg.Type(res.Entity)

	var (
		body any
		err  error
	)
	switch {
	case r.Method == http.MethodGet && !hasKey:
		body, err = h.list(ctx, r, res, et)
	case r.Method == http.MethodGet:
		body, err = h.retrieve(ctx, r, res, et, key)
	case r.Method == http.MethodPost && !hasKey:
		body, err = h.create(ctx, r, et)
		if err == nil {
			status = http.StatusCreated
		}
	case (r.Method == http.MethodPatch || r.Method == http.MethodPut) && hasKey:
		body, err = h.update(ctx, r, et, key)
	default:
		status = http.StatusMethodNotAllowed
		h.writeDetail(w, status, "method not allowed")
		return
	}
	if err != nil {
		status = errorStatus(err)
		h.writeDetail(w, status, err.Error())
		return
	}
	writeJSON(w, status, body, h.opt.Pretty)
}

// route splits /{resource} and /{resource}/{key} paths.
func (h *Handler) route(path string) (Resource, int64, bool, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
		return Resource{}, 0, false, false
	}
	res, ok := h.opt.Resources[parts[0]]
	if !ok {
		return Resource{}, 0, false, false
	}
	if len(parts) == 1 {
		return res, 0, false, true
	}
	key, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Resource{}, 0, false, false
	}
	return res, key, true, true
}

func (h *Handler) list(ctx context.Context, r *http.Request, res Resource, et *schema.EntityType) (any, error) {
	raw := r.URL.Query().Get(queryParam)
	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Entity: et.Name, Operation: "list", RawQuery: raw})
	body, err := h.listInner(ctx, raw, res, et)
	eventbus.Publish(ctx, events.QueryFinish{Entity: et.Name, Operation: "list", RawQuery: raw, Err: err, Duration: time.Since(start)})
	return body, err
}

func (h *Handler) listInner(ctx context.Context, raw string, res Resource, et *schema.EntityType) (any, error) {
	tree, err := parseQuery(raw)
	if err != nil {
		return nil, err
	}
	recs, err := h.store.List(ctx, et.Name)
	if err != nil {
		return nil, err
	}
	if err := loadplan.Apply(ctx, h.store, h.reg, et, recs, loadplan.Build(tree, et.LoadMapping)); err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		obj, err := h.project(ctx, res, et, rec, tree, resolver.RootListItem())
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (h *Handler) retrieve(ctx context.Context, r *http.Request, res Resource, et *schema.EntityType, key int64) (any, error) {
	raw := r.URL.Query().Get(queryParam)
	start := time.Now()
	eventbus.Publish(ctx, events.QueryStart{Entity: et.Name, Operation: "retrieve", RawQuery: raw})
	body, err := h.retrieveInner(ctx, raw, res, et, key)
	eventbus.Publish(ctx, events.QueryFinish{Entity: et.Name, Operation: "retrieve", RawQuery: raw, Err: err, Duration: time.Since(start)})
	return body, err
}

func (h *Handler) retrieveInner(ctx context.Context, raw string, res Resource, et *schema.EntityType, key int64) (any, error) {
	tree, err := parseQuery(raw)
	if err != nil {
		return nil, err
	}
	rec, err := h.store.Get(ctx, et.Name, key)
	if err != nil {
		return nil, err
	}
	if err := loadplan.Apply(ctx, h.store, h.reg, et, []store.Record{rec}, loadplan.Build(tree, et.LoadMapping)); err != nil {
		return nil, err
	}
	return h.project(ctx, res, et, rec, tree, resolver.Root())
}

func (h *Handler) create(ctx context.Context, r *http.Request, et *schema.EntityType) (any, error) {
	payload, err := h.readPayload(r)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	eventbus.Publish(ctx, events.MutationStart{Entity: et.Name, Operation: "create"})
	rec, err := h.engine.Create(ctx, et, payload)
	eventbus.Publish(ctx, events.MutationFinish{Entity: et.Name, Operation: "create", Err: err, Duration: time.Since(start)})
	if err != nil {
		return nil, err
	}
	return h.project(ctx, Resource{Entity: et.Name}, et, rec, nil, resolver.Root())
}

func (h *Handler) update(ctx context.Context, r *http.Request, et *schema.EntityType, key int64) (any, error) {
	payload, err := h.readPayload(r)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	eventbus.Publish(ctx, events.MutationStart{Entity: et.Name, Operation: "update"})
	rec, err := h.engine.Update(ctx, et, key, payload)
	eventbus.Publish(ctx, events.MutationFinish{Entity: et.Name, Operation: "update", Err: err, Duration: time.Since(start)})
	if err != nil {
		return nil, err
	}
	return h.project(ctx, Resource{Entity: et.Name}, et, rec, nil, resolver.Root())
}

func (h *Handler) readPayload(r *http.Request) (store.Record, error) {
	reader := io.Reader(r.Body)
	if h.opt.MaxBodyBytes > 0 {
		reader = io.LimitReader(r.Body, h.opt.MaxBodyBytes+1)
	}
	defer r.Body.Close()
	dec := json.NewDecoder(reader)
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, &badRequestError{msg: "invalid JSON"}
	}
	return payload, nil
}

func parseQuery(raw string) (selection.Tree, error) {
	if raw == "" {
		return nil, nil
	}
	return language.Parse(raw)
}

type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func errorStatus(err error) int {
	var (
		queryErr   *language.Error
		notFound   *resolver.FieldNotFoundError
		notNested  *resolver.NotNestedError
		conflict   *resolver.ConflictingRestrictionsError
		invalidOp  *mutation.InvalidOperationError
		relFailure *mutation.RelationWriteError
		unknown    *mutation.UnknownFieldError
		malformed  *mutation.MalformedPayloadError
		badRequest *badRequestError
	)
	switch {
	case errors.As(err, &queryErr),
		errors.As(err, &notFound),
		errors.As(err, &notNested),
		errors.As(err, &conflict),
		errors.As(err, &invalidOp),
		errors.As(err, &relFailure),
		errors.As(err, &unknown),
		errors.As(err, &malformed),
		errors.As(err, &badRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg}, h.opt.Pretty)
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
