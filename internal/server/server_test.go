package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hanpama/restql/internal/schema"
	"github.com/hanpama/restql/internal/store"
)

func blogRegistry() *schema.Registry {
	return schema.MustBuild(
		&schema.EntityType{
			Name: "Author",
			Fields: []*schema.Field{
				{Name: "id", Kind: schema.KindFlat},
				{Name: "name", Kind: schema.KindFlat},
			},
		},
		&schema.EntityType{
			Name: "Tag",
			Fields: []*schema.Field{
				{Name: "id", Kind: schema.KindFlat},
				{Name: "label", Kind: schema.KindFlat},
			},
		},
		&schema.EntityType{
			Name: "Comment",
			Fields: []*schema.Field{
				{Name: "id", Kind: schema.KindFlat},
				{Name: "text", Kind: schema.KindFlat},
				{Name: "post_id", Kind: schema.KindFlat},
			},
		},
		&schema.EntityType{
			Name: "Post",
			Fields: []*schema.Field{
				{Name: "id", Kind: schema.KindFlat},
				{Name: "title", Kind: schema.KindFlat},
				{Name: "author", Kind: schema.KindSingle, Related: "Author", Cardinality: schema.BelongsTo, Write: schema.WriteDeep},
				{Name: "comments", Kind: schema.KindCollection, Related: "Comment", Cardinality: schema.HasMany, ForeignKey: "post_id", Write: schema.WriteDeep},
				{Name: "tags", Kind: schema.KindCollection, Related: "Tag", Cardinality: schema.ManyToMany, Write: schema.WriteDeep},
			},
			LoadMapping: schema.LoadMapping{
				"author":   schema.Join("author"),
				"comments": schema.Prefetch("comments"),
				"tags":     schema.Prefetch("tags"),
			},
		},
	)
}

func newTestHandler(t *testing.T, opts ...Option) (*Handler, *store.MemStore) {
	t.Helper()
	reg := blogRegistry()
	st := store.NewMem(reg)
	if len(opts) == 0 {
		opts = []Option{
			WithResource("posts", Resource{Entity: "Post"}),
			WithResource("authors", Resource{Entity: "Author"}),
		}
	}
	h, err := New(reg, st, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h, st
}

// seedBlog inserts one author, one post with two comments and two tags, and
// returns the post key.
func seedBlog(t *testing.T, st *store.MemStore) int64 {
	t.Helper()
	ctx := context.Background()
	authorID, err := st.Create(ctx, "Author", store.Record{"name": "sam"})
	if err != nil {
		t.Fatalf("seed author: %v", err)
	}
	postID, err := st.Create(ctx, "Post", store.Record{"title": "intro", "author": authorID})
	if err != nil {
		t.Fatalf("seed post: %v", err)
	}
	for _, text := range []string{"first", "second"} {
		if _, err := st.Create(ctx, "Comment", store.Record{"text": text, "post_id": postID}); err != nil {
			t.Fatalf("seed comment: %v", err)
		}
	}
	var tagIDs []int64
	for _, label := range []string{"go", "sql"} {
		id, err := st.Create(ctx, "Tag", store.Record{"label": label})
		if err != nil {
			t.Fatalf("seed tag: %v", err)
		}
		tagIDs = append(tagIDs, id)
	}
	rel, err := st.Relation(ctx, "Post", postID, "tags")
	if err != nil {
		t.Fatalf("seed tags relation: %v", err)
	}
	if err := rel.Add(ctx, tagIDs...); err != nil {
		t.Fatalf("seed tags: %v", err)
	}
	return postID
}

func doRequest(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) any {
	t.Helper()
	var v any
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func queryTarget(path, query string) string {
	return path + "?" + url.Values{"query": {query}}.Encode()
}

func TestListWithQuery(t *testing.T) {
	h, st := newTestHandler(t)
	seedBlog(t, st)

	rr := doRequest(t, h, http.MethodGet, queryTarget("/posts", "{title, author{name}, comments{text}}"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	want := []any{
		map[string]any{
			"title":    "intro",
			"author":   map[string]any{"name": "sam"},
			"comments": []any{map[string]any{"text": "first"}, map[string]any{"text": "second"}},
		},
	}
	if diff := cmp.Diff(want, decodeBody(t, rr)); diff != "" {
		t.Fatalf("unexpected body (-want +got):\n%s", diff)
	}
}

func TestRetrieveFlatSelectorExpandsRelation(t *testing.T) {
	h, st := newTestHandler(t)
	seedBlog(t, st)

	// A flat selector over a mapped relation renders the whole related object.
	rr := doRequest(t, h, http.MethodGet, queryTarget("/posts/1", "{title, author}"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	want := map[string]any{
		"title":  "intro",
		"author": map[string]any{"id": float64(1), "name": "sam"},
	}
	if diff := cmp.Diff(want, decodeBody(t, rr)); diff != "" {
		t.Fatalf("unexpected body (-want +got):\n%s", diff)
	}
}

func TestRetrieveWithoutQueryShowsEverything(t *testing.T) {
	h, st := newTestHandler(t)
	seedBlog(t, st)

	rr := doRequest(t, h, http.MethodGet, "/posts/1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr).(map[string]any)
	// Without a query nothing is joined, so the single relation stays a key.
	if got := body["author"]; got != float64(1) {
		t.Fatalf("author = %v, want bare key 1", got)
	}
	tags, ok := body["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("tags = %v, want two rendered tags", body["tags"])
	}
}

func TestBadQuerySyntax(t *testing.T) {
	h, st := newTestHandler(t)
	seedBlog(t, st)

	rr := doRequest(t, h, http.MethodGet, queryTarget("/posts", "{title"), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	body := decodeBody(t, rr).(map[string]any)
	if body["detail"] == "" {
		t.Fatalf("expected a detail message, got %v", body)
	}
}

func TestUnknownFieldInQuery(t *testing.T) {
	h, st := newTestHandler(t)
	seedBlog(t, st)

	rr := doRequest(t, h, http.MethodGet, queryTarget("/posts", "{title, nope}"), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rr.Code, rr.Body.String())
	}
}

func TestRetrieveNotFound(t *testing.T) {
	h, st := newTestHandler(t)
	seedBlog(t, st)

	rr := doRequest(t, h, http.MethodGet, "/posts/999", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestCreateNested(t *testing.T) {
	h, st := newTestHandler(t)

	rr := doRequest(t, h, http.MethodPost, "/posts", map[string]any{
		"title":  "fresh",
		"author": map[string]any{"name": "ann"},
		"comments": map[string]any{
			"create": []any{map[string]any{"text": "hi"}},
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr).(map[string]any)
	if body["title"] != "fresh" {
		t.Fatalf("title = %v", body["title"])
	}
	comments := body["comments"].([]any)
	if len(comments) != 1 {
		t.Fatalf("comments = %v, want one", comments)
	}
	// The engine stamps the owning key onto the created child.
	comment := comments[0].(map[string]any)
	if comment["post_id"] != body["id"] {
		t.Fatalf("post_id = %v, want %v", comment["post_id"], body["id"])
	}
	// The deep-created author was persisted and referenced by key.
	ctx := context.Background()
	author, err := st.Get(ctx, "Author", int64(body["author"].(float64)))
	if err != nil {
		t.Fatalf("created author not stored: %v", err)
	}
	if author["name"] != "ann" {
		t.Fatalf("author name = %v", author["name"])
	}
}

func TestUpdateTagOperations(t *testing.T) {
	h, st := newTestHandler(t)
	postID := seedBlog(t, st)
	ctx := context.Background()
	extra, err := st.Create(ctx, "Tag", store.Record{"label": "http"})
	if err != nil {
		t.Fatalf("seed extra tag: %v", err)
	}

	rr := doRequest(t, h, http.MethodPatch, "/posts/1", map[string]any{
		"tags": map[string]any{"add": []any{extra}, "remove": []any{1}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	rel, err := st.Relation(ctx, "Post", postID, "tags")
	if err != nil {
		t.Fatalf("tags relation: %v", err)
	}
	keys, err := rel.Keys(ctx)
	if err != nil {
		t.Fatalf("tag keys: %v", err)
	}
	if diff := cmp.Diff([]int64{2, extra}, keys); diff != "" {
		t.Fatalf("unexpected tag keys (-want +got):\n%s", diff)
	}
	// Detached, not deleted.
	if _, err := st.Get(ctx, "Tag", 1); err != nil {
		t.Fatalf("removed tag should still exist: %v", err)
	}
}

func TestUpdateInvalidOperationKey(t *testing.T) {
	h, st := newTestHandler(t)
	seedBlog(t, st)

	rr := doRequest(t, h, http.MethodPatch, "/posts/1", map[string]any{
		"tags": map[string]any{"replace": []any{1}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rr.Code, rr.Body.String())
	}
}

func TestUpdateUnattachedTagRemove(t *testing.T) {
	h, st := newTestHandler(t)
	seedBlog(t, st)
	ctx := context.Background()
	loose, err := st.Create(ctx, "Tag", store.Record{"label": "loose"})
	if err != nil {
		t.Fatalf("seed tag: %v", err)
	}

	rr := doRequest(t, h, http.MethodPatch, "/posts/1", map[string]any{
		"tags": map[string]any{"remove": []any{loose}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rr.Code, rr.Body.String())
	}
}

func TestExcludedResourceFields(t *testing.T) {
	h, st := newTestHandler(t,
		WithResource("posts", Resource{Entity: "Post", Excluded: []string{"comments"}}),
	)
	seedBlog(t, st)

	rr := doRequest(t, h, http.MethodGet, "/posts/1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr).(map[string]any)
	if _, ok := body["comments"]; ok {
		t.Fatalf("comments should be excluded, got %v", body)
	}

	// Selecting an excluded field is an error, not a silent drop.
	rr = doRequest(t, h, http.MethodGet, queryTarget("/posts/1", "{comments{text}}"), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", rr.Code, rr.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, st := newTestHandler(t)
	seedBlog(t, st)

	rr := doRequest(t, h, http.MethodDelete, "/posts/1", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

func TestUnknownResource(t *testing.T) {
	h, _ := newTestHandler(t)

	rr := doRequest(t, h, http.MethodGet, "/widgets", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestNewRejectsUnknownEntity(t *testing.T) {
	reg := blogRegistry()
	st := store.NewMem(reg)
	if _, err := New(reg, st, WithResource("widgets", Resource{Entity: "Widget"})); err == nil {
		t.Fatalf("expected error for unmapped entity type")
	}
}

func TestCORSPreflight(t *testing.T) {
	h, st := newTestHandler(t,
		WithResource("posts", Resource{Entity: "Post"}),
		WithCORS("*"),
	)
	seedBlog(t, st)

	req := httptest.NewRequest(http.MethodOptions, "/posts", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}
