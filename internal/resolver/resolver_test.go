package resolver

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hanpama/restql/internal/schema"
	"github.com/hanpama/restql/internal/selection"
)

func blogRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Build(
		&schema.EntityType{
			Name: "Post",
			Fields: []*schema.Field{
				{Name: "title", Kind: schema.KindFlat},
				{Name: "author", Kind: schema.KindSingle, Related: "Author", Write: schema.WriteReplace, Cardinality: schema.BelongsTo},
				{Name: "comments", Kind: schema.KindCollection, Related: "Comment", Write: schema.WriteDeep, Cardinality: schema.HasMany, ForeignKey: "post"},
				{Name: "tags", Kind: schema.KindCollection, Related: "Tag", Write: schema.WriteDeep, Cardinality: schema.ManyToMany},
			},
		},
		&schema.EntityType{Name: "Author", Fields: []*schema.Field{{Name: "name", Kind: schema.KindFlat}}},
		&schema.EntityType{Name: "Comment", Fields: []*schema.Field{
			{Name: "text", Kind: schema.KindFlat},
			{Name: "post", Kind: schema.KindFlat},
		}},
		&schema.EntityType{Name: "Tag", Fields: []*schema.Field{{Name: "label", Kind: schema.KindFlat}}},
	)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func TestResolveScenario(t *testing.T) {
	reg := blogRegistry(t)
	post := reg.Type("Post")
	tree := selection.Tree{
		selection.Flat("title"),
		selection.Nested("comments", selection.Tree{selection.Flat("text")}),
	}

	res, err := Resolve(post, post.FieldNames(), tree, Root())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if diff := cmp.Diff([]string{"title", "comments"}, res.Fields); diff != "" {
		t.Fatalf("visible fields mismatch (-want +got):\n%s", diff)
	}
	want := Scope{"comments": selection.Tree{selection.Flat("text")}}
	if diff := cmp.Diff(want, res.Scopes); diff != "" {
		t.Fatalf("scopes mismatch (-want +got):\n%s", diff)
	}
}

func TestResolvePreservesFieldOrder(t *testing.T) {
	reg := blogRegistry(t)
	post := reg.Type("Post")
	// Selection order differs from declaration order; output follows the
	// entity's order, not the query's.
	tree := selection.Tree{
		selection.Flat("tags"),
		selection.Flat("title"),
		selection.Flat("author"),
	}

	res, err := Resolve(post, post.FieldNames(), tree, Root())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if diff := cmp.Diff([]string{"title", "author", "tags"}, res.Fields); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveNoTreeIsIdentity(t *testing.T) {
	reg := blogRegistry(t)
	post := reg.Type("Post")

	res, err := Resolve(post, post.FieldNames(), nil, Root())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if diff := cmp.Diff(post.FieldNames(), res.Fields); diff != "" {
		t.Fatalf("identity mismatch (-want +got):\n%s", diff)
	}
	if len(res.Scopes) != 0 {
		t.Fatalf("unexpected scopes: %v", res.Scopes)
	}
}

func TestResolveErrors(t *testing.T) {
	reg := blogRegistry(t)
	post := reg.Type("Post")

	t.Run("field not found", func(t *testing.T) {
		tree := selection.Tree{selection.Flat("titel")}
		_, err := Resolve(post, post.FieldNames(), tree, Root())
		var nf *FieldNotFoundError
		if !errors.As(err, &nf) || nf.Field != "titel" {
			t.Fatalf("expected FieldNotFoundError for titel, got %v", err)
		}
	})

	t.Run("nested key on flat field", func(t *testing.T) {
		tree := selection.Tree{selection.Nested("title", selection.Tree{selection.Flat("x")})}
		_, err := Resolve(post, post.FieldNames(), tree, Root())
		var nn *NotNestedError
		if !errors.As(err, &nn) || nn.Field != "title" {
			t.Fatalf("expected NotNestedError for title, got %v", err)
		}
	})

	t.Run("nested key not found", func(t *testing.T) {
		tree := selection.Tree{selection.Nested("commentz", selection.Tree{selection.Flat("text")})}
		_, err := Resolve(post, post.FieldNames(), tree, Root())
		var nf *FieldNotFoundError
		if !errors.As(err, &nf) || nf.Field != "commentz" {
			t.Fatalf("expected FieldNotFoundError for commentz, got %v", err)
		}
	})
}

func TestResolveContextPropagation(t *testing.T) {
	reg := blogRegistry(t)
	post := reg.Type("Post")
	comment := reg.Type("Comment")

	tree := selection.Tree{
		selection.Flat("title"),
		selection.Nested("comments", selection.Tree{selection.Flat("text")}),
		selection.Flat("author"),
	}
	parent, err := Resolve(post, post.FieldNames(), tree, Root())
	if err != nil {
		t.Fatalf("resolve parent: %v", err)
	}

	t.Run("nested list item uses parent scope", func(t *testing.T) {
		res, err := Resolve(comment, comment.FieldNames(), nil, NestedListItem(parent.Scopes, "comments"))
		if err != nil {
			t.Fatalf("resolve nested: %v", err)
		}
		if diff := cmp.Diff([]string{"text"}, res.Fields); diff != "" {
			t.Fatalf("nested fields mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("fresh tree is ignored in nested position", func(t *testing.T) {
		// Even if a caller passes a request tree, a nested resolution must
		// consult the parent's scope instead.
		stray := selection.Tree{selection.Flat("post")}
		res, err := Resolve(comment, comment.FieldNames(), stray, NestedListItem(parent.Scopes, "comments"))
		if err != nil {
			t.Fatalf("resolve nested: %v", err)
		}
		if diff := cmp.Diff([]string{"text"}, res.Fields); diff != "" {
			t.Fatalf("nested fields mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("nested field without recorded scope is unfiltered", func(t *testing.T) {
		author := reg.Type("Author")
		res, err := Resolve(author, author.FieldNames(), nil, Nested(parent.Scopes, "author"))
		if err != nil {
			t.Fatalf("resolve nested: %v", err)
		}
		if diff := cmp.Diff(author.FieldNames(), res.Fields); diff != "" {
			t.Fatalf("expected all fields (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown context fails open", func(t *testing.T) {
		res, err := Resolve(post, post.FieldNames(), tree, Unknown())
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if diff := cmp.Diff(post.FieldNames(), res.Fields); diff != "" {
			t.Fatalf("expected all fields (-want +got):\n%s", diff)
		}
	})
}

func TestRestrict(t *testing.T) {
	fields := []string{"title", "author", "comments", "tags"}

	t.Run("allowed keeps listed fields in order", func(t *testing.T) {
		got, err := Restrict(fields, []string{"tags", "title"}, nil)
		if err != nil {
			t.Fatalf("restrict: %v", err)
		}
		if diff := cmp.Diff([]string{"title", "tags"}, got); diff != "" {
			t.Fatalf("allowed mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("excluded drops listed fields", func(t *testing.T) {
		got, err := Restrict(fields, nil, []string{"comments"})
		if err != nil {
			t.Fatalf("restrict: %v", err)
		}
		if diff := cmp.Diff([]string{"title", "author", "tags"}, got); diff != "" {
			t.Fatalf("excluded mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("absent allowed name", func(t *testing.T) {
		_, err := Restrict(fields, []string{"nope"}, nil)
		var nf *FieldNotFoundError
		if !errors.As(err, &nf) || nf.Field != "nope" {
			t.Fatalf("expected FieldNotFoundError, got %v", err)
		}
	})

	t.Run("absent excluded name", func(t *testing.T) {
		_, err := Restrict(fields, nil, []string{"nope"})
		var nf *FieldNotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("expected FieldNotFoundError, got %v", err)
		}
	})

	t.Run("both set", func(t *testing.T) {
		_, err := Restrict(fields, []string{"title"}, []string{"tags"})
		var conflict *ConflictingRestrictionsError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected ConflictingRestrictionsError, got %v", err)
		}
	})
}
