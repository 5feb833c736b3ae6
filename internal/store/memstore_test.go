package store

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/restql/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Build(
		&schema.EntityType{
			Name: "Post",
			Fields: []*schema.Field{
				{Name: "title", Kind: schema.KindFlat},
				{Name: "comments", Kind: schema.KindCollection, Related: "Comment", Write: schema.WriteDeep, Cardinality: schema.HasMany, ForeignKey: "post"},
				{Name: "tags", Kind: schema.KindCollection, Related: "Tag", Write: schema.WriteDeep, Cardinality: schema.ManyToMany},
			},
		},
		&schema.EntityType{Name: "Comment", Fields: []*schema.Field{
			{Name: "text", Kind: schema.KindFlat},
			{Name: "post", Kind: schema.KindFlat},
		}},
		&schema.EntityType{Name: "Tag", Fields: []*schema.Field{{Name: "label", Kind: schema.KindFlat}}},
	)
	require.NoError(t, err)
	return reg
}

func TestCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMem(testRegistry(t))

	key, err := s.Create(ctx, "Post", Record{"title": "first"})
	require.NoError(t, err)
	require.Equal(t, int64(1), key)

	row, err := s.Get(ctx, "Post", key)
	require.NoError(t, err)
	require.Equal(t, "first", row["title"])
	require.Equal(t, key, row["id"])

	require.NoError(t, s.Update(ctx, "Post", key, Record{"title": "second"}))
	row, err = s.Get(ctx, "Post", key)
	require.NoError(t, err)
	require.Equal(t, "second", row["title"])

	_, err = s.Get(ctx, "Post", 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListIsKeyOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewMem(testRegistry(t))
	for _, label := range []string{"go", "db", "http"} {
		_, err := s.Create(ctx, "Tag", Record{"label": label})
		require.NoError(t, err)
	}

	rows, err := s.List(ctx, "Tag")
	require.NoError(t, err)
	var labels []string
	for _, row := range rows {
		labels = append(labels, row["label"].(string))
	}
	if diff := cmp.Diff([]string{"go", "db", "http"}, labels); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestBulkUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMem(testRegistry(t))
	postKey, err := s.Create(ctx, "Post", Record{"title": "p"})
	require.NoError(t, err)
	var commentKeys []int64
	for _, text := range []string{"a", "b", "c"} {
		k, err := s.Create(ctx, "Comment", Record{"text": text})
		require.NoError(t, err)
		commentKeys = append(commentKeys, k)
	}

	n, err := s.BulkUpdate(ctx, "Comment", KeyIn(commentKeys[0], commentKeys[1]), Record{"post": postKey})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	rel, err := s.Relation(ctx, "Post", postKey, "comments")
	require.NoError(t, err)
	keys, err := rel.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{commentKeys[0], commentKeys[1]}, keys)

	n, err = s.BulkDelete(ctx, "Comment", FieldIn("post", postKey))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	rows, err := s.List(ctx, "Comment")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "c", rows[0]["text"])
}

func TestManyToManyRelation(t *testing.T) {
	ctx := context.Background()
	s := NewMem(testRegistry(t))
	postKey, err := s.Create(ctx, "Post", Record{"title": "p"})
	require.NoError(t, err)
	var tagKeys []int64
	for _, label := range []string{"go", "db", "http"} {
		k, err := s.Create(ctx, "Tag", Record{"label": label})
		require.NoError(t, err)
		tagKeys = append(tagKeys, k)
	}

	rel, err := s.Relation(ctx, "Post", postKey, "tags")
	require.NoError(t, err)

	require.NoError(t, rel.Add(ctx, tagKeys[0], tagKeys[1]))
	keys, err := rel.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{tagKeys[0], tagKeys[1]}, keys)

	t.Run("add is idempotent", func(t *testing.T) {
		require.NoError(t, rel.Add(ctx, tagKeys[0]))
		keys, err := rel.Keys(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 2)
	})

	t.Run("add of a missing row fails", func(t *testing.T) {
		err := rel.Add(ctx, 99)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("get requires attachment", func(t *testing.T) {
		row, err := rel.Get(ctx, tagKeys[0])
		require.NoError(t, err)
		require.Equal(t, "go", row["label"])
		_, err = rel.Get(ctx, tagKeys[2])
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("remove of an unattached key fails", func(t *testing.T) {
		err := rel.Remove(ctx, tagKeys[2])
		require.Error(t, err)
	})

	t.Run("set replaces membership", func(t *testing.T) {
		require.NoError(t, rel.Set(ctx, tagKeys[2]))
		keys, err := rel.Keys(ctx)
		require.NoError(t, err)
		require.Equal(t, []int64{tagKeys[2]}, keys)
	})

	t.Run("deleting a row detaches it everywhere", func(t *testing.T) {
		_, err := s.BulkDelete(ctx, "Tag", KeyIn(tagKeys[2]))
		require.NoError(t, err)
		keys, err := rel.Keys(ctx)
		require.NoError(t, err)
		require.Empty(t, keys)
	})
}

func TestHasManyRelation(t *testing.T) {
	ctx := context.Background()
	s := NewMem(testRegistry(t))
	postKey, err := s.Create(ctx, "Post", Record{"title": "p"})
	require.NoError(t, err)
	orphan, err := s.Create(ctx, "Comment", Record{"text": "orphan"})
	require.NoError(t, err)
	child, err := s.Create(ctx, "Comment", Record{"text": "child", "post": postKey})
	require.NoError(t, err)

	rel, err := s.Relation(ctx, "Post", postKey, "comments")
	require.NoError(t, err)

	t.Run("add reassigns the foreign key", func(t *testing.T) {
		require.NoError(t, rel.Add(ctx, orphan))
		keys, err := rel.Keys(ctx)
		require.NoError(t, err)
		require.Equal(t, []int64{orphan, child}, keys)
	})

	t.Run("get rejects non-children", func(t *testing.T) {
		other, err := s.Create(ctx, "Comment", Record{"text": "other"})
		require.NoError(t, err)
		_, err = rel.Get(ctx, other)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("remove deletes rows", func(t *testing.T) {
		require.NoError(t, rel.Remove(ctx, orphan))
		_, err := s.Get(ctx, "Comment", orphan)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set is unsupported", func(t *testing.T) {
		require.Error(t, rel.Set(ctx, child))
	})
}

func TestRelationErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMem(testRegistry(t))
	postKey, err := s.Create(ctx, "Post", Record{"title": "p"})
	require.NoError(t, err)

	_, err = s.Relation(ctx, "Post", postKey, "title")
	require.Error(t, err)
	_, err = s.Relation(ctx, "Post", 99, "tags")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Relation(ctx, "Nope", 1, "tags")
	require.Error(t, err)
}

func TestCloneIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMem(testRegistry(t))
	key, err := s.Create(ctx, "Post", Record{"title": "p"})
	require.NoError(t, err)

	row, err := s.Get(ctx, "Post", key)
	require.NoError(t, err)
	row["title"] = "mutated"

	again, err := s.Get(ctx, "Post", key)
	require.NoError(t, err)
	if again["title"] != "p" {
		t.Fatalf("stored row was mutated through a returned copy: %v", again["title"])
	}
}
