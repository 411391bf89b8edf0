package records

import (
	"context"
	"errors"
	"testing"
)

func seededResolverStore(t *testing.T) (*Store, *MemoryAdapter) {
	t.Helper()
	adapter := NewMemoryAdapter()
	if err := adapter.Seed("post",
		map[string]any{"id": "1", "title": "Hello", "comments": []any{"9", "10"}},
	); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := adapter.Seed("comment",
		map[string]any{"id": "9", "body": "first", "post": "1"},
		map[string]any{"id": "10", "body": "second", "post": "1"},
	); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return newBlogStore(t, adapter), adapter
}

func TestResolveAsyncFetchesMissingIDs(t *testing.T) {
	store, _ := seededResolverStore(t)
	ctx := context.Background()

	post, err := store.Find(ctx, "post", "1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	// The comments are referenced by id only at this point.
	if _, err := post.Many("comments"); err == nil {
		t.Fatal("unfetched ids should fail synchronous access")
	}

	pending, err := store.ResolveAsync(ctx, post, "comments")
	if err != nil {
		t.Fatalf("resolve async: %v", err)
	}
	comments, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(comments) != 2 || comments[0].ID() != "9" || comments[1].ID() != "10" {
		t.Fatalf("comments = %v", comments)
	}
	if comments[0].Get("body") != "first" {
		t.Errorf("body = %v", comments[0].Get("body"))
	}

	// Synchronous access works once the ids are materialized.
	many, err := post.Many("comments")
	if err != nil {
		t.Fatalf("many: %v", err)
	}
	if len(many) != 2 {
		t.Fatalf("many = %v", many)
	}
}

func TestResolveAsyncImmediateWhenMaterialized(t *testing.T) {
	store, _ := seededResolverStore(t)
	ctx := context.Background()

	post, err := store.Find(ctx, "post", "1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	first, err := store.ResolveAsync(ctx, post, "comments")
	if err != nil {
		t.Fatalf("resolve async: %v", err)
	}
	if _, err := first.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	again, err := store.ResolveAsync(ctx, post, "comments")
	if err != nil {
		t.Fatalf("resolve async: %v", err)
	}
	if !again.Resolved() {
		t.Error("fully materialized relationship should resolve immediately")
	}
	resolved, err := again.Wait(ctx)
	if err != nil || len(resolved) != 2 {
		t.Fatalf("resolved = %v, %v", resolved, err)
	}
}

func TestResolveAsyncSharesPendingHandle(t *testing.T) {
	gate := make(chan struct{})
	adapter := AdapterFunc(func(_ context.Context, op Operation, params Params) (any, error) {
		if op == OpFind && params.Type == "comment" {
			<-gate
			return map[string]any{"id": params.ID}, nil
		}
		return map[string]any{"id": "1", "comments": []any{"9"}}, nil
	})
	store := newBlogStore(t, adapter)
	ctx := context.Background()

	post, err := store.Find(ctx, "post", "1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	first, err := store.ResolveAsync(ctx, post, "comments")
	if err != nil {
		t.Fatalf("resolve async: %v", err)
	}
	second, err := store.ResolveAsync(ctx, post, "comments")
	if err != nil {
		t.Fatalf("resolve async: %v", err)
	}
	if first != second {
		t.Fatal("repeated access before resolution must share the handle")
	}

	close(gate)
	if _, err := first.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestResolveAsyncLink(t *testing.T) {
	adapter := NewMemoryAdapter()
	if err := adapter.Seed("post", map[string]any{"id": "1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	adapter.SeedLink("/posts/1/comments",
		map[string]any{"id": "9", "body": "via link"},
		map[string]any{"id": "10", "body": "also via link"},
	)
	store := newBlogStore(t, adapter)
	ctx := context.Background()

	// Merge a post whose comments arrive as a deferred link.
	result, err := store.serializer.NormalizeBytes("post", []byte(`{
		"id": "1",
		"links": {"comments": "/posts/1/comments"}
	}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	post, err := store.identity.merge(result.Primary[0])
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	// Sync access on a link-only relationship is a hard error.
	if _, err := store.Resolve(post, "comments"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for link-only relationship, got %v", err)
	}

	pending, err := store.ResolveAsync(ctx, post, "comments")
	if err != nil {
		t.Fatalf("resolve async: %v", err)
	}
	comments, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(comments) != 2 || comments[0].Get("body") != "via link" {
		t.Fatalf("comments = %v", comments)
	}

	// The reference now carries the resolved ids.
	ref, err := post.Ref("comments")
	if err != nil {
		t.Fatalf("ref: %v", err)
	}
	if !ref.Loaded() {
		t.Error("reference should be loaded after link resolution")
	}
	if ids := ref.IDs(); len(ids) != 2 || ids[0] != "9" {
		t.Errorf("ids = %v", ids)
	}
}

func TestResolveAsyncEmptyRelationship(t *testing.T) {
	store, _ := seededResolverStore(t)
	ctx := context.Background()

	post, err := store.Find(ctx, "post", "1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	pending, err := store.ResolveAsync(ctx, post, "author")
	if err != nil {
		t.Fatalf("resolve async: %v", err)
	}
	resolved, err := pending.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(resolved) != 0 {
		t.Errorf("resolved = %v, want empty", resolved)
	}
}

func TestResolveSynchronous(t *testing.T) {
	store := newBlogStore(t, &scriptedAdapter{})
	if _, err := store.identity.merge(NormalizedRecord{Type: "comment", ID: "9"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	post, err := store.identity.merge(NormalizedRecord{
		Type: "post",
		ID:   "1",
		Relationships: map[string]RawRel{
			"comments": {Loaded: true, Many: []string{"9"}},
		},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	resolved, err := store.Resolve(post, "comments")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 1 || resolved[0].ID() != "9" {
		t.Fatalf("resolved = %v", resolved)
	}
}
