package records

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMergeReturnsCanonicalInstance(t *testing.T) {
	identity := NewIdentityMap(newBlogRegistry(t))

	first, err := identity.merge(NormalizedRecord{
		Type:       "post",
		ID:         "1",
		Attributes: map[string]any{"title": "Hello", "views": float64(3)},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	second, err := identity.merge(NormalizedRecord{
		Type:       "post",
		ID:         "1",
		Attributes: map[string]any{"views": float64(7)},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if first != second {
		t.Fatal("merging the same id twice must return the same instance")
	}

	// Partial merge: only present fields overwrite.
	if got := first.Get("views"); got != float64(7) {
		t.Errorf("views = %v, want 7", got)
	}
	if got := first.Get("title"); got != "Hello" {
		t.Errorf("title = %v, want untouched value", got)
	}
	if first.State() != StatePersisted {
		t.Errorf("state = %v, want persisted", first.State())
	}
}

func TestMergeDropsUndeclaredFields(t *testing.T) {
	identity := NewIdentityMap(newBlogRegistry(t))

	rec, err := identity.merge(NormalizedRecord{
		Type:       "post",
		ID:         "1",
		Attributes: map[string]any{"title": "Hi", "surprise": "ignored"},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := rec.Get("surprise"); got != nil {
		t.Errorf("undeclared attribute leaked through merge: %v", got)
	}
}

func TestMergeRejectsMissingID(t *testing.T) {
	identity := NewIdentityMap(newBlogRegistry(t))
	_, err := identity.merge(NormalizedRecord{Type: "post"})
	var malformed *MalformedPayloadError
	if !errors.As(err, &malformed) {
		t.Fatalf("want MalformedPayloadError, got %v", err)
	}
}

func TestMergeRejectsUnknownType(t *testing.T) {
	identity := NewIdentityMap(newBlogRegistry(t))
	if _, err := identity.merge(NormalizedRecord{Type: "gadget", ID: "1"}); err == nil {
		t.Fatal("want error for unregistered type")
	}
}

func TestAllPreservesInsertionOrder(t *testing.T) {
	identity := NewIdentityMap(newBlogRegistry(t))
	for _, id := range []string{"3", "1", "2"} {
		if _, err := identity.merge(NormalizedRecord{Type: "post", ID: id}); err != nil {
			t.Fatalf("merge %s: %v", id, err)
		}
	}
	all := identity.All("post")
	want := []string{"3", "1", "2"}
	if len(all) != len(want) {
		t.Fatalf("len = %d, want %d", len(all), len(want))
	}
	for i, rec := range all {
		if rec.ID() != want[i] {
			t.Errorf("all[%d] = %s, want %s", i, rec.ID(), want[i])
		}
	}
}

func TestAddMaterializesNewRecord(t *testing.T) {
	identity := NewIdentityMap(newBlogRegistry(t))

	rec, err := identity.add("post", "tmp-1", map[string]any{"title": "Draft"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if rec.State() != StateNew {
		t.Errorf("state = %v, want new", rec.State())
	}
	if !rec.HasTemporaryID() {
		t.Error("client-created record should carry a temporary id")
	}
	if got := rec.ChangedAttributes()["title"]; got != "Draft" {
		t.Errorf("staged title = %v", got)
	}

	if _, err := identity.add("post", "tmp-1", nil); err == nil {
		t.Fatal("want error for duplicate id")
	}
	if _, err := identity.add("post", "tmp-2", map[string]any{"nope": 1}); err == nil {
		t.Fatal("want error for undeclared attribute")
	}
}

func TestRemoveLeavesDanglingReference(t *testing.T) {
	identity := NewIdentityMap(newBlogRegistry(t))

	if _, err := identity.merge(NormalizedRecord{Type: "comment", ID: "9"}); err != nil {
		t.Fatalf("merge comment: %v", err)
	}
	post, err := identity.merge(NormalizedRecord{
		Type: "post",
		ID:   "1",
		Relationships: map[string]RawRel{
			"comments": {Loaded: true, Many: []string{"9"}},
		},
	})
	if err != nil {
		t.Fatalf("merge post: %v", err)
	}

	comment, _ := identity.Lookup("comment", "9")
	identity.Remove("comment", "9")
	if comment.State() != StateUnloaded {
		t.Errorf("state = %v, want unloaded", comment.State())
	}

	// Dangling references resolve to absent, not to an error.
	many, err := post.Many("comments")
	if err != nil {
		t.Fatalf("many: %v", err)
	}
	if len(many) != 0 {
		t.Errorf("dangling reference materialized: %v", many)
	}
}

func TestResolveIDDistinguishesUnseenFromUnloaded(t *testing.T) {
	identity := NewIdentityMap(newBlogRegistry(t))

	if _, err := identity.resolveID("post", "404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unseen id should be ErrNotFound, got %v", err)
	}

	if _, err := identity.merge(NormalizedRecord{Type: "post", ID: "1"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	identity.Remove("post", "1")
	rec, err := identity.resolveID("post", "1")
	if err != nil || rec != nil {
		t.Fatalf("unloaded id should resolve to absent, got %v, %v", rec, err)
	}

	// Merging the id again clears the tombstone.
	if _, err := identity.merge(NormalizedRecord{Type: "post", ID: "1"}); err != nil {
		t.Fatalf("re-merge: %v", err)
	}
	rec, err = identity.resolveID("post", "1")
	if err != nil || rec == nil {
		t.Fatalf("re-merged id should resolve, got %v, %v", rec, err)
	}
}

func TestReindexReplacesTemporaryID(t *testing.T) {
	identity := NewIdentityMap(newBlogRegistry(t))
	rec, err := identity.add("post", "tmp-1", nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	identity.reindex(rec, "42")

	if rec.ID() != "42" {
		t.Errorf("id = %s, want 42", rec.ID())
	}
	if rec.HasTemporaryID() {
		t.Error("temporary flag should clear on reindex")
	}
	if _, ok := identity.Lookup("post", "tmp-1"); ok {
		t.Error("temporary id should be gone from the map")
	}
	canonical, ok := identity.Lookup("post", "42")
	if !ok || canonical != rec {
		t.Error("server id should map to the same instance")
	}
	if all := identity.All("post"); len(all) != 1 || all[0] != rec {
		t.Errorf("order index broken after reindex: %v", all)
	}
}

func TestClearUnloadsEverything(t *testing.T) {
	identity := NewIdentityMap(newBlogRegistry(t))
	rec, err := identity.merge(NormalizedRecord{Type: "post", ID: "1"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	identity.Clear()

	if rec.State() != StateUnloaded {
		t.Errorf("state = %v, want unloaded", rec.State())
	}
	if len(identity.All("post")) != 0 {
		t.Error("identity map should be empty after clear")
	}
}

// Exercised under -race: the record must stay readable (stale values
// visible) while merges land in the background.
func TestRecordReadableDuringMerge(t *testing.T) {
	identity := NewIdentityMap(newBlogRegistry(t))
	rec, err := identity.merge(NormalizedRecord{
		Type:       "post",
		ID:         "1",
		Attributes: map[string]any{"title": "Hello"},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := identity.merge(NormalizedRecord{Type: "comment", ID: "10"}); err != nil {
		t.Fatalf("merge comment: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if got := rec.Get("title"); got == nil {
				t.Error("title must stay visible during merges")
				return
			}
			if _, err := rec.Many("comments"); err != nil {
				t.Errorf("many: %v", err)
				return
			}
			_ = rec.snapshot()
			_ = rec.AttributeNames()
		}
	}()

	for i := 0; i < 500; i++ {
		if _, err := identity.merge(NormalizedRecord{
			Type:       "post",
			ID:         "1",
			Attributes: map[string]any{"title": fmt.Sprintf("Hello %d", i)},
			Relationships: map[string]RawRel{
				"comments": {Loaded: true, Many: []string{"10"}},
			},
		}); err != nil {
			t.Fatalf("merge: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}
