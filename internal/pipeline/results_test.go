package pipeline

import (
	"testing"
	"time"
)

func TestContentHashHex(t *testing.T) {
	// SHA-256 of "hello world" is well-known.
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got := ContentHashHex([]byte("hello world")); got != want {
		t.Errorf("expected hash %q, got %q", want, got)
	}
	if ContentHashHex([]byte("aaa")) == ContentHashHex([]byte("bbb")) {
		t.Error("expected different hashes for different inputs")
	}
}

func TestResultStore_PutGet(t *testing.T) {
	store := NewResultStore(time.Hour)
	store.Put(&Result{ID: "r-1", Markdown: "# hi"})

	got := store.Get("r-1")
	if got == nil {
		t.Fatal("expected to get result back")
	}
	if got.Markdown != "# hi" {
		t.Errorf("expected markdown %q, got %q", "# hi", got.Markdown)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped on Put")
	}
}

func TestResultStore_GetMissing(t *testing.T) {
	if NewResultStore(time.Hour).Get("nonexistent") != nil {
		t.Error("expected nil for missing result")
	}
}

func TestResultStore_TTL(t *testing.T) {
	store := NewResultStore(time.Minute)
	clock := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	store.Put(&Result{ID: "old"})
	clock = clock.Add(2 * time.Minute)
	store.Put(&Result{ID: "new"})

	if store.Get("old") != nil {
		t.Error("expected expired result to be hidden before cleanup")
	}
	if n := store.Cleanup(); n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if store.Len() != 1 || store.Get("new") == nil {
		t.Error("expected fresh result to survive cleanup")
	}
}

func TestResultStore_CleanupEmpty(t *testing.T) {
	if n := NewResultStore(0).Cleanup(); n != 0 {
		t.Errorf("expected 0 evictions, got %d", n)
	}
}
