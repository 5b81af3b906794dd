package history

import (
	"encoding/json"
	"testing"
)

func TestEnsureDocumentRepoIdempotent(t *testing.T) {
	svc := New(t.TempDir())

	initial := Snapshot{Title: "Untitled", Content: json.RawMessage(`{}`)}
	if err := svc.EnsureDocumentRepo("doc-1", initial, "Ada"); err != nil {
		t.Fatalf("first ensure failed: %v", err)
	}
	if err := svc.EnsureDocumentRepo("doc-1", initial, "Ada"); err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}

	commits, err := svc.History("doc-1", 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(commits) != 1 {
		t.Fatalf("expected 1 baseline commit, got %d", len(commits))
	}
}

func TestCommitSnapshotAndHistory(t *testing.T) {
	svc := New(t.TempDir())

	if err := svc.EnsureDocumentRepo("doc-2", Snapshot{Title: "Untitled"}, "Ada"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	first, err := svc.CommitSnapshot("doc-2", Snapshot{
		Title:   "Plan",
		Content: json.RawMessage(`{"text":"draft"}`),
	}, "Ada", "Save document")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if first.Hash == "" {
		t.Fatal("expected commit hash")
	}

	_, err = svc.CommitSnapshot("doc-2", Snapshot{
		Title:   "Plan v2",
		Content: json.RawMessage(`{"text":"final"}`),
	}, "Grace", "Save document")
	if err != nil {
		t.Fatalf("second commit failed: %v", err)
	}

	commits, err := svc.History("doc-2", 0)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(commits))
	}
	if commits[0].Author != "Grace" {
		t.Errorf("expected newest commit first, got author %s", commits[0].Author)
	}

	limited, err := svc.History("doc-2", 2)
	if err != nil {
		t.Fatalf("limited history failed: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 commits with limit, got %d", len(limited))
	}
}

func TestGetSnapshotByHash(t *testing.T) {
	svc := New(t.TempDir())

	if err := svc.EnsureDocumentRepo("doc-3", Snapshot{Title: "Untitled"}, "Ada"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	commit, err := svc.CommitSnapshot("doc-3", Snapshot{
		Title:   "Notes",
		Content: json.RawMessage(`{"text":"hello"}`),
	}, "Ada", "Save document")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	snapshot, err := svc.GetSnapshotByHash("doc-3", commit.Hash)
	if err != nil {
		t.Fatalf("get snapshot failed: %v", err)
	}
	if snapshot.Title != "Notes" {
		t.Errorf("expected title Notes, got %s", snapshot.Title)
	}
}

func TestHistoryUnknownDocument(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("missing", 0); err == nil {
		t.Error("expected error for unknown document")
	}
}
