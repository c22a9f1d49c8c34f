package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func doc(text string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":%q}]}]}`, text))
}

func TestCommitHistoryAndContentAt(t *testing.T) {
	svc := New(t.TempDir())

	first, changed, err := svc.Commit("page-1", Content{Title: "Plan", Type: "DOCUMENT", Doc: doc("v1")}, "Avery Q", "Create page")
	if err != nil || !changed {
		t.Fatalf("Commit() = %v, %v", changed, err)
	}
	second, changed, err := svc.Commit("page-1", Content{Title: "Plan", Type: "DOCUMENT", Doc: doc("v2")}, "Avery Q", "Edit page")
	if err != nil || !changed {
		t.Fatalf("Commit() second = %v, %v", changed, err)
	}

	history, err := svc.History("page-1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[0].Author != "Avery Q" {
		t.Fatalf("author = %q", history[0].Author)
	}

	old, err := svc.ContentAt("page-1", first.Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if string(normalizeDoc(old.Doc)) != string(normalizeDoc(doc("v1"))) {
		t.Fatalf("ContentAt() doc = %s", old.Doc)
	}

	limited, err := svc.History("page-1", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("History(limit 1) = %v, %v", limited, err)
	}
}

func TestCommitSkipsUnchangedContent(t *testing.T) {
	svc := New(t.TempDir())
	content := Content{Title: "Plan", Type: "DOCUMENT", Doc: json.RawMessage(`{"type":"doc", "content":[]}`)}

	first, _, err := svc.Commit("page-1", content, "Avery", "Create")
	if err != nil {
		t.Fatal(err)
	}
	// Same document with different whitespace.
	content.Doc = json.RawMessage(`{"content":[],"type":"doc"}`)
	again, changed, err := svc.Commit("page-1", content, "Avery", "Noop")
	if err != nil {
		t.Fatal(err)
	}
	if changed || again.Hash != first.Hash {
		t.Fatalf("expected no new revision, got %+v changed=%v", again, changed)
	}
}

func TestRestoreCommitsOldContent(t *testing.T) {
	svc := New(t.TempDir())
	first, _, _ := svc.Commit("page-1", Content{Title: "v1", Type: "DOCUMENT", Doc: doc("one")}, "Avery", "Create")
	if _, _, err := svc.Commit("page-1", Content{Title: "v2", Type: "DOCUMENT", Doc: doc("two")}, "Avery", "Edit"); err != nil {
		t.Fatal(err)
	}

	content, rev, err := svc.Restore("page-1", first.Hash, "Blake")
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if content.Title != "v1" || rev.Author != "Blake" {
		t.Fatalf("Restore() = %+v, %+v", content, rev)
	}
	history, _ := svc.History("page-1", 0)
	if len(history) != 3 || history[0].Message != "Restore revision "+first.Hash {
		t.Fatalf("unexpected history after restore: %+v", history)
	}
}

func TestMissingHistory(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("nope", 10); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("History() error = %v, want ErrNoHistory", err)
	}
	if _, err := svc.ContentAt("nope", "abc1234"); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("ContentAt() error = %v, want ErrNoHistory", err)
	}
}

func TestContentAtRejectsUnknownRevisions(t *testing.T) {
	svc := New(t.TempDir())
	if _, _, err := svc.Commit("page-1", Content{Title: "Plan", Type: "DOCUMENT", Doc: doc("v1")}, "Avery", "Create"); err != nil {
		t.Fatal(err)
	}

	for _, hash := range []string{
		"0000000000000000000000000000000000000000",
		"deadbeef",
		"HEAD~1",
		"main",
		"abc",
		"",
	} {
		if _, err := svc.ContentAt("page-1", hash); !errors.Is(err, ErrRevisionNotFound) {
			t.Errorf("ContentAt(%q) error = %v, want ErrRevisionNotFound", hash, err)
		}
		if _, _, err := svc.Restore("page-1", hash, "Avery"); !errors.Is(err, ErrRevisionNotFound) {
			t.Errorf("Restore(%q) error = %v, want ErrRevisionNotFound", hash, err)
		}
	}
}

func TestContentAtNormalizesHashCase(t *testing.T) {
	svc := New(t.TempDir())
	rev, _, err := svc.Commit("page-1", Content{Title: "Plan", Type: "DOCUMENT", Doc: doc("v1")}, "Avery", "Create")
	if err != nil {
		t.Fatal(err)
	}
	got, err := svc.ContentAt("page-1", strings.ToUpper(rev.Hash))
	if err != nil || got.Title != "Plan" {
		t.Fatalf("ContentAt(upper-case hash) = %+v, %v", got, err)
	}
}

func TestRemoveDeletesRepository(t *testing.T) {
	svc := New(t.TempDir())
	if _, _, err := svc.Commit("page-1", Content{Title: "x", Type: "DOCUMENT"}, "Avery", "Create"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Remove("page-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.History("page-1", 0); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("History() after Remove error = %v", err)
	}
	if err := svc.Remove("page-1"); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
}

func TestConcurrentCommitsSamePage(t *testing.T) {
	svc := New(t.TempDir())
	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			content := Content{Title: fmt.Sprintf("title-%02d", idx), Type: "DOCUMENT"}
			if _, _, err := svc.Commit("page-1", content, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("Commit() concurrent error = %v", err)
	}

	history, err := svc.History("page-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("expected %d commits, got %d", writers, len(history))
	}
}

func TestSanitizeEmail(t *testing.T) {
	cases := map[string]string{"Avery Q": "Avery.Q", "é!": "user", "a_b-c": "a.b.c"}
	for in, want := range cases {
		if got := sanitizeEmail(in); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
