package facts

import (
	"context"
	"testing"
)

func TestRecordDeduplicatesByID(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	recorded, err := s.Record(ctx, Fact{ID: "f1", CallerID: "c1", ThreadID: "t1", Text: "likes jazz"})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !recorded {
		t.Fatalf("first Record() = false, want true")
	}

	recorded, err = s.Record(ctx, Fact{ID: "f1", CallerID: "c1", ThreadID: "t1", Text: "likes jazz"})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if recorded {
		t.Fatalf("duplicate Record() = true, want false")
	}

	got, err := s.List(ctx, "c1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("List() = %d facts, want 1", len(got))
	}
}

func TestRecordRequiresID(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Record(context.Background(), Fact{CallerID: "c1", Text: "no id"}); err != ErrMissingID {
		t.Fatalf("Record() error = %v, want ErrMissingID", err)
	}
}

func TestRecordScopesDedupeToCaller(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if ok, _ := s.Record(ctx, Fact{ID: "f1", CallerID: "c1", Text: "x"}); !ok {
		t.Fatalf("Record() for c1 = false, want true")
	}
	if ok, _ := s.Record(ctx, Fact{ID: "f1", CallerID: "c2", Text: "x"}); !ok {
		t.Fatalf("Record() for c2 = false, want true; dedupe must be per caller")
	}
}

func TestClearThreadResetsDedupe(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	_, _ = s.Record(ctx, Fact{ID: "f1", CallerID: "c1", ThreadID: "t1", Text: "a"})
	_, _ = s.Record(ctx, Fact{ID: "f2", CallerID: "c1", ThreadID: "t2", Text: "b"})

	if err := s.ClearThread(ctx, "c1", "t1"); err != nil {
		t.Fatalf("ClearThread() error = %v", err)
	}

	got, _ := s.List(ctx, "c1")
	if len(got) != 1 || got[0].ID != "f2" {
		t.Fatalf("List() after clear = %+v, want only f2", got)
	}

	// The cleared id is recordable again on the new thread.
	if ok, _ := s.Record(ctx, Fact{ID: "f1", CallerID: "c1", ThreadID: "t3", Text: "a"}); !ok {
		t.Fatalf("Record() after ClearThread = false, want true")
	}
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	if got := Normalize("  listener \n\t prefers   short answers "); got != "listener prefers short answers" {
		t.Fatalf("Normalize() = %q", got)
	}
}

func TestRedactPII(t *testing.T) {
	out, changed := RedactPII("email me at ana@example.com or call +1 (555) 123-4567")
	if !changed {
		t.Fatalf("RedactPII() changed = false, want true")
	}
	if out != "email me at [REDACTED_EMAIL] or call [REDACTED_PHONE]" {
		t.Fatalf("RedactPII() = %q", out)
	}

	out, changed = RedactPII("prefers espresso")
	if changed || out != "prefers espresso" {
		t.Fatalf("RedactPII() = (%q, %v), want unchanged", out, changed)
	}
}
