package history

import (
	"testing"
	"time"
)

func TestRingEvictsOldestFirst(t *testing.T) {
	r := New(100) // minimum clamp
	for i := 0; i < 150; i++ {
		r.Add(Entry{ExecutionID: string(rune('a' + i%26)), Command: "echo x", Timestamp: time.Now()})
	}
	if r.Len() != 100 {
		t.Fatalf("Len = %d, want 100 (capacity)", r.Len())
	}
	if got, want := r.Snapshot()[0].ExecutionID, string(rune('a'+50%26)); got != want {
		t.Fatalf("oldest retained ExecutionID = %q, want %q (entry #50)", got, want)
	}
}

func TestResubmissionDenyKeepsCount(t *testing.T) {
	r := New(100)
	r.Add(Entry{ExecutionID: "e1", Command: "rm -rf /", SafetyClassification: "deny"})

	entry, ok := r.FindLastByCommand("rm -rf /")
	if !ok {
		t.Fatal("expected to find entry")
	}
	if entry.ResubmissionCount != 0 {
		t.Fatalf("ResubmissionCount = %d, want 0", entry.ResubmissionCount)
	}

	r.IncrementResubmission("e1")
	entry, _ = r.FindLastByCommand("rm -rf /")
	if entry.ResubmissionCount != 1 {
		t.Fatalf("ResubmissionCount after increment = %d, want 1", entry.ResubmissionCount)
	}
}

func TestPredictUserConfirmation(t *testing.T) {
	r := New(100)
	r.Add(Entry{Command: "rm file1", UserConfirmation: &ConfirmationContext{Response: true}})
	r.Add(Entry{Command: "rm file2", UserConfirmation: &ConfirmationContext{Response: true}})
	r.Add(Entry{Command: "rm file3", UserConfirmation: &ConfirmationContext{Response: false}})

	p := r.PredictUserConfirmation("rm file4")
	if !p.Likely {
		t.Fatalf("expected likely=true with 2/3 approval rate, got %+v", p)
	}
	if p.Confidence < 0.6 || p.Confidence > 0.7 {
		t.Fatalf("Confidence = %v, want ~0.667", p.Confidence)
	}
}

func TestSearchPagination(t *testing.T) {
	r := New(100)
	for i := 0; i < 5; i++ {
		r.Add(Entry{Command: "git status"})
	}
	entries, total := r.Search(SearchFilter{Query: "git", Limit: 2, Offset: 1})
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(entries) != 2 {
		t.Fatalf("page len = %d, want 2", len(entries))
	}
}
