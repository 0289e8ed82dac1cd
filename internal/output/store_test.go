package output

import (
	"testing"
)

func TestCreateAppendReadRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a, h, err := s.Create("exec-1", KindStdout, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Append(h, []byte("hello ")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(h, []byte("world")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Finalize(h); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := s.Read(a.ID, 0, 11)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("Read = %q, want %q", got, "hello world")
	}

	got, err = s.Read(a.ID, 6, 5)
	if err != nil {
		t.Fatalf("Read offset: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("Read offset = %q, want %q", got, "world")
	}
}

func TestDeleteRequiresConfirm(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, h, err := s.Create("", KindLog, "note")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = s.Append(h, []byte("x"))
	_ = s.Finalize(h)

	if err := s.Delete([]string{a.ID}, false); err == nil {
		t.Fatal("expected error when confirm=false")
	}
	if _, ok := s.Get(a.ID); !ok {
		t.Fatal("artifact should still exist after unconfirmed delete")
	}

	if err := s.Delete([]string{a.ID}, true); err != nil {
		t.Fatalf("Delete confirmed: %v", err)
	}
	if _, ok := s.Get(a.ID); ok {
		t.Fatal("artifact should be gone after confirmed delete")
	}
}

func TestListFiltersByExecution(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, h1, _ := s.Create("exec-a", KindStdout, "")
	_ = s.Finalize(h1)
	_, h2, _ := s.Create("exec-b", KindStdout, "")
	_ = s.Finalize(h2)

	got := s.List(Filter{ExecutionID: "exec-a"})
	if len(got) != 1 || got[0].ExecutionID != "exec-a" {
		t.Fatalf("List filter = %+v, want one exec-a artifact", got)
	}
}

func TestAutoCleanupPreservesRecent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var ids []string
	for i := 0; i < 3; i++ {
		a, h, _ := s.Create("", KindLog, "")
		_ = s.Append(h, []byte("x"))
		_ = s.Finalize(h)
		ids = append(ids, a.ID)
	}

	// maxAgeHours=0 means everything not preserved is "too old".
	res := s.PerformAutoCleanup(0, true, 2)
	if len(res.Deleted) != 1 {
		t.Fatalf("dry-run candidates = %d, want 1", len(res.Deleted))
	}
	for _, id := range ids {
		if _, ok := s.Get(id); !ok {
			t.Fatalf("dry run must not delete %s", id)
		}
	}

	res = s.PerformAutoCleanup(0, false, 2)
	if len(res.Deleted) != 1 {
		t.Fatalf("deleted = %d, want 1", len(res.Deleted))
	}
}
