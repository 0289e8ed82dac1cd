package ptysession

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func waitForLine(t *testing.T, m *Manager, terminalID, substr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		out, err := m.GetOutput(terminalID, intPtr(1), 0, true, false)
		if err != nil {
			t.Fatalf("GetOutput: %v", err)
		}
		for _, l := range out.Lines {
			if strings.Contains(l, substr) {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for output containing %q", substr)
}

func intPtr(v int) *int { return &v }

func TestCreateSendInputGetOutputRoundTrip(t *testing.T) {
	m := New(1000, "")
	info, err := m.Create(CreateOptions{ShellType: ShellBash, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _, _ = m.Close(info.TerminalID, false) })

	if info.Status != StatusActive {
		t.Fatalf("Status = %v, want active", info.Status)
	}
	if info.ProcessID == 0 {
		t.Fatal("expected a non-zero shell pid")
	}

	if _, err := m.SendInput(info.TerminalID, "echo ptysession_marker_123", true, false, false, "", true); err != nil {
		t.Fatalf("SendInput: %v", err)
	}

	waitForLine(t, m, info.TerminalID, "ptysession_marker_123", 3*time.Second)
}

func TestCreateRejectsOutOfRangeDimensions(t *testing.T) {
	m := New(1000, "")
	_, err := m.Create(CreateOptions{ShellType: ShellBash, Cols: 0, Rows: 999})
	if err == nil {
		t.Fatal("expected error for out-of-range dimensions")
	}
}

func TestCreateRejectsUnknownShellType(t *testing.T) {
	m := New(1000, "")
	_, err := m.Create(CreateOptions{ShellType: "cobol"})
	if err == nil {
		t.Fatal("expected error for unsupported shell_type")
	}
}

func TestGetUnknownTerminalFails(t *testing.T) {
	m := New(1000, "")
	if _, err := m.Get("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown terminal id")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := New(1000, "")
	info, err := m.Create(CreateOptions{ShellType: ShellBash})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := m.Close(info.TerminalID, false); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	res, err := m.Close(info.TerminalID, false)
	if err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if res.FinalStatus != StatusClosed {
		t.Fatalf("FinalStatus = %v, want closed", res.FinalStatus)
	}
}

func TestCloseWithSaveHistoryWritesScrollbackFile(t *testing.T) {
	dir := t.TempDir()
	m := New(1000, dir)
	info, err := m.Create(CreateOptions{ShellType: ShellBash})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := m.SendInput(info.TerminalID, "echo history_marker_456", true, false, false, "", true); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	waitForLine(t, m, info.TerminalID, "history_marker_456", 3*time.Second)

	res, err := m.Close(info.TerminalID, true)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !res.HistorySaved {
		t.Fatalf("HistorySaved = false, HistorySaveErr = %q, want a successful save", res.HistorySaveErr)
	}
	if res.HistorySaveErr != "" {
		t.Fatalf("HistorySaveErr = %q, want empty on success", res.HistorySaveErr)
	}

	path := filepath.Join(dir, info.TerminalID+".log")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected history file at %s: %v", path, err)
	}
	if !strings.Contains(string(content), "history_marker_456") {
		t.Fatalf("history file missing expected content, got %q", content)
	}
}

func TestCloseWithoutSaveHistorySkipsWrite(t *testing.T) {
	dir := t.TempDir()
	m := New(1000, dir)
	info, err := m.Create(CreateOptions{ShellType: ShellBash})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := m.Close(info.TerminalID, false)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.HistorySaved {
		t.Fatal("HistorySaved = true, want false when save_history was not requested")
	}

	if _, err := os.Stat(filepath.Join(dir, info.TerminalID+".log")); !os.IsNotExist(err) {
		t.Fatalf("expected no history file to be written, stat err = %v", err)
	}
}

func TestCloseWithSaveHistoryButNoDirReportsError(t *testing.T) {
	m := New(1000, "")
	info, err := m.Create(CreateOptions{ShellType: ShellBash})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := m.Close(info.TerminalID, true)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.HistorySaved {
		t.Fatal("HistorySaved = true, want false with no history directory configured")
	}
	if res.HistorySaveErr == "" {
		t.Fatal("expected a HistorySaveErr explaining why nothing was persisted")
	}
}

func TestUnreadOutputInterlockBlocksWithoutForce(t *testing.T) {
	m := New(1000, "")
	info, err := m.Create(CreateOptions{ShellType: ShellBash})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _, _ = m.Close(info.TerminalID, false) })

	if _, err := m.SendInput(info.TerminalID, "echo first_marker", true, false, false, "", true); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	waitForLine(t, m, info.TerminalID, "first_marker", 3*time.Second)

	if _, err := m.SendInput(info.TerminalID, "echo second_marker", true, false, false, "", false); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	res, err := m.SendInput(info.TerminalID, "echo third_marker", true, false, false, "", false)
	if err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	if !res.Rejected {
		t.Fatal("expected unread-output interlock to reject the third send without force_input")
	}
}
