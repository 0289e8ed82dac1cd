package execsupervisor

import (
	"context"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/joestump/mcp-shell-server/internal/output"
)

type fakeExitError struct{ code int }

func (e *fakeExitError) Error() string  { return "exit status" }
func (e *fakeExitError) ExitCode() int { return e.code }

type discardWriteCloser struct{}

func (discardWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriteCloser) Close() error                { return nil }

type fakeBackend struct {
	output   string
	stderr   string
	exitCode int
	fail     error
	sawPID   int
}

func (f *fakeBackend) Start(ctx context.Context, command, workdir string, env []string, detached bool) (*StartedProcess, error) {
	if f.fail != nil {
		return nil, f.fail
	}

	stdoutR, stdoutW := io.Pipe()
	go func() {
		_, _ = stdoutW.Write([]byte(f.output))
		_ = stdoutW.Close()
	}()

	stderrR, stderrW := io.Pipe()
	go func() {
		_, _ = stderrW.Write([]byte(f.stderr))
		_ = stderrW.Close()
	}()

	var waitErr error
	if f.exitCode != 0 {
		waitErr = &fakeExitError{code: f.exitCode}
	}

	return &StartedProcess{
		PID:    4242,
		Stdin:  discardWriteCloser{},
		Stdout: stdoutR,
		Stderr: stderrR,
		Wait:   func() error { return waitErr },
		Signal: func(syscall.Signal) error { return nil },
	}, nil
}

type blockingBackend struct {
	release chan struct{}
}

func (b *blockingBackend) Start(ctx context.Context, command, workdir string, env []string, detached bool) (*StartedProcess, error) {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		<-b.release
		_ = stdoutW.Close()
		_ = stderrW.Close()
	}()
	return &StartedProcess{
		PID:    1,
		Stdin:  discardWriteCloser{},
		Stdout: stdoutR,
		Stderr: stderrR,
		Wait: func() error {
			<-b.release
			return nil
		},
		Signal: func(syscall.Signal) error { return nil },
	}, nil
}

func newTestStore(t *testing.T) *output.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := output.New(dir)
	if err != nil {
		t.Fatalf("output.New: %v", err)
	}
	return st
}

func TestExecuteForegroundCapturesOutput(t *testing.T) {
	backend := &fakeBackend{output: "hello world\n"}
	sup := New(backend, newTestStore(t), nil, 4, "/tmp", nil)

	rec, err := sup.Execute(context.Background(), ExecuteOptions{
		Command:        "echo hello world",
		Mode:           ModeForeground,
		TimeoutSeconds: 5,
		MaxOutputSize:  1 << 20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("Status = %v, want completed", rec.Status)
	}
	if string(rec.Stdout) != "hello world\n" {
		t.Fatalf("Stdout = %q", rec.Stdout)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 0 {
		t.Fatalf("ExitCode = %v, want 0", rec.ExitCode)
	}
}

func TestExecuteNonZeroExitIsFailed(t *testing.T) {
	backend := &fakeBackend{output: "oops\n", exitCode: 1}
	sup := New(backend, newTestStore(t), nil, 4, "/tmp", nil)

	rec, err := sup.Execute(context.Background(), ExecuteOptions{
		Command:        "false",
		Mode:           ModeForeground,
		TimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusFailed {
		t.Fatalf("Status = %v, want failed", rec.Status)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 1 {
		t.Fatalf("ExitCode = %v, want 1", rec.ExitCode)
	}
}

func TestExecuteCapturesStderrAsSeparateArtifactWhenNotMerged(t *testing.T) {
	backend := &fakeBackend{output: "out\n", stderr: "warn: oops\n"}
	sup := New(backend, newTestStore(t), nil, 4, "/tmp", nil)

	rec, err := sup.Execute(context.Background(), ExecuteOptions{
		Command:        "mycmd",
		Mode:           ModeForeground,
		TimeoutSeconds: 5,
		MaxOutputSize:  1 << 20,
		CaptureStderr:  false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(rec.Stdout) != "out\n" {
		t.Fatalf("Stdout = %q", rec.Stdout)
	}
	if string(rec.Stderr) != "warn: oops\n" {
		t.Fatalf("Stderr = %q, want separate stderr captured", rec.Stderr)
	}
	if rec.OutputID == "" {
		t.Fatal("expected a populated stdout output_id")
	}
	if rec.StderrOutputID == "" {
		t.Fatal("expected a populated stderr output_id")
	}
	if rec.StderrOutputID == rec.OutputID {
		t.Fatal("stderr output_id should be a distinct artifact from stdout's")
	}

	stdoutArtifact, ok := sup.store.Get(rec.OutputID)
	if !ok {
		t.Fatalf("Get(stdout artifact): not found")
	}
	stderrArtifact, ok := sup.store.Get(rec.StderrOutputID)
	if !ok {
		t.Fatalf("Get(stderr artifact): not found")
	}
	if stdoutArtifact.ExecutionID != stderrArtifact.ExecutionID {
		t.Fatalf("artifacts do not share an origin: stdout=%q stderr=%q", stdoutArtifact.ExecutionID, stderrArtifact.ExecutionID)
	}
	if stdoutArtifact.ExecutionID != rec.ExecutionID {
		t.Fatalf("artifact ExecutionID = %q, want %q", stdoutArtifact.ExecutionID, rec.ExecutionID)
	}
}

func TestExecuteMergesStderrWhenCaptureStderrEnabled(t *testing.T) {
	backend := &fakeBackend{output: "out\n", stderr: "err\n"}
	sup := New(backend, newTestStore(t), nil, 4, "/tmp", nil)

	rec, err := sup.Execute(context.Background(), ExecuteOptions{
		Command:        "mycmd",
		Mode:           ModeForeground,
		TimeoutSeconds: 5,
		MaxOutputSize:  1 << 20,
		CaptureStderr:  true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.StderrOutputID != "" {
		t.Fatalf("StderrOutputID = %q, want empty when merging into a single stream", rec.StderrOutputID)
	}
	if rec.OutputID == "" {
		t.Fatal("expected a populated output_id")
	}
}

func TestExecuteRejectsEmptyCommand(t *testing.T) {
	sup := New(&fakeBackend{}, newTestStore(t), nil, 4, "/tmp", nil)
	_, err := sup.Execute(context.Background(), ExecuteOptions{Command: "  ", Mode: ModeForeground, TimeoutSeconds: 1})
	if err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecuteRejectsConflictingStdinSources(t *testing.T) {
	sup := New(&fakeBackend{}, newTestStore(t), nil, 4, "/tmp", nil)
	_, err := sup.Execute(context.Background(), ExecuteOptions{
		Command:       "cat",
		Mode:          ModeForeground,
		TimeoutSeconds: 1,
		StdinData:     []byte("x"),
		StdinOutputID: "some-id",
	})
	if err == nil {
		t.Fatal("expected error for mutually exclusive stdin sources")
	}
}

func TestExecuteRejectsBadAdaptiveTimeouts(t *testing.T) {
	sup := New(&fakeBackend{}, newTestStore(t), nil, 4, "/tmp", nil)
	_, err := sup.Execute(context.Background(), ExecuteOptions{
		Command:                  "sleep 1",
		Mode:                     ModeAdaptive,
		TimeoutSeconds:           5,
		ForegroundTimeoutSeconds: 10,
	})
	if err == nil {
		t.Fatal("expected error when foreground_timeout_seconds >= timeout_seconds")
	}
}

func TestExecuteBackgroundReturnsImmediately(t *testing.T) {
	backend := &fakeBackend{output: "bg\n"}
	sup := New(backend, newTestStore(t), nil, 4, "/tmp", nil)

	rec, err := sup.Execute(context.Background(), ExecuteOptions{
		Command: "sleep 0",
		Mode:    ModeBackground,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusRunning {
		t.Fatalf("Status = %v, want running immediately after spawn", rec.Status)
	}

	deadline := time.After(time.Second)
	for {
		got, _ := sup.Get(rec.ExecutionID)
		if got.Status == StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("background execution never completed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestExecuteAdaptiveTransitionsToBackgroundOnTimeout(t *testing.T) {
	release := make(chan struct{})
	backend := &blockingBackend{release: release}
	sup := New(backend, newTestStore(t), nil, 4, "/tmp", nil)

	rec, err := sup.Execute(context.Background(), ExecuteOptions{
		Command:                  "sleep 10",
		Mode:                     ModeAdaptive,
		ForegroundTimeoutSeconds: 1,
		TimeoutSeconds:           600,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusRunning {
		t.Fatalf("Status = %v, want running after adaptive transition", rec.Status)
	}
	if rec.TransitionReason != TransitionForegroundTimeout {
		t.Fatalf("TransitionReason = %v, want foreground_timeout", rec.TransitionReason)
	}
	if rec.OutputID == "" {
		t.Fatal("expected a populated output_id after adaptive transition")
	}
	close(release)
}

func TestSetDefaultWorkingDirectoryRejectsDisallowed(t *testing.T) {
	sup := New(&fakeBackend{}, newTestStore(t), nil, 4, "/tmp", func(dir string) bool { return dir == "/tmp" })
	if err := sup.SetDefaultWorkingDirectory("/etc"); err == nil {
		t.Fatal("expected rejection of a disallowed working directory")
	}
	if err := sup.SetDefaultWorkingDirectory("/tmp"); err != nil {
		t.Fatalf("unexpected error for allowed directory: %v", err)
	}
}
