package execsupervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/joestump/mcp-shell-server/internal/apperr"
	"github.com/joestump/mcp-shell-server/internal/output"
)

const defaultInlineCap = 1 << 20 // ~1 MiB inline prefix

// TerminalCreator is the subset of the PTY Session Manager the
// Supervisor needs to spawn a command into a fresh terminal. Defined
// here (rather than imported from ptysession) to avoid a import cycle;
// ptysession.Manager satisfies this interface.
type TerminalCreator interface {
	CreateForCommand(shellType, workdir string, env map[string]string, cols, rows int, firstInput string) (terminalID string, err error)
}

// Supervisor is the Execution Supervisor: it owns Execution Records for
// the life of the process and drives spawn/capture/signal for each one.
type Supervisor struct {
	backend   ExecBackend
	store     *output.Store
	terminals TerminalCreator
	sem       chan struct{}
	inlineCap int

	mu               sync.RWMutex
	records          map[string]*ExecutionRecord
	defaultWorkdir   string
	allowedWorkdirs  func(string) bool
}

// New creates a Supervisor. maxConcurrent bounds in-flight executions
// via a buffered semaphore (spec.md's MCP_SHELL_MAX_CONCURRENT).
// isWorkdirAllowed should be config.Config.IsWorkdirAllowed (or an
// equivalent) and may be nil to allow any directory.
func New(backend ExecBackend, store *output.Store, terminals TerminalCreator, maxConcurrent int, defaultWorkdir string, isWorkdirAllowed func(string) bool) *Supervisor {
	if maxConcurrent <= 0 {
		maxConcurrent = 50
	}
	if isWorkdirAllowed == nil {
		isWorkdirAllowed = func(string) bool { return true }
	}
	return &Supervisor{
		backend:         backend,
		store:           store,
		terminals:       terminals,
		sem:             make(chan struct{}, maxConcurrent),
		inlineCap:       defaultInlineCap,
		records:         make(map[string]*ExecutionRecord),
		defaultWorkdir:  defaultWorkdir,
		allowedWorkdirs: isWorkdirAllowed,
	}
}

// SetDefaultWorkingDirectory updates the default workdir used when an
// ExecuteOptions omits one. path must be within the configured allow-list.
func (s *Supervisor) SetDefaultWorkingDirectory(path string) error {
	if !s.allowedWorkdirs(path) {
		return apperr.Param("WORKDIR_NOT_ALLOWED", fmt.Sprintf("%s is not within the allowed working directories", path))
	}
	s.mu.Lock()
	s.defaultWorkdir = path
	s.mu.Unlock()
	return nil
}

// Get returns the record for executionID.
func (s *Supervisor) Get(executionID string) (ExecutionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[executionID]
	if !ok {
		return ExecutionRecord{}, false
	}
	return *r, true
}

// List returns records matching filter, newest first, with the total
// match count before pagination.
func (s *Supervisor) List(filter ListFilter) ([]ExecutionRecord, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []ExecutionRecord
	for _, r := range s.records {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.CommandPattern != "" && !strings.Contains(r.Command, filter.CommandPattern) {
			continue
		}
		if filter.TerminalID != "" && r.TerminalID != filter.TerminalID {
			continue
		}
		matches = append(matches, *r)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })

	total := len(matches)
	limit := filter.Limit
	if limit <= 0 {
		limit = total
	}
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matches[start:end], total
}

// Signal delivers sig to processID. force escalates to KILL after a
// short grace period if the initial signal doesn't stop the process
// (best-effort: the Supervisor does not block waiting to confirm exit
// beyond the grace window).
func (s *Supervisor) Signal(processID int, sig syscall.Signal, force bool) SignalResult {
	s.mu.RLock()
	var owned bool
	for _, r := range s.records {
		if r.ProcessID == processID {
			owned = true
			break
		}
	}
	s.mu.RUnlock()

	res := SignalResult{ProcessID: processID, Signal: sig.String(), Owned: owned}

	if err := syscall.Kill(processID, sig); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Delivered = true

	if force {
		go func() {
			time.Sleep(2 * time.Second)
			_ = syscall.Kill(processID, syscall.SIGKILL)
		}()
	}
	return res
}

// Execute spawns opts.Command per its Mode and returns the resulting
// Execution Record. For foreground/adaptive modes this call blocks (up
// to the relevant timeout); for background/detached it returns once the
// child has been spawned.
func (s *Supervisor) Execute(ctx context.Context, opts ExecuteOptions) (ExecutionRecord, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return ExecutionRecord{}, apperr.Param("COMMAND_REQUIRED", "command must not be empty")
	}
	if len(opts.StdinData) > 0 && opts.StdinOutputID != "" {
		return ExecutionRecord{}, apperr.Param("STDIN_SOURCE_CONFLICT", "stdin_data and stdin_output_id are mutually exclusive")
	}
	if opts.Mode == ModeAdaptive && opts.ForegroundTimeoutSeconds >= opts.TimeoutSeconds {
		return ExecutionRecord{}, apperr.Param("TIMEOUT_ORDER", "timeout_seconds must exceed foreground_timeout_seconds in adaptive mode")
	}

	workdir := opts.WorkingDirectory
	if workdir == "" {
		s.mu.RLock()
		workdir = s.defaultWorkdir
		s.mu.RUnlock()
	}
	if workdir != "" && !s.allowedWorkdirs(workdir) {
		return ExecutionRecord{}, apperr.Param("WORKDIR_NOT_ALLOWED", fmt.Sprintf("%s is not within the allowed working directories", workdir))
	}

	var stdinBytes []byte
	if opts.StdinOutputID != "" {
		artifact, ok := s.store.Get(opts.StdinOutputID)
		if !ok {
			return ExecutionRecord{}, apperr.Resource("STDIN_OUTPUT_NOT_FOUND", fmt.Sprintf("output %s not found", opts.StdinOutputID))
		}
		b, err := s.store.Read(opts.StdinOutputID, 0, artifact.Size)
		if err != nil {
			return ExecutionRecord{}, err
		}
		stdinBytes = b
	} else if len(opts.StdinData) > 0 {
		stdinBytes = opts.StdinData
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ExecutionRecord{}, apperr.Resource("CONCURRENCY_LIMIT", "timed out waiting for an execution slot")
	}

	record := &ExecutionRecord{
		ExecutionID:      uuid.NewString(),
		Command:          opts.Command,
		Status:           StatusRunning,
		WorkingDirectory: workdir,
		Environment:      opts.Environment,
		CreatedAt:        time.Now().UTC(),
	}

	s.mu.Lock()
	s.records[record.ExecutionID] = record
	s.mu.Unlock()

	if opts.CreateTerminal {
		defer func() { <-s.sem }()
		return s.spawnIntoTerminal(record, opts)
	}

	detached := opts.Mode == ModeDetached
	proc, err := s.backend.Start(context.Background(), opts.Command, workdir, Environ(opts.Environment), detached)
	if err != nil {
		<-s.sem
		s.finishFailed(record, apperr.Execution("SPAWN_FAILED", "failed to spawn command", err))
		return *record, apperr.Execution("SPAWN_FAILED", "failed to spawn command", err)
	}

	record.ProcessID = proc.PID
	record.StartedAt = time.Now().UTC()
	s.mu.Lock()
	s.records[record.ExecutionID].ProcessID = proc.PID
	s.records[record.ExecutionID].StartedAt = record.StartedAt
	s.mu.Unlock()

	if len(stdinBytes) > 0 {
		_, _ = proc.Stdin.Write(stdinBytes)
	}
	_ = proc.Stdin.Close()

	maxOutput := opts.MaxOutputSize
	if maxOutput <= 0 {
		maxOutput = 10 << 20
	}

	artifact, handle, err := s.store.Create(record.ExecutionID, outputKind(opts.CaptureStderr), "")
	if err != nil {
		<-s.sem
		s.finishFailed(record, err)
		return *record, err
	}
	record.OutputID = artifact.ID

	capture := newCapture(s.store, handle, s.inlineCap, maxOutput)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		capture.drain(proc.Stdout)
	}()

	var stderrCapture *outputCapture
	var stderrHandle *output.Handle
	if opts.CaptureStderr {
		wg.Add(1)
		go func() {
			defer wg.Done()
			capture.drain(proc.Stderr)
		}()
	} else {
		stderrArtifact, sHandle, err := s.store.Create(record.ExecutionID, output.KindStderr, "")
		if err != nil {
			<-s.sem
			s.finishFailed(record, err)
			return *record, err
		}
		record.StderrOutputID = stderrArtifact.ID
		stderrHandle = sHandle
		stderrCapture = newCapture(s.store, stderrHandle, s.inlineCap, maxOutput)

		wg.Add(1)
		go func() {
			defer wg.Done()
			stderrCapture.drain(proc.Stderr)
		}()
	}

	switch opts.Mode {
	case ModeDetached:
		<-s.sem
		go func() {
			wg.Wait()
			_ = s.store.Finalize(handle)
			if stderrHandle != nil {
				_ = s.store.Finalize(stderrHandle)
			}
			_ = proc.Wait()
		}()
		return *record, nil

	case ModeBackground:
		go func() {
			defer func() { <-s.sem }()
			wg.Wait()
			_ = s.store.Finalize(handle)
			if stderrHandle != nil {
				_ = s.store.Finalize(stderrHandle)
			}
			s.finishExited(record, proc.Wait(), capture, stderrCapture)
		}()
		return *record, nil

	case ModeForeground, ModeAdaptive:
		return s.runForegroundOrAdaptive(ctx, record, opts, proc, capture, stderrCapture, handle, stderrHandle, &wg)

	default:
		<-s.sem
		return ExecutionRecord{}, apperr.Param("INVALID_MODE", fmt.Sprintf("unknown mode %q", opts.Mode))
	}
}

func (s *Supervisor) runForegroundOrAdaptive(ctx context.Context, record *ExecutionRecord, opts ExecuteOptions, proc *StartedProcess, capture, stderrCapture *outputCapture, handle, stderrHandle *output.Handle, wg *sync.WaitGroup) (ExecutionRecord, error) {
	deadline := time.Duration(opts.TimeoutSeconds) * time.Second
	if opts.Mode == ModeAdaptive {
		deadline = time.Duration(opts.ForegroundTimeoutSeconds) * time.Second
	}

	finalize := func() {
		_ = s.store.Finalize(handle)
		if stderrHandle != nil {
			_ = s.store.Finalize(stderrHandle)
		}
	}

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- proc.Wait()
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case waitErr := <-done:
		<-s.sem
		finalize()
		s.finishExited(record, waitErr, capture, stderrCapture)
		return *record, nil

	case <-timer.C:
		if opts.Mode == ModeAdaptive {
			reason := TransitionForegroundTimeout
			if capture.exceeded() {
				reason = TransitionOutputSizeLimit
			}
			s.mu.Lock()
			record.TransitionReason = reason
			record.OutputStatus = OutputStatus{Complete: false, Reason: ReasonBackgroundTransition, AvailableViaOutput: true}
			s.records[record.ExecutionID].TransitionReason = reason
			s.records[record.ExecutionID].OutputStatus = record.OutputStatus
			s.mu.Unlock()

			go func() {
				defer func() { <-s.sem }()
				waitErr := <-done
				finalize()
				s.finishExited(record, waitErr, capture, stderrCapture)
			}()
			return *record, nil
		}

		// foreground timeout
		_ = proc.Signal(syscall.SIGTERM)
		select {
		case waitErr := <-done:
			<-s.sem
			if opts.ReturnPartialOnTimeout {
				finalize()
				s.finishTimeout(record, capture, stderrCapture)
				return *record, nil
			}
			finalize()
			s.finishExited(record, waitErr, capture, stderrCapture)
			return *record, apperr.Execution("TIMEOUT", "execution exceeded its timeout", nil)
		case <-time.After(2 * time.Second):
			_ = proc.Signal(syscall.SIGKILL)
			waitErr := <-done
			<-s.sem
			finalize()
			if opts.ReturnPartialOnTimeout {
				s.finishTimeout(record, capture, stderrCapture)
				return *record, nil
			}
			s.finishExited(record, waitErr, capture, stderrCapture)
			return *record, apperr.Execution("TIMEOUT", "execution exceeded its timeout and was killed", nil)
		}
	}
}

func (s *Supervisor) spawnIntoTerminal(record *ExecutionRecord, opts ExecuteOptions) (ExecutionRecord, error) {
	if s.terminals == nil {
		s.finishFailed(record, apperr.Execution("NO_TERMINAL_MANAGER", "terminal creation is not available", nil))
		return *record, apperr.Execution("NO_TERMINAL_MANAGER", "terminal creation is not available", nil)
	}

	cols, rows := 120, 30
	if opts.TerminalDimensions[0] > 0 {
		cols = opts.TerminalDimensions[0]
	}
	if opts.TerminalDimensions[1] > 0 {
		rows = opts.TerminalDimensions[1]
	}

	terminalID, err := s.terminals.CreateForCommand(opts.TerminalShell, record.WorkingDirectory, opts.Environment, cols, rows, opts.Command)
	if err != nil {
		s.finishFailed(record, err)
		return *record, err
	}

	s.mu.Lock()
	record.TerminalID = terminalID
	record.Status = StatusRunning
	record.StartedAt = time.Now().UTC()
	s.records[record.ExecutionID].TerminalID = terminalID
	s.records[record.ExecutionID].StartedAt = record.StartedAt
	s.mu.Unlock()

	return *record, nil
}

func (s *Supervisor) finishExited(record *ExecutionRecord, waitErr error, capture, stderrCapture *outputCapture) {
	code := 0
	status := StatusCompleted
	if waitErr != nil {
		status = StatusFailed
		if exitErr, ok := waitErr.(interface{ ExitCode() int }); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[record.ExecutionID]
	r.Status = status
	r.ExitCode = &code
	r.CompletedAt = time.Now().UTC()
	r.ExecutionTimeMS = r.CompletedAt.Sub(r.StartedAt).Milliseconds()
	r.Stdout = capture.inlineBytes()
	r.OutputTruncated = capture.truncated()
	if stderrCapture != nil {
		r.Stderr = stderrCapture.inlineBytes()
		r.OutputTruncated = r.OutputTruncated || stderrCapture.truncated()
	}
	r.OutputStatus = OutputStatus{
		Complete:           true,
		AvailableViaOutput: true,
	}
	*record = *r
}

func (s *Supervisor) finishTimeout(record *ExecutionRecord, capture, stderrCapture *outputCapture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.records[record.ExecutionID]
	r.Status = StatusTimeout
	r.CompletedAt = time.Now().UTC()
	r.ExecutionTimeMS = r.CompletedAt.Sub(r.StartedAt).Milliseconds()
	r.Stdout = capture.inlineBytes()
	r.OutputTruncated = true
	if stderrCapture != nil {
		r.Stderr = stderrCapture.inlineBytes()
	}
	r.OutputStatus = OutputStatus{
		Complete:           false,
		Reason:             ReasonTimeout,
		AvailableViaOutput: true,
	}
	*record = *r
}

func (s *Supervisor) finishFailed(record *ExecutionRecord, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[record.ExecutionID]
	if !ok {
		return
	}
	r.Status = StatusFailed
	r.CompletedAt = time.Now().UTC()
	*record = *r
}

func outputKind(captureStderr bool) output.Kind {
	if captureStderr {
		return output.KindCombined
	}
	return output.KindStdout
}

// outputCapture drains a reader into the Output Store while keeping a
// bounded inline prefix for the caller's convenience. Every byte read is
// written to the store: max_output_size (maxTotal) does not stop or
// truncate the drain, and exceeded() only reports whether the running
// total has passed it.
type outputCapture struct {
	store     *output.Store
	handle    *output.Handle
	mu        sync.Mutex
	inline    []byte
	inlineCap int
	total     int64
	maxTotal  int64
}

func newCapture(store *output.Store, handle *output.Handle, inlineCap int, maxTotal int64) *outputCapture {
	return &outputCapture{store: store, handle: handle, inlineCap: inlineCap, maxTotal: maxTotal}
}

func (c *outputCapture) drain(r io.Reader) {
	reader := bufio.NewReaderSize(r, 32*1024)
	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			_ = c.store.Append(c.handle, chunk)

			c.mu.Lock()
			c.total += int64(n)
			if len(c.inline) < c.inlineCap {
				remaining := c.inlineCap - len(c.inline)
				if remaining > len(chunk) {
					remaining = len(chunk)
				}
				c.inline = append(c.inline, chunk[:remaining]...)
			}
			c.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (c *outputCapture) inlineBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, len(c.inline))
	copy(out, c.inline)
	return out
}

func (c *outputCapture) truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total > int64(len(c.inline))
}

func (c *outputCapture) exceeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxTotal > 0 && c.total > c.maxTotal
}
