package ptysession

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/joestump/mcp-shell-server/internal/apperr"
)

const (
	defaultCols          = 120
	defaultRows          = 30
	defaultScrollbackMax = 10000
	killGrace            = 2 * time.Second
)

var shellBinaries = map[ShellType]string{
	ShellBash:       "bash",
	ShellZsh:        "zsh",
	ShellFish:       "fish",
	ShellCmd:        "cmd",
	ShellPowershell: "pwsh",
}

type session struct {
	mu sync.Mutex

	terminalID      string
	sessionName     string
	shellType       ShellType
	cols, rows      int
	workdir         string
	autoSaveHistory bool
	createdAt       time.Time
	lastActivity    time.Time
	status          Status

	ptmx *os.File
	cmd  *exec.Cmd
	ring *ringBuffer
	disc *discoverer

	readCursor int // next_start_line, 1-indexed; 0 means "not yet read"
	exited     chan struct{}
}

// Manager owns every PTY session for the life of the process.
type Manager struct {
	mu             sync.RWMutex
	sessions       map[string]*session
	scrollbackMax  int
	historyDir     string
}

// New creates a Manager. scrollbackMax bounds each session's line ring;
// zero selects a 10000-line default. historyDir is where Close persists a
// session's scrollback when save_history=true; empty disables persistence.
func New(scrollbackMax int, historyDir string) *Manager {
	if scrollbackMax <= 0 {
		scrollbackMax = defaultScrollbackMax
	}
	return &Manager{sessions: make(map[string]*session), scrollbackMax: scrollbackMax, historyDir: historyDir}
}

// Create spawns a new PTY session per opts.
func (m *Manager) Create(opts CreateOptions) (TerminalInfo, error) {
	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}
	if cols < 1 || cols > 500 || rows < 1 || rows > 200 {
		return TerminalInfo{}, apperr.Param("INVALID_DIMENSIONS", "dimensions must be within width [1,500] and height [1,200]")
	}

	shellType := opts.ShellType
	if shellType == "" {
		shellType = ShellBash
	}
	binary, ok := shellBinaries[shellType]
	if !ok {
		return TerminalInfo{}, apperr.Param("INVALID_SHELL_TYPE", fmt.Sprintf("unsupported shell_type %q", shellType))
	}

	cmd := exec.Command(binary)
	if opts.WorkingDirectory != "" {
		cmd.Dir = opts.WorkingDirectory
	}
	cmd.Env = envWithOverrides(opts.Environment)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return TerminalInfo{}, apperr.Execution("PTY_SPAWN_FAILED", fmt.Sprintf("failed to start %s", binary), err)
	}

	now := time.Now().UTC()
	sess := &session{
		terminalID:      uuid.NewString(),
		sessionName:     opts.SessionName,
		shellType:       shellType,
		cols:            cols,
		rows:            rows,
		workdir:         opts.WorkingDirectory,
		autoSaveHistory: opts.AutoSaveHistory,
		createdAt:       now,
		lastActivity:    now,
		status:          StatusActive,
		ptmx:            ptmx,
		cmd:             cmd,
		ring:            newRingBuffer(m.scrollbackMax),
		disc:            newDiscoverer(cmd.Process.Pid),
		exited:          make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[sess.terminalID] = sess
	m.mu.Unlock()

	go sess.pump()
	go sess.reap()

	return sess.info(), nil
}

// CreateForCommand implements execsupervisor.TerminalCreator: it spawns
// a terminal and writes firstInput as the session's initial input.
func (m *Manager) CreateForCommand(shellType, workdir string, env map[string]string, cols, rows int, firstInput string) (string, error) {
	info, err := m.Create(CreateOptions{
		ShellType:        ShellType(shellType),
		WorkingDirectory: workdir,
		Environment:      env,
		Cols:             cols,
		Rows:             rows,
	})
	if err != nil {
		return "", err
	}
	if firstInput != "" {
		if _, err := m.SendInput(info.TerminalID, firstInput, true, false, false, "", true); err != nil {
			return info.TerminalID, err
		}
	}
	return info.TerminalID, nil
}

// List returns sessions matching filter.
func (m *Manager) List(filter ListFilter) []TerminalInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TerminalInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.mu.Lock()
		status := s.status
		s.mu.Unlock()
		if filter.Status != "" && status != filter.Status {
			continue
		}
		out = append(out, s.info())
	}
	return out
}

// Get returns the session's current info, including a foreground-process
// snapshot.
func (m *Manager) Get(terminalID string) (TerminalInfo, error) {
	s, err := m.lookup(terminalID)
	if err != nil {
		return TerminalInfo{}, err
	}
	info := s.info()
	fg := s.disc.snapshot()
	info.ForegroundProcess = &fg
	return info, nil
}

// SendInput encodes and writes input to the session's PTY master, after
// the program guard and unread-output interlock both pass.
func (m *Manager) SendInput(terminalID, input string, execute, controlCodes, rawBytes bool, sendTo string, forceInput bool) (InputResult, error) {
	s, err := m.lookup(terminalID)
	if err != nil {
		return InputResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusClosed {
		return InputResult{}, apperr.Resource("TERMINAL_CLOSED", fmt.Sprintf("terminal %s is closed", terminalID))
	}

	// Control-code input implicitly forces past the unread-output
	// interlock: Ctrl-C must not be blockable.
	effectiveForce := forceInput || controlCodes

	if !effectiveForce {
		unread, hasUnread := s.unreadLinesLocked()
		if hasUnread {
			return InputResult{Rejected: true, RejectReason: "unread_output", UnreadLines: unread}, nil
		}
	}

	fg := s.disc.snapshot()
	if sendTo != "" && sendTo != "*" {
		if !matchesGuard(sendTo, fg) {
			reason := "guard_mismatch"
			if !fg.Available {
				reason = "foreground_process_unavailable"
			}
			return InputResult{Rejected: true, RejectReason: reason}, nil
		}
	}

	encoded, err := encodeInput(input, controlCodes, rawBytes, execute)
	if err != nil {
		return InputResult{}, err
	}

	n, err := s.ptmx.Write(encoded)
	if err != nil {
		return InputResult{}, apperr.System("PTY_WRITE_FAILED", "failed to write to PTY", err)
	}

	s.lastActivity = time.Now().UTC()
	s.disc.invalidate()

	return InputResult{BytesWritten: n}, nil
}

// unreadLinesLocked reports whether scrollback has grown past the
// session's read cursor and, if so, the unread slice. Caller must hold
// s.mu.
func (s *session) unreadLinesLocked() ([]string, bool) {
	total := s.ring.totalLines()
	if s.readCursor == 0 || s.readCursor > total {
		return nil, false
	}
	lines, _, _, _, _ := s.ring.slice(s.readCursor, 0, true)
	if len(lines) == 0 {
		return nil, false
	}
	return lines, true
}

// GetOutput reads scrollback starting at startLine (nil resumes from
// the session's read cursor).
func (m *Manager) GetOutput(terminalID string, startLine *int, lineCount int, includeANSI, includeForegroundProcess bool) (OutputSlice, error) {
	s, err := m.lookup(terminalID)
	if err != nil {
		return OutputSlice{}, err
	}

	s.mu.Lock()
	requested := 0
	if startLine != nil {
		requested = *startLine
	} else {
		requested = s.readCursor
	}
	lines, actualStart, total, hasMore, next := s.ring.slice(requested, lineCount, includeANSI)
	s.readCursor = next
	s.mu.Unlock()

	out := OutputSlice{
		Lines:         lines,
		StartLine:     actualStart,
		LineCount:     len(lines),
		TotalLines:    total,
		HasMore:       hasMore,
		NextStartLine: next,
	}
	if includeForegroundProcess {
		fg := s.disc.snapshot()
		out.ForegroundProcess = &fg
	}
	return out, nil
}

// Resize changes the PTY's window size in place.
func (m *Manager) Resize(terminalID string, cols, rows int) error {
	if cols < 1 || cols > 500 || rows < 1 || rows > 200 {
		return apperr.Param("INVALID_DIMENSIONS", "dimensions must be within width [1,500] and height [1,200]")
	}
	s, err := m.lookup(terminalID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		return apperr.System("PTY_RESIZE_FAILED", "failed to resize PTY", err)
	}
	s.cols, s.rows = cols, rows
	s.lastActivity = time.Now().UTC()
	return nil
}

// Close terminates the session's shell (TERM, then KILL after a grace
// period) and marks it closed. Scrollback is retained in memory only;
// when save_history is set (directly or via the session's auto-save flag),
// Close makes a best-effort attempt to persist the full scrollback to
// historyDir before returning.
func (m *Manager) Close(terminalID string, saveHistory bool) (CloseResult, error) {
	s, err := m.lookup(terminalID)
	if err != nil {
		return CloseResult{}, err
	}

	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return CloseResult{FinalStatus: StatusClosed}, nil
	}
	pid := s.cmd.Process.Pid
	s.mu.Unlock()

	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-s.exited:
	case <-time.After(killGrace):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-s.exited
	}

	s.mu.Lock()
	s.status = StatusClosed
	s.ring.flushPartial()
	effectiveSave := saveHistory || s.autoSaveHistory
	var lines []string
	if effectiveSave {
		lines, _, _, _, _ = s.ring.slice(0, 0, true)
	}
	s.mu.Unlock()

	result := CloseResult{FinalStatus: StatusClosed}
	if effectiveSave {
		result.HistorySaved, result.HistorySaveErr = m.saveHistory(terminalID, lines)
	}
	return result, nil
}

// saveHistory writes a session's full scrollback to a single file under
// historyDir, named after the terminal ID. It is best-effort: failures are
// reported in the returned error string, never as an error return, so a
// history-write failure never blocks Close from completing.
func (m *Manager) saveHistory(terminalID string, lines []string) (bool, string) {
	if m.historyDir == "" {
		return false, "no terminal history directory configured"
	}
	if err := os.MkdirAll(m.historyDir, 0o755); err != nil {
		return false, fmt.Sprintf("failed to create history directory: %v", err)
	}
	path := filepath.Join(m.historyDir, terminalID+".log")
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Sprintf("failed to write history file: %v", err)
	}
	return true, ""
}

// Shutdown closes every live session, used during graceful server
// shutdown.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_, _ = m.Close(id, false)
	}
}

func (m *Manager) lookup(terminalID string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[terminalID]
	if !ok {
		return nil, apperr.Resource("TERMINAL_NOT_FOUND", fmt.Sprintf("terminal %s not found", terminalID))
	}
	return s, nil
}

func (s *session) info() TerminalInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	pid := 0
	if s.cmd != nil && s.cmd.Process != nil {
		pid = s.cmd.Process.Pid
	}
	return TerminalInfo{
		TerminalID:       s.terminalID,
		SessionName:      s.sessionName,
		ShellType:        s.shellType,
		Cols:             s.cols,
		Rows:             s.rows,
		ProcessID:        pid,
		Status:           s.status,
		WorkingDirectory: s.workdir,
		CreatedAt:        s.createdAt,
		LastActivity:     s.lastActivity,
	}
}

// pump continuously copies PTY master output into the scrollback ring.
func (s *session) pump() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.ring.write(buf[:n])
			s.lastActivity = time.Now().UTC()
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// reap waits for the shell to exit and marks the session idle/closed.
func (s *session) reap() {
	_ = s.cmd.Wait()
	close(s.exited)

	s.mu.Lock()
	if s.status != StatusClosed {
		s.status = StatusIdle
	}
	s.ring.flushPartial()
	s.mu.Unlock()
}

func envWithOverrides(overrides map[string]string) []string {
	base := os.Environ()
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	out = append(out, base...)
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}
	return out
}
