// Package ptysession implements the PTY Session Manager: persistent
// pseudo-terminal sessions with bounded scrollback, foreground-process
// discovery, and a program guard that fail-closes input delivery when
// process identity can't be established.
package ptysession

import "time"

// ShellType enumerates the supported interactive shells.
type ShellType string

const (
	ShellBash       ShellType = "bash"
	ShellZsh        ShellType = "zsh"
	ShellFish       ShellType = "fish"
	ShellCmd        ShellType = "cmd"
	ShellPowershell ShellType = "powershell"
)

// Status is a PTY session's lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
	StatusClosed Status = "closed"
)

// CreateOptions parametrizes Manager.Create.
type CreateOptions struct {
	SessionName      string
	ShellType        ShellType
	Cols             int
	Rows             int
	WorkingDirectory string
	Environment      map[string]string
	AutoSaveHistory  bool
}

// TerminalInfo is the PTY Session Manager's external view of a session.
type TerminalInfo struct {
	TerminalID       string
	SessionName      string
	ShellType        ShellType
	Cols             int
	Rows             int
	ProcessID        int
	Status           Status
	WorkingDirectory string
	CreatedAt        time.Time
	LastActivity     time.Time
	ForegroundProcess *ForegroundProcess
}

// InputResult is the outcome of SendInput.
type InputResult struct {
	BytesWritten int
	Rejected     bool
	RejectReason string
	UnreadLines  []string
}

// OutputSlice is the result of GetOutput.
type OutputSlice struct {
	Lines             []string
	StartLine         int
	LineCount         int
	TotalLines        int
	HasMore           bool
	NextStartLine     int
	ForegroundProcess *ForegroundProcess
}

// CloseResult is the outcome of Close.
type CloseResult struct {
	FinalStatus    Status
	HistorySaved   bool
	HistorySaveErr string
}

// ListFilter narrows Manager.List.
type ListFilter struct {
	Status Status
}
