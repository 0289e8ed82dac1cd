// Package execsupervisor implements the Execution Supervisor: it spawns
// commands in foreground, background, detached, or adaptive mode, drains
// their output into the Output Store, and exposes execution records for
// lookup, listing, and signaling.
package execsupervisor

import "time"

// Mode selects how an execution is run.
type Mode string

const (
	ModeForeground Mode = "foreground"
	ModeBackground Mode = "background"
	ModeDetached   Mode = "detached"
	ModeAdaptive   Mode = "adaptive"
)

// Status is an Execution Record's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// TransitionReason explains why an adaptive execution moved to background.
type TransitionReason string

const (
	TransitionNone             TransitionReason = ""
	TransitionForegroundTimeout TransitionReason = "foreground_timeout"
	TransitionOutputSizeLimit  TransitionReason = "output_size_limit"
)

// OutputTruncationReason explains why an Execution Record's inline
// output snapshot does not hold the complete bytes.
type OutputTruncationReason string

const (
	ReasonSizeLimit           OutputTruncationReason = "size_limit"
	ReasonTimeout             OutputTruncationReason = "timeout"
	ReasonUserInterrupt       OutputTruncationReason = "user_interrupt"
	ReasonError               OutputTruncationReason = "error"
	ReasonBackgroundTransition OutputTruncationReason = "background_transition"
)

// OutputStatus describes whether an execution's captured output is
// complete, and if not, why and where to fetch the rest.
type OutputStatus struct {
	Complete           bool
	Reason             OutputTruncationReason
	AvailableViaOutput bool
}

// ExecuteOptions parametrizes a single execute() call.
type ExecuteOptions struct {
	Command                string
	Mode                   Mode
	WorkingDirectory       string
	Environment            map[string]string
	StdinData              []byte
	StdinOutputID          string
	TimeoutSeconds         int
	ForegroundTimeoutSeconds int
	MaxOutputSize          int64
	CaptureStderr          bool
	ReturnPartialOnTimeout bool
	CreateTerminal         bool
	TerminalShell          string
	TerminalDimensions     [2]int // width, height
}

// ExecutionRecord is the Execution Supervisor's owned record of one
// spawn, from creation through any terminal state.
type ExecutionRecord struct {
	ExecutionID      string
	Command          string
	Status           Status
	ExitCode         *int
	ProcessID        int
	WorkingDirectory string
	Environment      map[string]string

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	ExecutionTimeMS int64

	Stdout           []byte
	Stderr           []byte
	OutputTruncated  bool
	OutputID         string
	StderrOutputID   string
	OutputStatus     OutputStatus
	TerminalID       string
	TransitionReason TransitionReason
}

// SignalResult is the outcome of a signal() call.
type SignalResult struct {
	ProcessID int
	Signal    string
	Owned     bool
	Delivered bool
	Error     string
}

// ListFilter narrows a List() call.
type ListFilter struct {
	Status         Status
	CommandPattern string
	TerminalID     string
	Limit          int
	Offset         int
}
