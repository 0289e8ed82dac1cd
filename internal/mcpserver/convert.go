package mcpserver

import (
	"time"

	"github.com/joestump/mcp-shell-server/internal/execsupervisor"
	"github.com/joestump/mcp-shell-server/internal/ptysession"
)

// outputStatusResult mirrors execsupervisor.OutputStatus.
type outputStatusResult struct {
	Complete           bool   `json:"complete"`
	Reason             string `json:"reason,omitempty"`
	AvailableViaOutput bool   `json:"available_via_output"`
}

// executionRecordResult mirrors execsupervisor.ExecutionRecord for the
// tool-facing envelope.
type executionRecordResult struct {
	ExecutionID      string            `json:"execution_id"`
	Command          string            `json:"command"`
	Status           string            `json:"status"`
	ExitCode         *int              `json:"exit_code,omitempty"`
	ProcessID        int               `json:"process_id,omitempty"`
	WorkingDirectory string            `json:"working_directory"`
	Environment      map[string]string `json:"environment,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	StartedAt        time.Time         `json:"started_at,omitempty"`
	CompletedAt      time.Time         `json:"completed_at,omitempty"`
	ExecutionTimeMS  int64             `json:"execution_time_ms,omitempty"`
	Stdout           string            `json:"stdout,omitempty"`
	Stderr           string            `json:"stderr,omitempty"`
	OutputTruncated  bool              `json:"output_truncated"`
	OutputID         string            `json:"output_id,omitempty"`
	StderrOutputID   string            `json:"stderr_output_id,omitempty"`
	OutputStatus     outputStatusResult `json:"output_status"`
	TerminalID       string            `json:"terminal_id,omitempty"`
	TransitionReason string            `json:"transition_reason,omitempty"`
}

func toExecutionRecordResult(r execsupervisor.ExecutionRecord) executionRecordResult {
	return executionRecordResult{
		ExecutionID:      r.ExecutionID,
		Command:          r.Command,
		Status:           string(r.Status),
		ExitCode:         r.ExitCode,
		ProcessID:        r.ProcessID,
		WorkingDirectory: r.WorkingDirectory,
		Environment:      r.Environment,
		CreatedAt:        r.CreatedAt,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
		ExecutionTimeMS:  r.ExecutionTimeMS,
		Stdout:           string(r.Stdout),
		Stderr:           string(r.Stderr),
		OutputTruncated:  r.OutputTruncated,
		OutputID:         r.OutputID,
		StderrOutputID:   r.StderrOutputID,
		OutputStatus: outputStatusResult{
			Complete:           r.OutputStatus.Complete,
			Reason:             string(r.OutputStatus.Reason),
			AvailableViaOutput: r.OutputStatus.AvailableViaOutput,
		},
		TerminalID:       r.TerminalID,
		TransitionReason: string(r.TransitionReason),
	}
}

// foregroundProcessResult mirrors ptysession.ForegroundProcess.
type foregroundProcessResult struct {
	Available       bool    `json:"available"`
	Error           string  `json:"error,omitempty"`
	PID             int32   `json:"pid,omitempty"`
	Name            string  `json:"name,omitempty"`
	ExecutablePath  string  `json:"executable_path,omitempty"`
	SessionID       int32   `json:"session_id,omitempty"`
	ParentPID       int32   `json:"parent_pid,omitempty"`
	IsSessionLeader bool    `json:"is_session_leader"`
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryRSSBytes  uint64  `json:"memory_rss_bytes"`
}

func toForegroundProcessResult(fg *ptysession.ForegroundProcess) *foregroundProcessResult {
	if fg == nil {
		return nil
	}
	return &foregroundProcessResult{
		Available:       fg.Available,
		Error:           fg.Error,
		PID:             fg.PID,
		Name:            fg.Name,
		ExecutablePath:  fg.ExecutablePath,
		SessionID:       fg.SessionID,
		ParentPID:       fg.ParentPID,
		IsSessionLeader: fg.IsSessionLeader,
		CPUPercent:      fg.CPUPercent,
		MemoryRSSBytes:  fg.MemoryRSSBytes,
	}
}

// terminalInfoResult mirrors ptysession.TerminalInfo.
type terminalInfoResult struct {
	TerminalID        string                   `json:"terminal_id"`
	SessionName       string                   `json:"session_name,omitempty"`
	ShellType         string                   `json:"shell_type"`
	Cols              int                      `json:"cols"`
	Rows              int                      `json:"rows"`
	ProcessID         int                      `json:"process_id"`
	Status            string                   `json:"status"`
	WorkingDirectory  string                   `json:"working_directory"`
	CreatedAt         time.Time                `json:"created_at"`
	LastActivity      time.Time                `json:"last_activity"`
	ForegroundProcess *foregroundProcessResult `json:"foreground_process,omitempty"`
}

func toTerminalInfoResult(t ptysession.TerminalInfo) terminalInfoResult {
	return terminalInfoResult{
		TerminalID:        t.TerminalID,
		SessionName:       t.SessionName,
		ShellType:         string(t.ShellType),
		Cols:              t.Cols,
		Rows:              t.Rows,
		ProcessID:         t.ProcessID,
		Status:            string(t.Status),
		WorkingDirectory:  t.WorkingDirectory,
		CreatedAt:         t.CreatedAt,
		LastActivity:      t.LastActivity,
		ForegroundProcess: toForegroundProcessResult(t.ForegroundProcess),
	}
}
