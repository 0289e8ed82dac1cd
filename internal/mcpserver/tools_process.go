package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/joestump/mcp-shell-server/internal/apperr"
	"github.com/joestump/mcp-shell-server/internal/execsupervisor"
)

func processGetExecutionTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"process_get_execution",
		"Fetch the current Execution Record for a previously started execution.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"execution_id": {"type": "string"}
			},
			"required": ["execution_id"]
		}`),
	)
}

type executionIDArgs struct {
	ExecutionID string `json:"execution_id"`
}

func (s *Server) handleProcessGetExecution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args executionIDArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.ExecutionID) == "" {
		return paramError("EXECUTION_ID_REQUIRED", "execution_id must not be empty")
	}

	record, found := s.supervisor.Get(args.ExecutionID)
	if !found {
		return fail(apperr.Resource("EXECUTION_NOT_FOUND", fmt.Sprintf("execution %s not found", args.ExecutionID)))
	}
	return success(toExecutionRecordResult(record))
}

func processListTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"process_list",
		"List Execution Records, optionally filtered by status, command substring, or owning terminal.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["running", "completed", "failed", "timeout"]},
				"command_pattern": {"type": "string"},
				"terminal_id": {"type": "string"},
				"limit": {"type": "integer", "minimum": 1},
				"offset": {"type": "integer", "minimum": 0}
			}
		}`),
	)
}

type processListArgs struct {
	Status         string `json:"status"`
	CommandPattern string `json:"command_pattern"`
	TerminalID     string `json:"terminal_id"`
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
}

type processListResult struct {
	Executions []executionRecordResult `json:"executions"`
	Total      int                      `json:"total"`
}

func (s *Server) handleProcessList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args processListArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}

	records, total := s.supervisor.List(execsupervisor.ListFilter{
		Status:         execsupervisor.Status(args.Status),
		CommandPattern: args.CommandPattern,
		TerminalID:     args.TerminalID,
		Limit:          args.Limit,
		Offset:         args.Offset,
	})

	out := make([]executionRecordResult, len(records))
	for i, r := range records {
		out[i] = toExecutionRecordResult(r)
	}
	return success(processListResult{Executions: out, Total: total})
}

func processTerminateTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"process_terminate",
		"Send a signal to a process id, optionally escalating to KILL after a grace period. The result reports whether the process is owned by this server.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"process_id": {"type": "integer"},
				"signal": {"type": "string", "enum": ["TERM", "KILL", "INT", "HUP", "USR1", "USR2"]},
				"force": {"type": "boolean"}
			},
			"required": ["process_id"]
		}`),
	)
}

type processTerminateArgs struct {
	ProcessID int    `json:"process_id"`
	Signal    string `json:"signal"`
	Force     bool   `json:"force"`
}

type signalResultOut struct {
	ProcessID int    `json:"process_id"`
	Signal    string `json:"signal"`
	Owned     bool   `json:"owned"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

var signalByName = map[string]syscall.Signal{
	"TERM": syscall.SIGTERM,
	"KILL": syscall.SIGKILL,
	"INT":  syscall.SIGINT,
	"HUP":  syscall.SIGHUP,
	"USR1": syscall.SIGUSR1,
	"USR2": syscall.SIGUSR2,
}

func (s *Server) handleProcessTerminate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args processTerminateArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}
	if args.ProcessID <= 0 {
		return paramError("PROCESS_ID_REQUIRED", "process_id must be a positive integer")
	}

	sigName := args.Signal
	if sigName == "" {
		sigName = "TERM"
	}
	sig, known := signalByName[strings.ToUpper(sigName)]
	if !known {
		return paramError("INVALID_SIGNAL", fmt.Sprintf("unknown signal %q", args.Signal))
	}

	res := s.supervisor.Signal(args.ProcessID, sig, args.Force)
	return success(signalResultOut{
		ProcessID: res.ProcessID,
		Signal:    res.Signal,
		Owned:     res.Owned,
		Delivered: res.Delivered,
		Error:     res.Error,
	})
}

func processMonitorTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"process_monitor",
		"Report CPU and memory usage for a running process, enriching the bare execution record with resource metrics.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"process_id": {"type": "integer"}
			},
			"required": ["process_id"]
		}`),
	)
}

type processMonitorArgs struct {
	ProcessID int `json:"process_id"`
}

type processMonitorResult struct {
	ProcessID      int     `json:"process_id"`
	Running        bool    `json:"running"`
	Name           string  `json:"name,omitempty"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`
	NumThreads     int32   `json:"num_threads,omitempty"`
}

func (s *Server) handleProcessMonitor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args processMonitorArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}
	if args.ProcessID <= 0 {
		return paramError("PROCESS_ID_REQUIRED", "process_id must be a positive integer")
	}

	proc, err := process.NewProcess(int32(args.ProcessID))
	if err != nil {
		return success(processMonitorResult{ProcessID: args.ProcessID, Running: false})
	}

	name, _ := proc.Name()
	cpuPct, _ := proc.CPUPercent()
	mem, _ := proc.MemoryInfo()
	threads, _ := proc.NumThreads()

	result := processMonitorResult{
		ProcessID:  args.ProcessID,
		Running:    true,
		Name:       name,
		CPUPercent: cpuPct,
		NumThreads: threads,
	}
	if mem != nil {
		result.MemoryRSSBytes = mem.RSS
	}
	return success(result)
}
