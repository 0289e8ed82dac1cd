package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/mcp-shell-server/internal/execsupervisor"
	"github.com/joestump/mcp-shell-server/internal/history"
	"github.com/joestump/mcp-shell-server/internal/safety"
)

func shellExecuteTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"shell_execute",
		"Run a shell command after passing it through the safety pipeline. Supports foreground, background, detached, and adaptive execution modes.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Shell command to run"},
				"mode": {"type": "string", "enum": ["foreground", "background", "detached", "adaptive"], "description": "Execution mode (default foreground)"},
				"working_directory": {"type": "string", "description": "Working directory (default: configured default workdir)"},
				"environment": {"type": "object", "additionalProperties": {"type": "string"}, "description": "Extra environment variables"},
				"stdin_data": {"type": "string", "description": "Raw bytes to write to stdin"},
				"stdin_output_id": {"type": "string", "description": "Output artifact id whose bytes feed stdin"},
				"timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 3600, "description": "Overall execution deadline (default 30)"},
				"foreground_timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 300, "description": "Adaptive-mode foreground deadline before transitioning to background"},
				"max_output_size": {"type": "integer", "minimum": 1024, "maximum": 104857600, "description": "Output size threshold in bytes (default 10MiB). Output is not truncated at this size. In adaptive mode it is checked only when the foreground deadline passes: a command still running then reports the output-size-limit transition reason if its output has passed this size; passing it does not end the foreground wait early"},
				"capture_stderr": {"type": "boolean", "description": "Capture stderr into the same output artifact as stdout"},
				"return_partial_on_timeout": {"type": "boolean", "description": "Return a timeout record with partial output instead of an error"},
				"create_terminal": {"type": "boolean", "description": "Spawn the command into a new PTY session instead of a plain subprocess"},
				"terminal_shell": {"type": "string", "description": "Shell type for create_terminal (default bash)"},
				"terminal_dimensions": {"type": "array", "items": {"type": "integer"}, "minItems": 2, "maxItems": 2, "description": "[cols, rows] for create_terminal"},
				"comment": {"type": "string", "description": "Optional note passed to the safety evaluator"},
				"force_user_confirm": {"type": "boolean", "description": "Mark this attempt as a user-confirmed resubmission"}
			},
			"required": ["command"]
		}`),
	)
}

type shellExecuteArgs struct {
	Command                 string            `json:"command"`
	Mode                    string            `json:"mode"`
	WorkingDirectory        string            `json:"working_directory"`
	Environment             map[string]string `json:"environment"`
	StdinData               string            `json:"stdin_data"`
	StdinOutputID            string            `json:"stdin_output_id"`
	TimeoutSeconds           int               `json:"timeout_seconds"`
	ForegroundTimeoutSeconds int               `json:"foreground_timeout_seconds"`
	MaxOutputSize            int64             `json:"max_output_size"`
	CaptureStderr            bool              `json:"capture_stderr"`
	ReturnPartialOnTimeout   bool              `json:"return_partial_on_timeout"`
	CreateTerminal           bool              `json:"create_terminal"`
	TerminalShell            string            `json:"terminal_shell"`
	TerminalDimensions       [2]int            `json:"terminal_dimensions"`
	Comment                  string            `json:"comment"`
	ForceUserConfirm         bool              `json:"force_user_confirm"`
}

func (s *Server) handleShellExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args shellExecuteArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}

	if strings.TrimSpace(args.Command) == "" {
		return paramError("COMMAND_REQUIRED", "command must not be empty")
	}

	mode := execsupervisor.Mode(args.Mode)
	if mode == "" {
		mode = execsupervisor.ModeForeground
	}
	switch mode {
	case execsupervisor.ModeForeground, execsupervisor.ModeBackground, execsupervisor.ModeDetached, execsupervisor.ModeAdaptive:
	default:
		return paramError("INVALID_MODE", fmt.Sprintf("unknown mode %q", args.Mode))
	}

	timeoutSeconds := args.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = 30
	}
	if timeoutSeconds < 1 || timeoutSeconds > 3600 {
		return paramError("TIMEOUT_RANGE", "timeout_seconds must be within [1, 3600]")
	}

	foregroundTimeout := args.ForegroundTimeoutSeconds
	if mode == execsupervisor.ModeAdaptive {
		if foregroundTimeout == 0 {
			foregroundTimeout = 10
		}
		if foregroundTimeout < 1 || foregroundTimeout > 300 {
			return paramError("FOREGROUND_TIMEOUT_RANGE", "foreground_timeout_seconds must be within [1, 300]")
		}
	}

	maxOutputSize := args.MaxOutputSize
	if maxOutputSize == 0 {
		maxOutputSize = 10 << 20
	}
	if maxOutputSize < 1024 || maxOutputSize > 100*1024*1024 {
		return paramError("MAX_OUTPUT_SIZE_RANGE", "max_output_size must be within [1024, 104857600]")
	}

	workdir := args.WorkingDirectory

	restriction := s.restrictions.Get()
	if restriction.MaxExecutionTime > 0 && timeoutSeconds > restriction.MaxExecutionTime {
		timeoutSeconds = restriction.MaxExecutionTime
	}

	result, err := s.evaluator.Evaluate(ctx, "", args.Command, workdir, safety.EvaluateOptions{
		Comment:          args.Comment,
		ForceUserConfirm: args.ForceUserConfirm,
	})
	if err != nil {
		return fail(err)
	}

	if result.Decision != safety.DecisionAllow {
		s.historyRing.Add(history.Entry{
			ExecutionID:          uuid.NewString(),
			Command:              args.Command,
			Timestamp:            time.Now().UTC(),
			WorkingDirectory:     workdir,
			SafetyClassification: string(result.Decision),
			WasExecuted:          false,
		})
		return securityDenial(result)
	}

	opts := execsupervisor.ExecuteOptions{
		Command:                  args.Command,
		Mode:                     mode,
		WorkingDirectory:         workdir,
		Environment:              args.Environment,
		StdinData:                []byte(args.StdinData),
		StdinOutputID:            args.StdinOutputID,
		TimeoutSeconds:           timeoutSeconds,
		ForegroundTimeoutSeconds: foregroundTimeout,
		MaxOutputSize:            maxOutputSize,
		CaptureStderr:            args.CaptureStderr,
		ReturnPartialOnTimeout:   args.ReturnPartialOnTimeout,
		CreateTerminal:           args.CreateTerminal,
		TerminalShell:            args.TerminalShell,
		TerminalDimensions:       args.TerminalDimensions,
	}

	record, err := s.supervisor.Execute(ctx, opts)

	s.historyRing.Add(history.Entry{
		ExecutionID:          record.ExecutionID,
		Command:              args.Command,
		Timestamp:            time.Now().UTC(),
		WorkingDirectory:     workdir,
		SafetyClassification: string(safety.DecisionAllow),
		WasExecuted:          true,
	})

	if err != nil {
		return fail(err)
	}
	return success(toExecutionRecordResult(record))
}

func shellSetDefaultWorkdirTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"shell_set_default_workdir",
		"Set the default working directory used by shell_execute when working_directory is omitted.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"working_directory": {"type": "string", "description": "New default working directory"}
			},
			"required": ["working_directory"]
		}`),
	)
}

type shellSetDefaultWorkdirArgs struct {
	WorkingDirectory string `json:"working_directory"`
}

type shellSetDefaultWorkdirResult struct {
	WorkingDirectory string `json:"working_directory"`
}

func (s *Server) handleShellSetDefaultWorkdir(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args shellSetDefaultWorkdirArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.WorkingDirectory) == "" {
		return paramError("WORKDIR_REQUIRED", "working_directory must not be empty")
	}
	if err := s.supervisor.SetDefaultWorkingDirectory(args.WorkingDirectory); err != nil {
		return fail(err)
	}
	return success(shellSetDefaultWorkdirResult{WorkingDirectory: args.WorkingDirectory})
}

// securityDenial translates a non-ALLOW safety outcome into the SECURITY
// error envelope, carrying the evaluator's reasoning and alternatives
// rather than a bare message.
func securityDenial(result safety.EvaluatorResult) (*mcp.CallToolResult, error) {
	appErr := apperrSecurity(string(result.Decision), result.Reasoning, map[string]any{
		"decision":                result.Decision,
		"suggested_alternatives":  result.SuggestedAlternatives,
		"requested_history_depth": result.RequestedHistoryDepth,
	})
	return fail(appErr)
}
