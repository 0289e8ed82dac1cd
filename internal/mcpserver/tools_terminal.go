package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/mcp-shell-server/internal/ptysession"
)

func terminalCreateTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"terminal_create",
		"Spawn a new persistent PTY session.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_name": {"type": "string"},
				"shell_type": {"type": "string", "enum": ["bash", "zsh", "fish", "cmd", "powershell"]},
				"working_directory": {"type": "string"},
				"environment": {"type": "object", "additionalProperties": {"type": "string"}},
				"dimensions": {"type": "array", "items": {"type": "integer"}, "minItems": 2, "maxItems": 2},
				"auto_save_history": {"type": "boolean"}
			}
		}`),
	)
}

type terminalCreateArgs struct {
	SessionName      string            `json:"session_name"`
	ShellType        string            `json:"shell_type"`
	WorkingDirectory string            `json:"working_directory"`
	Environment      map[string]string `json:"environment"`
	Dimensions       [2]int            `json:"dimensions"`
	AutoSaveHistory  bool              `json:"auto_save_history"`
}

func (s *Server) handleTerminalCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args terminalCreateArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}

	info, err := s.terminals.Create(ptysession.CreateOptions{
		SessionName:      args.SessionName,
		ShellType:        ptysession.ShellType(args.ShellType),
		Cols:             args.Dimensions[0],
		Rows:             args.Dimensions[1],
		WorkingDirectory: args.WorkingDirectory,
		Environment:      args.Environment,
		AutoSaveHistory:  args.AutoSaveHistory,
	})
	if err != nil {
		return fail(err)
	}
	return success(toTerminalInfoResult(info))
}

func terminalListTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"terminal_list",
		"List PTY sessions, optionally filtered by status.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["active", "idle", "closed"]}
			}
		}`),
	)
}

type terminalListArgs struct {
	Status string `json:"status"`
}

type terminalListResult struct {
	Terminals []terminalInfoResult `json:"terminals"`
}

func (s *Server) handleTerminalList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args terminalListArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}

	infos := s.terminals.List(ptysession.ListFilter{Status: ptysession.Status(args.Status)})
	out := make([]terminalInfoResult, len(infos))
	for i, t := range infos {
		out[i] = toTerminalInfoResult(t)
	}
	return success(terminalListResult{Terminals: out})
}

func terminalGetInfoTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"terminal_get_info",
		"Fetch a PTY session's current info, including a foreground-process snapshot.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"terminal_id": {"type": "string"}
			},
			"required": ["terminal_id"]
		}`),
	)
}

type terminalIDArgs struct {
	TerminalID string `json:"terminal_id"`
}

func (s *Server) handleTerminalGetInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args terminalIDArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.TerminalID) == "" {
		return paramError("TERMINAL_ID_REQUIRED", "terminal_id must not be empty")
	}

	info, err := s.terminals.Get(args.TerminalID)
	if err != nil {
		return fail(err)
	}
	return success(toTerminalInfoResult(info))
}

func terminalSendInputTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"terminal_send_input",
		"Write input to a PTY session's master, after the program guard and unread-output interlock both pass.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"terminal_id": {"type": "string"},
				"input": {"type": "string"},
				"execute": {"type": "boolean", "description": "Append a trailing newline"},
				"control_codes": {"type": "boolean", "description": "Interpret input as a control-code name like ^C; implicitly forces past the interlock"},
				"raw_bytes": {"type": "boolean", "description": "Interpret input as a hex string and write the decoded bytes"},
				"send_to": {"type": "string", "description": "Foreground-process guard: name/path to require, or \"*\" to skip the guard"},
				"force_input": {"type": "boolean", "description": "Bypass the unread-output interlock"}
			},
			"required": ["terminal_id", "input"]
		}`),
	)
}

type terminalSendInputArgs struct {
	TerminalID   string `json:"terminal_id"`
	Input        string `json:"input"`
	Execute      bool   `json:"execute"`
	ControlCodes bool   `json:"control_codes"`
	RawBytes     bool   `json:"raw_bytes"`
	SendTo       string `json:"send_to"`
	ForceInput   bool   `json:"force_input"`
}

type terminalSendInputResult struct {
	BytesWritten int      `json:"bytes_written"`
	Rejected     bool     `json:"rejected"`
	RejectReason string   `json:"reject_reason,omitempty"`
	UnreadLines  []string `json:"unread_lines,omitempty"`
}

func (s *Server) handleTerminalSendInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args terminalSendInputArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.TerminalID) == "" {
		return paramError("TERMINAL_ID_REQUIRED", "terminal_id must not be empty")
	}

	res, err := s.terminals.SendInput(args.TerminalID, args.Input, args.Execute, args.ControlCodes, args.RawBytes, args.SendTo, args.ForceInput)
	if err != nil {
		return fail(err)
	}
	return success(terminalSendInputResult{
		BytesWritten: res.BytesWritten,
		Rejected:     res.Rejected,
		RejectReason: res.RejectReason,
		UnreadLines:  res.UnreadLines,
	})
}

func terminalGetOutputTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"terminal_get_output",
		"Read scrollback from a PTY session, resuming from the session's read cursor by default.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"terminal_id": {"type": "string"},
				"start_line": {"type": "integer", "minimum": 1, "description": "Omit to resume from the session's read cursor"},
				"line_count": {"type": "integer", "minimum": 1},
				"include_ansi": {"type": "boolean"},
				"include_foreground_process": {"type": "boolean"}
			},
			"required": ["terminal_id"]
		}`),
	)
}

type terminalGetOutputArgs struct {
	TerminalID               string `json:"terminal_id"`
	StartLine                *int   `json:"start_line"`
	LineCount                int    `json:"line_count"`
	IncludeANSI              bool   `json:"include_ansi"`
	IncludeForegroundProcess bool   `json:"include_foreground_process"`
}

type terminalGetOutputResult struct {
	Lines             []string                 `json:"lines"`
	StartLine         int                      `json:"start_line"`
	LineCount         int                      `json:"line_count"`
	TotalLines        int                      `json:"total_lines"`
	HasMore           bool                     `json:"has_more"`
	NextStartLine     int                      `json:"next_start_line"`
	ForegroundProcess *foregroundProcessResult `json:"foreground_process,omitempty"`
}

func (s *Server) handleTerminalGetOutput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args terminalGetOutputArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.TerminalID) == "" {
		return paramError("TERMINAL_ID_REQUIRED", "terminal_id must not be empty")
	}

	slice, err := s.terminals.GetOutput(args.TerminalID, args.StartLine, args.LineCount, args.IncludeANSI, args.IncludeForegroundProcess)
	if err != nil {
		return fail(err)
	}
	return success(terminalGetOutputResult{
		Lines:             slice.Lines,
		StartLine:         slice.StartLine,
		LineCount:         slice.LineCount,
		TotalLines:        slice.TotalLines,
		HasMore:           slice.HasMore,
		NextStartLine:     slice.NextStartLine,
		ForegroundProcess: toForegroundProcessResult(slice.ForegroundProcess),
	})
}

func terminalResizeTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"terminal_resize",
		"Resize a PTY session's window.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"terminal_id": {"type": "string"},
				"dimensions": {"type": "array", "items": {"type": "integer"}, "minItems": 2, "maxItems": 2}
			},
			"required": ["terminal_id", "dimensions"]
		}`),
	)
}

type terminalResizeArgs struct {
	TerminalID string `json:"terminal_id"`
	Dimensions [2]int `json:"dimensions"`
}

type terminalResizeResult struct {
	TerminalID string `json:"terminal_id"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
}

func (s *Server) handleTerminalResize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args terminalResizeArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.TerminalID) == "" {
		return paramError("TERMINAL_ID_REQUIRED", "terminal_id must not be empty")
	}

	if err := s.terminals.Resize(args.TerminalID, args.Dimensions[0], args.Dimensions[1]); err != nil {
		return fail(err)
	}
	return success(terminalResizeResult{TerminalID: args.TerminalID, Cols: args.Dimensions[0], Rows: args.Dimensions[1]})
}

func terminalCloseTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"terminal_close",
		"Terminate a PTY session's shell (TERM, then KILL after a grace period) and mark it closed.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"terminal_id": {"type": "string"},
				"save_history": {"type": "boolean"}
			},
			"required": ["terminal_id"]
		}`),
	)
}

type terminalCloseArgs struct {
	TerminalID  string `json:"terminal_id"`
	SaveHistory bool   `json:"save_history"`
}

type terminalCloseResult struct {
	TerminalID     string `json:"terminal_id"`
	FinalStatus    string `json:"final_status"`
	HistorySaved   bool   `json:"history_saved"`
	HistorySaveErr string `json:"history_save_error,omitempty"`
}

func (s *Server) handleTerminalClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args terminalCloseArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.TerminalID) == "" {
		return paramError("TERMINAL_ID_REQUIRED", "terminal_id must not be empty")
	}

	res, err := s.terminals.Close(args.TerminalID, args.SaveHistory)
	if err != nil {
		return fail(err)
	}
	return success(terminalCloseResult{
		TerminalID:     args.TerminalID,
		FinalStatus:    string(res.FinalStatus),
		HistorySaved:   res.HistorySaved,
		HistorySaveErr: res.HistorySaveErr,
	})
}
