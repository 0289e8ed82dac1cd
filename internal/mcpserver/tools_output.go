package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/mcp-shell-server/internal/output"
)

// artifactResult mirrors output.Artifact for the tool-facing envelope,
// adding a human-readable size alongside the raw byte count.
type artifactResult struct {
	ID          string `json:"output_id"`
	Kind        string `json:"kind"`
	Name        string `json:"name,omitempty"`
	Size        int64  `json:"size_bytes"`
	SizeHuman   string `json:"size_human"`
	ExecutionID string `json:"execution_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toArtifactResult(a output.Artifact) artifactResult {
	return artifactResult{
		ID:          a.ID,
		Kind:        string(a.Kind),
		Name:        a.Name,
		Size:        a.Size,
		SizeHuman:   humanize.Bytes(uint64(a.Size)),
		ExecutionID: a.ExecutionID,
		CreatedAt:   a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func listExecutionOutputsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"list_execution_outputs",
		"List Output Store artifacts, optionally filtered by owning execution or kind.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"execution_id": {"type": "string"},
				"kind": {"type": "string", "enum": ["stdout", "stderr", "combined", "log"]}
			}
		}`),
	)
}

type listExecutionOutputsArgs struct {
	ExecutionID string `json:"execution_id"`
	Kind        string `json:"kind"`
}

type listExecutionOutputsResult struct {
	Artifacts []artifactResult `json:"artifacts"`
}

func (s *Server) handleListExecutionOutputs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args listExecutionOutputsArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}

	artifacts := s.store.List(output.Filter{ExecutionID: args.ExecutionID, Kind: output.Kind(args.Kind)})
	out := make([]artifactResult, len(artifacts))
	for i, a := range artifacts {
		out[i] = toArtifactResult(a)
	}
	return success(listExecutionOutputsResult{Artifacts: out})
}

func readExecutionOutputTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"read_execution_output",
		"Read a byte range from an Output Store artifact, either as raw UTF-8 text or base64.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"output_id": {"type": "string"},
				"offset": {"type": "integer", "minimum": 0},
				"size": {"type": "integer", "minimum": 1},
				"encoding": {"type": "string", "enum": ["utf8", "base64"]}
			},
			"required": ["output_id"]
		}`),
	)
}

type readExecutionOutputArgs struct {
	OutputID string `json:"output_id"`
	Offset   int64  `json:"offset"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
}

type readExecutionOutputResult struct {
	OutputID string `json:"output_id"`
	Offset   int64  `json:"offset"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
}

const defaultReadChunk = 1 << 20 // 1 MiB

func (s *Server) handleReadExecutionOutput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args readExecutionOutputArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}
	if args.OutputID == "" {
		return paramError("OUTPUT_ID_REQUIRED", "output_id must not be empty")
	}
	size := args.Size
	if size <= 0 {
		size = defaultReadChunk
	}
	encoding := args.Encoding
	if encoding == "" {
		encoding = "utf8"
	}
	if encoding != "utf8" && encoding != "base64" {
		return paramError("INVALID_ENCODING", fmt.Sprintf("unknown encoding %q", args.Encoding))
	}

	data, err := s.store.Read(args.OutputID, args.Offset, size)
	if err != nil {
		return fail(err)
	}

	var text string
	if encoding == "base64" {
		text = base64.StdEncoding.EncodeToString(data)
	} else {
		text = string(data)
	}

	return success(readExecutionOutputResult{
		OutputID: args.OutputID,
		Offset:   args.Offset,
		Size:     int64(len(data)),
		Encoding: encoding,
		Data:     text,
	})
}

func deleteExecutionOutputsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"delete_execution_outputs",
		"Delete one or more Output Store artifacts. Requires confirm=true; a missing confirmation changes nothing.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"output_ids": {"type": "array", "items": {"type": "string"}, "minItems": 1},
				"confirm": {"type": "boolean"}
			},
			"required": ["output_ids"]
		}`),
	)
}

type deleteExecutionOutputsArgs struct {
	OutputIDs []string `json:"output_ids"`
	Confirm   bool     `json:"confirm"`
}

type deleteExecutionOutputsResult struct {
	Deleted []string `json:"deleted"`
}

func (s *Server) handleDeleteExecutionOutputs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args deleteExecutionOutputsArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}
	if len(args.OutputIDs) == 0 {
		return paramError("OUTPUT_IDS_REQUIRED", "output_ids must not be empty")
	}
	if err := s.store.Delete(args.OutputIDs, args.Confirm); err != nil {
		return fail(err)
	}
	return success(deleteExecutionOutputsResult{Deleted: args.OutputIDs})
}

// outputGetCleanupSuggestionsTool and outputPerformAutoCleanupTool round
// out the Output Store's operation set (spec.md §4.3 names both
// operations; §6's stable tool list predates them). Exposed as their own
// tools rather than folded into delete_execution_outputs so a caller can
// inspect candidates before committing to a destructive call.
func outputGetCleanupSuggestionsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"output_get_cleanup_suggestions",
		"Propose Output Store artifacts for deletion based on age and size thresholds, without deleting anything.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"max_size_mb": {"type": "number", "minimum": 0},
				"max_age_hours": {"type": "number", "minimum": 0}
			}
		}`),
	)
}

type outputGetCleanupSuggestionsArgs struct {
	MaxSizeMB   float64 `json:"max_size_mb"`
	MaxAgeHours float64 `json:"max_age_hours"`
}

type cleanupSuggestionResult struct {
	OutputID  string `json:"output_id"`
	SizeBytes int64  `json:"size_bytes"`
	SizeHuman string `json:"size_human"`
	AgeSecs   float64 `json:"age_seconds"`
	Reason    string `json:"reason"`
}

type outputGetCleanupSuggestionsResult struct {
	Suggestions []cleanupSuggestionResult `json:"suggestions"`
}

func (s *Server) handleOutputGetCleanupSuggestions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args outputGetCleanupSuggestionsArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}

	suggestions := s.store.GetCleanupSuggestions(args.MaxSizeMB, args.MaxAgeHours)
	out := make([]cleanupSuggestionResult, len(suggestions))
	for i, c := range suggestions {
		out[i] = cleanupSuggestionResult{
			OutputID:  c.ID,
			SizeBytes: c.Size,
			SizeHuman: humanize.Bytes(uint64(c.Size)),
			AgeSecs:   c.AgeSecs,
			Reason:    c.Reason,
		}
	}
	return success(outputGetCleanupSuggestionsResult{Suggestions: out})
}

func outputPerformAutoCleanupTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"output_perform_auto_cleanup",
		"Delete Output Store artifacts older than max_age_hours, preserving the preserve_recent most recently created ones regardless of age.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"max_age_hours": {"type": "number", "minimum": 0},
				"dry_run": {"type": "boolean"},
				"preserve_recent": {"type": "integer", "minimum": 0}
			},
			"required": ["max_age_hours"]
		}`),
	)
}

type outputPerformAutoCleanupArgs struct {
	MaxAgeHours    float64 `json:"max_age_hours"`
	DryRun         bool    `json:"dry_run"`
	PreserveRecent int     `json:"preserve_recent"`
}

type outputPerformAutoCleanupResult struct {
	Deleted    []string `json:"deleted"`
	TotalFreed int64    `json:"total_freed_bytes"`
	FreedHuman string   `json:"total_freed_human"`
	DryRun     bool     `json:"dry_run"`
}

func (s *Server) handleOutputPerformAutoCleanup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args outputPerformAutoCleanupArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}
	if args.MaxAgeHours < 0 {
		return paramError("MAX_AGE_RANGE", "max_age_hours must not be negative")
	}

	result := s.store.PerformAutoCleanup(args.MaxAgeHours, args.DryRun, args.PreserveRecent)
	return success(outputPerformAutoCleanupResult{
		Deleted:    result.Deleted,
		TotalFreed: result.TotalFreed,
		FreedHuman: humanize.Bytes(uint64(result.TotalFreed)),
		DryRun:     result.DryRun,
	})
}
