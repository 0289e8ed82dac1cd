package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/mcp-shell-server/internal/execsupervisor"
	"github.com/joestump/mcp-shell-server/internal/output"
	"github.com/joestump/mcp-shell-server/internal/ptysession"
	"github.com/joestump/mcp-shell-server/internal/safety"
)

var validSecurityModes = map[safety.SecurityMode]struct{}{
	safety.SecurityPermissive:   {},
	safety.SecurityModerate:     {},
	safety.SecurityRestrictive:  {},
	safety.SecurityCustom:       {},
	safety.SecurityEnhanced:     {},
	safety.SecurityEnhancedFast: {},
}

func securitySetRestrictionsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"security_set_restrictions",
		"Replace the active Safety Restrictions record. Exactly one record is ever active; this call swaps it atomically.",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"security_mode": {"type": "string", "enum": ["permissive", "moderate", "restrictive", "custom", "enhanced", "enhanced-fast"]},
				"allowed_commands": {"type": "array", "items": {"type": "string"}},
				"blocked_commands": {"type": "array", "items": {"type": "string"}},
				"allowed_directories": {"type": "array", "items": {"type": "string"}},
				"max_execution_time": {"type": "integer", "minimum": 1, "maximum": 3600},
				"max_memory_mb": {"type": "integer", "minimum": 0},
				"enable_network": {"type": "boolean"}
			},
			"required": ["security_mode"]
		}`),
	)
}

type securitySetRestrictionsArgs struct {
	SecurityMode       string   `json:"security_mode"`
	AllowedCommands    []string `json:"allowed_commands"`
	BlockedCommands    []string `json:"blocked_commands"`
	AllowedDirectories []string `json:"allowed_directories"`
	MaxExecutionTime   int      `json:"max_execution_time"`
	MaxMemoryMB        int      `json:"max_memory_mb"`
	EnableNetwork      bool     `json:"enable_network"`
}

type restrictionsResult struct {
	RestrictionID      string   `json:"restriction_id"`
	SecurityMode       string   `json:"security_mode"`
	AllowedCommands    []string `json:"allowed_commands,omitempty"`
	BlockedCommands    []string `json:"blocked_commands,omitempty"`
	AllowedDirectories []string `json:"allowed_directories,omitempty"`
	MaxExecutionTime   int      `json:"max_execution_time,omitempty"`
	MaxMemoryMB        int      `json:"max_memory_mb,omitempty"`
	EnableNetwork      bool     `json:"enable_network"`
	ConfiguredAt       time.Time `json:"configured_at"`
}

func toRestrictionsResult(r safety.Restrictions) restrictionsResult {
	return restrictionsResult{
		RestrictionID:      r.RestrictionID,
		SecurityMode:       string(r.SecurityMode),
		AllowedCommands:    r.AllowedCommands,
		BlockedCommands:    r.BlockedCommands,
		AllowedDirectories: r.AllowedDirectories,
		MaxExecutionTime:   r.MaxExecutionTime,
		MaxMemoryMB:        r.MaxMemoryMB,
		EnableNetwork:      r.EnableNetwork,
		ConfiguredAt:       r.ConfiguredAt,
	}
}

func (s *Server) handleSecuritySetRestrictions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args securitySetRestrictionsArgs
	if err := req.BindArguments(&args); err != nil {
		return paramError("INVALID_ARGUMENTS", fmt.Sprintf("invalid arguments: %v", err))
	}

	mode := safety.SecurityMode(args.SecurityMode)
	if _, known := validSecurityModes[mode]; !known {
		return paramError("INVALID_SECURITY_MODE", fmt.Sprintf("unknown security_mode %q", args.SecurityMode))
	}
	if args.MaxExecutionTime != 0 && (args.MaxExecutionTime < 1 || args.MaxExecutionTime > 3600) {
		return paramError("MAX_EXECUTION_TIME_RANGE", "max_execution_time must be within [1, 3600]")
	}
	if args.MaxMemoryMB < 0 {
		return paramError("MAX_MEMORY_RANGE", "max_memory_mb must not be negative")
	}

	updated := s.restrictions.Set(safety.Restrictions{
		SecurityMode:       mode,
		AllowedCommands:    args.AllowedCommands,
		BlockedCommands:    args.BlockedCommands,
		AllowedDirectories: args.AllowedDirectories,
		MaxExecutionTime:   args.MaxExecutionTime,
		MaxMemoryMB:        args.MaxMemoryMB,
		EnableNetwork:      args.EnableNetwork,
	})
	return success(toRestrictionsResult(updated))
}

func monitoringGetStatsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"monitoring_get_stats",
		"Report aggregate counters across executions, terminals, output storage, and command history.",
		json.RawMessage(`{"type": "object", "properties": {}}`),
	)
}

type executionStats struct {
	Total   int `json:"total"`
	Running int `json:"running"`
}

type terminalStats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

type outputStats struct {
	ArtifactCount int    `json:"artifact_count"`
	TotalBytes    int64  `json:"total_bytes"`
	TotalHuman    string `json:"total_human"`
}

type historyStats struct {
	Total       int `json:"total"`
	Capacity    int `json:"capacity"`
	Executed    int `json:"executed"`
	Denied      int `json:"denied"`
	Resubmitted int `json:"resubmitted"`
}

type monitoringGetStatsResult struct {
	Uptime      string              `json:"uptime"`
	Executions  executionStats      `json:"executions"`
	Terminals   terminalStats       `json:"terminals"`
	Outputs     outputStats         `json:"outputs"`
	History     historyStats        `json:"history"`
	Restrictions restrictionsResult `json:"restrictions"`
}

func (s *Server) handleMonitoringGetStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, totalExecutions := s.supervisor.List(execsupervisor.ListFilter{})
	runningExecutions, _ := s.supervisor.List(execsupervisor.ListFilter{Status: execsupervisor.StatusRunning})

	terminals := s.terminals.List(ptysession.ListFilter{})
	active := 0
	for _, t := range terminals {
		if t.Status == ptysession.StatusActive {
			active++
		}
	}

	artifacts := s.store.List(output.Filter{})
	var totalBytes int64
	for _, a := range artifacts {
		totalBytes += a.Size
	}

	hist := s.historyRing.Stats()

	return success(monitoringGetStatsResult{
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
		Executions: executionStats{
			Total:   totalExecutions,
			Running: len(runningExecutions),
		},
		Terminals: terminalStats{
			Total:  len(terminals),
			Active: active,
		},
		Outputs: outputStats{
			ArtifactCount: len(artifacts),
			TotalBytes:    totalBytes,
			TotalHuman:    humanize.Bytes(uint64(totalBytes)),
		},
		History: historyStats{
			Total:       hist.Total,
			Capacity:    hist.Capacity,
			Executed:    hist.Executed,
			Denied:      hist.Denied,
			Resubmitted: hist.Resubmitted,
		},
		Restrictions: toRestrictionsResult(s.restrictions.Get()),
	})
}
