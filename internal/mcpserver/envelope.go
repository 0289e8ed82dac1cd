package mcpserver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/mcp-shell-server/internal/apperr"
)

// success marshals payload and merges a top-level "success": true field
// into it, matching the uniform {success, ...payload} envelope every
// tool response carries. Named success (not ok) because handlers
// routinely shadow a local "ok" boolean from a map/lookup result.
func success(payload any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["success"] = true

	out, err := json.Marshal(fields)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// errorEnvelope is the stable error shape every tool returns on failure,
// per the categorized-error contract.
type errorEnvelope struct {
	Success   bool           `json:"success"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Category  string         `json:"category"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// fail translates any error returned by a core component into a
// categorized error envelope. Errors that are not already an
// *apperr.Error (a panic recovery, an unexpected third-party error) are
// wrapped as SYSTEM so the caller always sees one of the six stable
// categories.
func fail(err error) (*mcp.CallToolResult, error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.System("INTERNAL", err.Error(), err)
	}

	data, marshalErr := json.Marshal(errorEnvelope{
		Success:   false,
		Code:      appErr.Code,
		Message:   appErr.Message,
		Category:  string(appErr.Category),
		Details:   appErr.Details,
		Timestamp: appErr.Timestamp,
	})
	if marshalErr != nil {
		return mcp.NewToolResultError(appErr.Error()), nil
	}
	return mcp.NewToolResultError(string(data)), nil
}

// paramError builds a PARAM error envelope directly, for argument
// validation failures that never reach a core component.
func paramError(code, message string) (*mcp.CallToolResult, error) {
	return fail(apperr.Param(code, message))
}

// apperrSecurity builds a SECURITY-category *apperr.Error carrying the
// safety evaluator's structured reasoning.
func apperrSecurity(code, message string, details map[string]any) error {
	return apperr.Security(code, message).WithDetails(details)
}
