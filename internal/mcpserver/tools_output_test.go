package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/joestump/mcp-shell-server/internal/output"
)

func newTestStore(t *testing.T) *output.Store {
	t.Helper()
	store, err := output.New(t.TempDir())
	if err != nil {
		t.Fatalf("output.New: %v", err)
	}
	return store
}

func writeArtifact(t *testing.T, store *output.Store, executionID string, body string) string {
	t.Helper()
	a, h, err := store.Create(executionID, output.KindStdout, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Append(h, []byte(body)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Finalize(h); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return a.ID
}

func makeToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("result content is %T, not TextContent", result.Content[0])
	}
	return tc.Text
}

func TestHandleListExecutionOutputsFiltersByExecutionID(t *testing.T) {
	store := newTestStore(t)
	writeArtifact(t, store, "exec-1", "hello")
	writeArtifact(t, store, "exec-2", "world")

	s := &Server{store: store}
	result, err := s.handleListExecutionOutputs(context.Background(), makeToolRequest("list_execution_outputs", map[string]any{
		"execution_id": "exec-1",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed listExecutionOutputsResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(parsed.Artifacts) != 1 || parsed.Artifacts[0].ExecutionID != "exec-1" {
		t.Fatalf("Artifacts = %+v, want exactly the exec-1 artifact", parsed.Artifacts)
	}
}

func TestHandleReadExecutionOutputDefaultsToUTF8(t *testing.T) {
	store := newTestStore(t)
	id := writeArtifact(t, store, "exec-1", "some output bytes")

	s := &Server{store: store}
	result, err := s.handleReadExecutionOutput(context.Background(), makeToolRequest("read_execution_output", map[string]any{
		"output_id": id,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed readExecutionOutputResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &parsed); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if parsed.Encoding != "utf8" || parsed.Data != "some output bytes" {
		t.Fatalf("parsed = %+v, want utf8 encoding of the full body", parsed)
	}
}

func TestHandleReadExecutionOutputRejectsMissingID(t *testing.T) {
	s := &Server{store: newTestStore(t)}
	result, err := s.handleReadExecutionOutput(context.Background(), makeToolRequest("read_execution_output", map[string]any{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected a PARAM error when output_id is missing")
	}
	if !strings.Contains(resultText(t, result), "OUTPUT_ID_REQUIRED") {
		t.Errorf("expected OUTPUT_ID_REQUIRED code, got: %s", resultText(t, result))
	}
}

func TestHandleDeleteExecutionOutputsRequiresConfirm(t *testing.T) {
	store := newTestStore(t)
	id := writeArtifact(t, store, "exec-1", "data")

	s := &Server{store: store}
	result, err := s.handleDeleteExecutionOutputs(context.Background(), makeToolRequest("delete_execution_outputs", map[string]any{
		"output_ids": []any{id},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error when confirm is omitted")
	}

	if _, ok := store.Get(id); !ok {
		t.Fatal("artifact should not have been deleted without confirm=true")
	}
}

func TestHandleDeleteExecutionOutputsDeletesWithConfirm(t *testing.T) {
	store := newTestStore(t)
	id := writeArtifact(t, store, "exec-1", "data")

	s := &Server{store: store}
	result, err := s.handleDeleteExecutionOutputs(context.Background(), makeToolRequest("delete_execution_outputs", map[string]any{
		"output_ids": []any{id},
		"confirm":    true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, result))
	}

	if _, ok := store.Get(id); ok {
		t.Fatal("artifact should have been deleted with confirm=true")
	}
}

func TestHandleOutputGetCleanupSuggestionsDoesNotDelete(t *testing.T) {
	store := newTestStore(t)
	id := writeArtifact(t, store, "exec-1", "data")

	s := &Server{store: store}
	result, err := s.handleOutputGetCleanupSuggestions(context.Background(), makeToolRequest("output_get_cleanup_suggestions", map[string]any{
		"max_size_mb": 0,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, result))
	}
	if _, ok := store.Get(id); !ok {
		t.Fatal("cleanup suggestions must never delete artifacts")
	}
}
