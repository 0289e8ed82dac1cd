// Package mcpserver implements the Tool Facade: it exposes the
// Execution Supervisor, PTY Session Manager, Output Store, Safety
// Evaluator, and Command History as MCP tools over stdio JSON-RPC, one
// operation per tool, each wrapped in a uniform result envelope.
package mcpserver

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/joestump/mcp-shell-server/internal/config"
	"github.com/joestump/mcp-shell-server/internal/execsupervisor"
	"github.com/joestump/mcp-shell-server/internal/history"
	"github.com/joestump/mcp-shell-server/internal/output"
	"github.com/joestump/mcp-shell-server/internal/ptysession"
	"github.com/joestump/mcp-shell-server/internal/safety"
)

// Server holds every core component the Tool Facade dispatches to, plus
// the config that drives tool-level validation (workdir allow-list,
// disabled-tools deny-list).
type Server struct {
	cfg          config.Config
	supervisor   *execsupervisor.Supervisor
	terminals    *ptysession.Manager
	store        *output.Store
	evaluator    *safety.Evaluator
	restrictions *safety.RestrictionsStore
	historyRing  *history.Ring
	logger       *zap.Logger
	startedAt    time.Time
}

// New builds a Server. restrictions must be the same store the
// evaluator was attached to via Evaluator.AttachRestrictions, so
// security_set_restrictions and the evaluator observe the same record.
func New(
	cfg config.Config,
	supervisor *execsupervisor.Supervisor,
	terminals *ptysession.Manager,
	store *output.Store,
	evaluator *safety.Evaluator,
	restrictions *safety.RestrictionsStore,
	historyRing *history.Ring,
	logger *zap.Logger,
) *Server {
	return &Server{
		cfg:          cfg,
		supervisor:   supervisor,
		terminals:    terminals,
		store:        store,
		evaluator:    evaluator,
		restrictions: restrictions,
		historyRing:  historyRing,
		logger:       logger,
		startedAt:    time.Now().UTC(),
	}
}

// allTools lists every registered tool and its handler, name-addressable
// so MCP_DISABLED_TOOLS can drop entries before AddTools.
func (s *Server) allTools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: shellExecuteTool(), Handler: s.handleShellExecute},
		{Tool: processGetExecutionTool(), Handler: s.handleProcessGetExecution},
		{Tool: shellSetDefaultWorkdirTool(), Handler: s.handleShellSetDefaultWorkdir},
		{Tool: processListTool(), Handler: s.handleProcessList},
		{Tool: processTerminateTool(), Handler: s.handleProcessTerminate},
		{Tool: processMonitorTool(), Handler: s.handleProcessMonitor},
		{Tool: listExecutionOutputsTool(), Handler: s.handleListExecutionOutputs},
		{Tool: readExecutionOutputTool(), Handler: s.handleReadExecutionOutput},
		{Tool: deleteExecutionOutputsTool(), Handler: s.handleDeleteExecutionOutputs},
		{Tool: outputGetCleanupSuggestionsTool(), Handler: s.handleOutputGetCleanupSuggestions},
		{Tool: outputPerformAutoCleanupTool(), Handler: s.handleOutputPerformAutoCleanup},
		{Tool: terminalCreateTool(), Handler: s.handleTerminalCreate},
		{Tool: terminalListTool(), Handler: s.handleTerminalList},
		{Tool: terminalGetInfoTool(), Handler: s.handleTerminalGetInfo},
		{Tool: terminalSendInputTool(), Handler: s.handleTerminalSendInput},
		{Tool: terminalGetOutputTool(), Handler: s.handleTerminalGetOutput},
		{Tool: terminalResizeTool(), Handler: s.handleTerminalResize},
		{Tool: terminalCloseTool(), Handler: s.handleTerminalClose},
		{Tool: securitySetRestrictionsTool(), Handler: s.handleSecuritySetRestrictions},
		{Tool: monitoringGetStatsTool(), Handler: s.handleMonitoringGetStats},
	}
}

// Serve builds the MCP stdio server, registers every tool not present in
// the configured deny-list, and blocks until in is closed or ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	mcpServer := server.NewMCPServer(
		"mcp-shell-server",
		config.Version,
		server.WithToolCapabilities(true),
	)

	var tools []server.ServerTool
	for _, t := range s.allTools() {
		if s.cfg.IsToolDisabled(t.Tool.Name) {
			s.logger.Debug("tool disabled by MCP_DISABLED_TOOLS", zap.String("tool", t.Tool.Name))
			continue
		}
		tools = append(tools, t)
	}
	mcpServer.AddTools(tools...)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(&zapWriter{logger: s.logger}, "", 0))

	s.logger.Info("mcp-shell-server listening", zap.Int("tool_count", len(tools)))
	return stdio.Listen(ctx, in, out)
}

// zapWriter adapts a zap.Logger to io.Writer so the stdlib *log.Logger
// mcp-go's stdio transport wants for error reporting writes through our
// structured sink instead of directly to stderr.
type zapWriter struct {
	logger *zap.Logger
}

func (w *zapWriter) Write(p []byte) (int, error) {
	w.logger.Error(string(p))
	return len(p), nil
}
