package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joestump/mcp-shell-server/internal/config"
	"github.com/joestump/mcp-shell-server/internal/execsupervisor"
	"github.com/joestump/mcp-shell-server/internal/history"
	"github.com/joestump/mcp-shell-server/internal/logging"
	"github.com/joestump/mcp-shell-server/internal/mcpserver"
	"github.com/joestump/mcp-shell-server/internal/output"
	"github.com/joestump/mcp-shell-server/internal/ptysession"
	"github.com/joestump/mcp-shell-server/internal/redact"
	"github.com/joestump/mcp-shell-server/internal/safety"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mcpshellserver",
		Short: "MCP server exposing safety-evaluated shell execution, PTY sessions, and output storage",
		RunE:  run,
	}

	f := rootCmd.Flags()
	f.String("default-workdir", "", "default working directory for shell_execute when none is given")
	f.String("allowed-workdirs", "", "comma-separated working-directory allow-list (empty allows any)")
	f.Int("max-concurrent", 50, "maximum in-flight executions")
	f.String("disabled-tools", "", "comma-separated tool names to omit from registration")
	f.String("output-root", "./data/output", "directory backing the Output Store")
	f.String("terminal-history-dir", "./data/terminal-history", "directory for best-effort PTY session history files (save_history)")
	f.Int("history-size", 500, "Command History ring capacity (clamped to [100, 10000])")
	f.String("history-db-path", "./data/history.db", "SQLite file for best-effort history snapshots")
	f.Int("scrollback-lines", 10000, "PTY scrollback line cap per session")
	f.String("security-mode", "moderate", "default security_mode (permissive|moderate|restrictive|custom|enhanced|enhanced-fast)")
	f.String("safety-rules-file", "", "path to a YAML classifier rule table (falls back to the built-in table)")
	f.String("evaluator-model", "claude-3-5-haiku-20241022", "Anthropic model used by the external safety evaluator")
	f.Int("evaluator-timeout-seconds", 3, "external evaluator timeout (clamped to [1, 60])")
	f.Bool("verbose", false, "enable debug logging")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("default_workdir", "default-workdir")
	bindFlag("allowed_workdirs", "allowed-workdirs")
	bindFlag("max_concurrent", "max-concurrent")
	bindFlag("disabled_tools", "disabled-tools")
	bindFlag("output_root", "output-root")
	bindFlag("terminal_history_dir", "terminal-history-dir")
	bindFlag("history_size", "history-size")
	bindFlag("history_db_path", "history-db-path")
	bindFlag("scrollback_lines", "scrollback-lines")
	bindFlag("security_mode", "security-mode")
	bindFlag("safety_rules_file", "safety-rules-file")
	bindFlag("evaluator_model", "evaluator-model")
	bindFlag("evaluator_timeout_seconds", "evaluator-timeout-seconds")
	bindFlag("verbose", "verbose")

	viper.SetEnvPrefix("MCP_SHELL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	_ = viper.BindEnv("disabled_tools", "MCP_DISABLED_TOOLS")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := logging.New(cfg.Verbose, redact.NewFilter())
	defer logger.Sync() //nolint:errcheck

	logger.Info("mcp-shell-server starting",
		zap.String("version", config.Version),
		zap.String("security_mode", cfg.SecurityMode),
		zap.String("output_root", cfg.OutputRoot),
	)

	store, err := output.New(cfg.OutputRoot)
	if err != nil {
		logger.Error("failed to open output store", zap.Error(err))
		return err
	}

	terminals := ptysession.New(viperScrollback(), cfg.TerminalHistoryDir)

	var rulesData []byte
	if cfg.SafetyRulesFile != "" {
		rulesData, err = os.ReadFile(cfg.SafetyRulesFile)
		if err != nil {
			logger.Warn("failed to read safety rules file, falling back to built-in table",
				zap.String("path", cfg.SafetyRulesFile), zap.Error(err))
			rulesData = nil
		}
	}
	classifier := safety.NewClassifier(safety.LoadRules(rulesData))

	var external safety.ExternalEvaluator
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		external = safety.NewAnthropicEvaluator(cfg.EvaluatorModel)
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set; llm_required commands will be denied outright")
	}

	historyRing := history.New(cfg.HistorySize)

	var snapshot *history.SnapshotStore
	if cfg.HistoryDBPath != "" {
		snapshot, err = history.OpenSnapshotStore(cfg.HistoryDBPath)
		if err != nil {
			logger.Warn("failed to open history snapshot store; starting with an empty ring", zap.Error(err))
			snapshot = nil
		} else if entries, loadErr := snapshot.Load(); loadErr != nil {
			logger.Warn("failed to load history snapshot; starting with an empty ring", zap.Error(loadErr))
		} else {
			for _, e := range entries {
				historyRing.Add(e)
			}
			logger.Info("loaded history snapshot", zap.Int("entries", len(entries)))
		}
	}

	evaluator := safety.NewEvaluator(classifier, external, historyRing, safety.SecurityMode(cfg.SecurityMode), time.Duration(cfg.EvaluatorTimeoutSeconds)*time.Second)
	restrictions := safety.NewRestrictionsStore(safety.SecurityMode(cfg.SecurityMode))
	evaluator.AttachRestrictions(restrictions)

	supervisor := execsupervisor.New(&execsupervisor.OSBackend{}, store, terminals, cfg.MaxConcurrent, cfg.DefaultWorkdir, cfg.IsWorkdirAllowed)

	srv := mcpserver.New(cfg, supervisor, terminals, store, evaluator, restrictions, historyRing, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	serveErr := srv.Serve(ctx, os.Stdin, os.Stdout)

	terminals.Shutdown()
	if snapshot != nil {
		if err := snapshot.Save(historyRing.Snapshot()); err != nil {
			logger.Warn("failed to save history snapshot on shutdown", zap.Error(err))
		}
		_ = snapshot.Close()
	}

	if serveErr != nil && ctx.Err() == nil {
		logger.Error("server exited with error", zap.Error(serveErr))
		return serveErr
	}
	logger.Info("mcp-shell-server stopped cleanly")
	return nil
}

func viperScrollback() int {
	n := viper.GetInt("scrollback_lines")
	if n <= 0 {
		return 10000
	}
	return n
}
