// Package config holds the service's runtime configuration, loaded from
// environment variables bound through viper by the cobra command in
// cmd/mcpshellserver. There is no global mutable configuration singleton:
// Config is constructed once and handed to the components that need it.
package config

import (
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Version is the service's version string, reported to MCP clients.
const Version = "0.1.0"

// Config holds all runtime configuration for the shell MCP server.
type Config struct {
	DefaultWorkdir          string
	AllowedWorkdirs         []string
	MaxConcurrent           int
	DisabledTools           []string
	OutputRoot              string
	TerminalHistoryDir      string
	HistorySize             int
	HistoryDBPath           string
	SecurityMode            string
	SafetyRulesFile         string
	EvaluatorModel          string
	EvaluatorTimeoutSeconds int
	Verbose                 bool
}

// Load reads configuration from viper, which merges flag values, env
// vars, and defaults (set up by the cobra command in cmd/mcpshellserver).
func Load() Config {
	allowed := splitNonEmpty(viper.GetString("allowed_workdirs"))
	disabled := splitNonEmpty(viper.GetString("disabled_tools"))

	securityMode := viper.GetString("security_mode")
	if strings.TrimSpace(securityMode) == "" {
		securityMode = "moderate"
	}

	return Config{
		DefaultWorkdir:          viper.GetString("default_workdir"),
		AllowedWorkdirs:         allowed,
		MaxConcurrent:           viper.GetInt("max_concurrent"),
		DisabledTools:           disabled,
		OutputRoot:              viper.GetString("output_root"),
		TerminalHistoryDir:      viper.GetString("terminal_history_dir"),
		HistorySize:             viper.GetInt("history_size"),
		HistoryDBPath:           viper.GetString("history_db_path"),
		SecurityMode:            securityMode,
		SafetyRulesFile:         viper.GetString("safety_rules_file"),
		EvaluatorModel:          viper.GetString("evaluator_model"),
		EvaluatorTimeoutSeconds: viper.GetInt("evaluator_timeout_seconds"),
		Verbose:                 viper.GetBool("verbose"),
	}
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsWorkdirAllowed reports whether dir is within the configured allow-list.
// An empty allow-list permits any directory (matching spec.md: the
// restriction only applies "if one is configured").
func (c Config) IsWorkdirAllowed(dir string) bool {
	if len(c.AllowedWorkdirs) == 0 {
		return true
	}
	clean := filepath.Clean(dir)
	for _, allowed := range c.AllowedWorkdirs {
		allowedClean := filepath.Clean(allowed)
		if clean == allowedClean || strings.HasPrefix(clean, allowedClean+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// IsToolDisabled reports whether the given tool name is in the deny-list.
func (c Config) IsToolDisabled(name string) bool {
	for _, d := range c.DisabledTools {
		if d == name {
			return true
		}
	}
	return false
}
