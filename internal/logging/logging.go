// Package logging builds the service's structured logger. All output goes
// to stderr: stdout is reserved for the JSON-RPC transport and must never
// carry a stray log line.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joestump/mcp-shell-server/internal/redact"
)

// redactingWriter scrubs known credential values out of every log line
// before it reaches stderr. It never touches the Output Store: only the
// log sink passes through here.
type redactingWriter struct {
	filter *redact.Filter
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	n := len(p)
	if _, err := os.Stderr.WriteString(w.filter.Redact(string(p))); err != nil {
		return 0, err
	}
	return n, nil
}

// New builds a zap.Logger writing JSON to stderr. verbose enables debug
// level; otherwise info level and above are logged. filter redacts any
// registered MCP_SHELL_CRED_* values from every line; nil is a no-op.
func New(verbose bool, filter *redact.Filter) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(zapcore.AddSync(&redactingWriter{filter: filter})),
		level,
	)

	return zap.New(core)
}
