// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dukex/nurture/pkg/models"
)

// ParseLevel maps debug, info, warn and error to their slog levels. Anything else is info.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs the default logger writing to stderr. format "json" selects the JSON
// handler, anything else the text handler.
func Setup(logLevel, format string) {
	slog.SetDefault(New(os.Stderr, logLevel, format))
}

func New(w io.Writer, logLevel, format string) *slog.Logger {
	options := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, options))
	}

	return slog.New(slog.NewTextHandler(w, options))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

// WithExecution adds the identifiers of an execution to logger.
func WithExecution(logger *slog.Logger, execution *models.Execution) *slog.Logger {
	return logger.With(
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"contact_id", execution.ContactID,
	)
}
