package errors

import (
	"fmt"
	"log/slog"
	"os"
)

// CLIErrorAdapter handles error presentation and exit code determination for CLI applications.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

// NewCLIErrorAdapter creates a new CLI error adapter.
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{
		verbose: verbose,
		logger:  logger,
	}
}

// ExitCodeFor determines the appropriate exit code for an error.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}

	if fe, ok := err.(*ForgeError); ok {
		return a.exitCodeFromForge(fe)
	}

	return 1
}

// exitCodeFromForge maps ForgeError to exit codes.
func (a *CLIErrorAdapter) exitCodeFromForge(err *ForgeError) int {
	switch err.Category {
	case CategoryValidation, CategoryNotFound:
		return 2 // Invalid usage
	case CategoryBusy:
		return 3 // Project contention
	case CategoryConfig:
		return 7 // Configuration error
	case CategoryNetwork, CategoryGit:
		return 8 // External system error
	case CategoryLaunch, CategoryExecution, CategoryArtifact:
		return 11 // Toolchain error
	case CategoryDaemon, CategoryStorage:
		return 12 // Runtime error
	case CategoryInternal:
		return 10 // Internal error
	default:
		return 1 // General error
	}
}

// FormatError formats an error for user-friendly display.
func (a *CLIErrorAdapter) FormatError(err error) string {
	if err == nil {
		return ""
	}

	if fe, ok := err.(*ForgeError); ok {
		return a.formatForge(fe)
	}

	return fmt.Sprintf("Error: %v", err)
}

// formatForge formats a ForgeError for display.
func (a *CLIErrorAdapter) formatForge(err *ForgeError) string {
	if a.verbose {
		return err.Error()
	}

	switch err.Category {
	case CategoryConfig, CategoryValidation, CategoryNotFound, CategoryBusy:
		return err.Message
	default:
		return fmt.Sprintf("%s: %s", err.Category, err.Message)
	}
}

// HandleError processes an error and exits the program with appropriate code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}

	exitCode := a.ExitCodeFor(err)
	message := a.FormatError(err)

	if a.shouldLog(err) {
		a.logError(err)
	}

	fmt.Fprintf(os.Stderr, "%s\n", message)
	os.Exit(exitCode)
}

// shouldLog determines if an error should be logged.
func (a *CLIErrorAdapter) shouldLog(err error) bool {
	if a.verbose {
		return true
	}

	if fe, ok := err.(*ForgeError); ok {
		return fe.Category == CategoryInternal ||
			fe.Category == CategoryStorage ||
			fe.Severity == SeverityFatal
	}

	return true
}

// logError logs an error with appropriate level and context.
func (a *CLIErrorAdapter) logError(err error) {
	if fe, ok := err.(*ForgeError); ok {
		level := a.slogLevelFromSeverity(fe.Severity)
		attrs := []slog.Attr{
			slog.String("category", string(fe.Category)),
		}
		if fe.Retryable {
			attrs = append(attrs, slog.Bool("retryable", true))
		}

		a.logger.LogAttrs(nil, level, fe.Message, attrs...)
		return
	}

	a.logger.Error("Unclassified error", "error", err)
}

// slogLevelFromSeverity converts ForgeError severity to slog level.
func (a *CLIErrorAdapter) slogLevelFromSeverity(severity ErrorSeverity) slog.Level {
	switch severity {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityFatal:
		return slog.LevelError
	default:
		return slog.LevelError
	}
}
