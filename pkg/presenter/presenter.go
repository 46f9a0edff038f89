// Package presenter renders user-facing CLI output: status messages, chunk
// progress and ledger summaries, with color support and a quiet mode.
package presenter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// ChunkProgress is one enhancement progress update.
type ChunkProgress struct {
	Index      int
	Title      string
	Succeeded  bool
	ErrorClass string
	Done       int
	Remaining  int
	ETA        time.Duration
}

// FailedChunk describes a chunk recorded as failed.
type FailedChunk struct {
	Index      int
	ErrorClass string
	Message    string
}

// LedgerSummary is the per-document state shown by status commands.
type LedgerSummary struct {
	Address   string
	Backend   string
	Total     int
	Completed int
	Pending   int
	Failed    []FailedChunk
	UpdatedAt time.Time
}

// Presenter defines the interface for consistent CLI output
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Section(title string)
	Progress(p ChunkProgress)
	Ledger(s LedgerSummary)
	Separator()
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// TerminalPresenter implements Presenter for terminal output
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	colorMode   ColorMode
	quiet       bool
}

// ColorMode represents different color output modes
type ColorMode int

const (
	// ColorAuto detects color support from the terminal.
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output.
	ColorAlways
	// ColorNever disables colored output.
	ColorNever
)

// New creates a TerminalPresenter writing to stdout and stderr.
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions creates a TerminalPresenter with custom settings
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	presenter := &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		colorMode:   colorMode,
	}

	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	case ColorAuto:
	}

	return presenter
}

func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}

	switch os.Getenv("SKILLSMITH_COLOR") {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// Error displays an error message to stderr
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}

	errorColor := color.New(color.FgRed, color.Bold)
	if context != "" {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %s: %v\n", context, err)
	} else {
		errorColor.Fprintf(p.errorOutput, "[ERROR] %v\n", err)
	}
}

// Success displays a success message
func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(p.output, "✓ %s\n", message)
}

// Warning displays a warning message
func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgYellow, color.Bold).Fprintf(p.output, "⚠ %s\n", message)
}

// Info displays an informational message
func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.output, "%s\n", message)
}

// Section displays a section header with consistent formatting
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}

	headerColor := color.New(color.Bold)
	headerColor.Fprintf(p.output, "%s\n", title)
	headerColor.Fprintf(p.output, "%s\n", strings.Repeat("-", len(title)))
}

// Progress prints one line per chunk outcome.
func (p *TerminalPresenter) Progress(cp ChunkProgress) {
	if p.quiet {
		return
	}

	total := cp.Done + cp.Remaining
	status := color.New(color.FgGreen).Sprint("ok")
	if !cp.Succeeded {
		status = color.New(color.FgRed).Sprintf("failed (%s)", cp.ErrorClass)
	}

	line := fmt.Sprintf("[%d/%d] chunk %d %q %s", cp.Done, total, cp.Index, cp.Title, status)
	if cp.Remaining > 0 && cp.ETA > 0 {
		line += fmt.Sprintf(" | eta %s", cp.ETA.Round(time.Second))
	}
	fmt.Fprintln(p.output, line)
}

// Ledger prints the completed, pending and failed chunk counts of a
// document followed by one line per failure.
func (p *TerminalPresenter) Ledger(s LedgerSummary) {
	if p.quiet {
		return
	}

	statsColor := color.New(color.FgCyan, color.Bold)
	statsColor.Fprintf(p.output, "[%s] Completed: %d/%d | Pending: %d | Failed: %d",
		s.Address, s.Completed, s.Total, s.Pending, len(s.Failed))
	if s.Backend != "" {
		statsColor.Fprintf(p.output, " | Backend: %s", s.Backend)
	}
	fmt.Fprintln(p.output)

	if !s.UpdatedAt.IsZero() {
		fmt.Fprintf(p.output, "  updated %s\n", s.UpdatedAt.Format(time.RFC3339))
	}

	failColor := color.New(color.FgRed)
	for _, f := range s.Failed {
		failColor.Fprintf(p.output, "  chunk %d: %s", f.Index, f.ErrorClass)
		if f.Message != "" {
			fmt.Fprintf(p.output, " (%s)", f.Message)
		}
		fmt.Fprintln(p.output)
	}
}

// Separator displays a visual separator
func (p *TerminalPresenter) Separator() {
	if p.quiet {
		return
	}
	color.New(color.Faint).Fprintf(p.output, "%s\n", strings.Repeat("-", 60))
}

// SetQuiet enables or disables quiet mode
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// IsQuiet returns whether quiet mode is enabled
func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var defaultPresenter = New()

// Error displays an error message using the default presenter instance.
func Error(err error, context string) {
	defaultPresenter.Error(err, context)
}

// Success displays a success message using the default presenter instance.
func Success(message string) {
	defaultPresenter.Success(message)
}

// Warning displays a warning message using the default presenter instance.
func Warning(message string) {
	defaultPresenter.Warning(message)
}

// Info displays an informational message using the default presenter instance.
func Info(message string) {
	defaultPresenter.Info(message)
}

// Section displays a section header using the default presenter instance.
func Section(title string) {
	defaultPresenter.Section(title)
}

// Progress displays chunk progress using the default presenter instance.
func Progress(cp ChunkProgress) {
	defaultPresenter.Progress(cp)
}

// Ledger displays a ledger summary using the default presenter instance.
func Ledger(s LedgerSummary) {
	defaultPresenter.Ledger(s)
}

// Separator displays a visual separator using the default presenter instance.
func Separator() {
	defaultPresenter.Separator()
}

// SetQuiet enables or disables quiet mode for the default presenter instance.
func SetQuiet(quiet bool) {
	defaultPresenter.SetQuiet(quiet)
}

// IsQuiet returns whether quiet mode is enabled for the default presenter instance.
func IsQuiet() bool {
	return defaultPresenter.IsQuiet()
}
