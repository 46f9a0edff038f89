package presenter

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPresenter() (*TerminalPresenter, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewWithOptions(&out, &errOut, ColorNever), &out, &errOut
}

func TestDetectColorMode(t *testing.T) {
	tests := []struct {
		name     string
		noColor  string
		color    string
		expected ColorMode
	}{
		{"NO_COLOR wins", "1", "always", ColorNever},
		{"always", "", "always", ColorAlways},
		{"force", "", "force", ColorAlways},
		{"never", "", "never", ColorNever},
		{"off", "", "off", ColorNever},
		{"unset", "", "", ColorAuto},
		{"unknown", "", "rainbow", ColorAuto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NO_COLOR", tt.noColor)
			t.Setenv("SKILLSMITH_COLOR", tt.color)
			assert.Equal(t, tt.expected, detectColorMode())
		})
	}
}

func TestMessages(t *testing.T) {
	p, out, errOut := newTestPresenter()

	p.Error(errors.New("disk full"), "writing ledger")
	assert.Equal(t, "[ERROR] writing ledger: disk full\n", errOut.String())

	errOut.Reset()
	p.Error(nil, "ignored")
	assert.Empty(t, errOut.String())

	p.Success("skill assembled")
	p.Warning("chunk 2 failed")
	p.Info("plain")
	assert.Equal(t, "✓ skill assembled\n⚠ chunk 2 failed\nplain\n", out.String())
}

func TestSection(t *testing.T) {
	p, out, _ := newTestPresenter()
	p.Section("Ledgers")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Ledgers", lines[0])
	assert.Equal(t, "-------", lines[1])
}

func TestProgress(t *testing.T) {
	p, out, _ := newTestPresenter()

	p.Progress(ChunkProgress{Index: 1, Title: "Scope", Succeeded: true, Done: 1, Remaining: 2, ETA: 90 * time.Second})
	p.Progress(ChunkProgress{Index: 2, Title: "Invoices", ErrorClass: "rate_limited", Done: 2, Remaining: 1})
	p.Progress(ChunkProgress{Index: 3, Title: "Customs", Succeeded: true, Done: 3})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `[1/3] chunk 1 "Scope" ok | eta 1m30s`, lines[0])
	assert.Equal(t, `[2/3] chunk 2 "Invoices" failed (rate_limited)`, lines[1])
	assert.Equal(t, `[3/3] chunk 3 "Customs" ok`, lines[2])
}

func TestLedger(t *testing.T) {
	p, out, _ := newTestPresenter()

	p.Ledger(LedgerSummary{
		Address:   "00000000000000ab",
		Backend:   "anthropic",
		Total:     3,
		Completed: 2,
		Failed:    []FailedChunk{{Index: 2, ErrorClass: "timeout", Message: "deadline exceeded"}},
		UpdatedAt: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	})

	result := out.String()
	assert.Contains(t, result, "[00000000000000ab] Completed: 2/3 | Pending: 0 | Failed: 1 | Backend: anthropic")
	assert.Contains(t, result, "updated 2026-10-01T09:00:00Z")
	assert.Contains(t, result, "chunk 2: timeout (deadline exceeded)")
}

func TestQuietMode(t *testing.T) {
	p, out, errOut := newTestPresenter()
	p.SetQuiet(true)
	assert.True(t, p.IsQuiet())

	p.Success("a")
	p.Warning("b")
	p.Info("c")
	p.Section("d")
	p.Progress(ChunkProgress{Index: 1, Done: 1})
	p.Ledger(LedgerSummary{Address: "x"})
	p.Separator()
	assert.Empty(t, out.String())

	p.Error(errors.New("still shown"), "")
	assert.Contains(t, errOut.String(), "still shown")
}

func TestGlobalFunctions(t *testing.T) {
	original := defaultPresenter
	defer func() { defaultPresenter = original }()

	p, out, errOut := newTestPresenter()
	defaultPresenter = p

	Error(errors.New("boom"), "")
	assert.Contains(t, errOut.String(), "boom")

	Success("done")
	Warning("careful")
	Info("note")
	Section("Runs")
	Separator()
	Progress(ChunkProgress{Index: 1, Title: "One", Succeeded: true, Done: 1})
	Ledger(LedgerSummary{Address: "abc", Total: 1, Completed: 1})
	for _, want := range []string{"done", "careful", "note", "Runs", strings.Repeat("-", 60), `chunk 1 "One" ok`, "[abc] Completed: 1/1"} {
		assert.Contains(t, out.String(), want)
	}

	SetQuiet(true)
	assert.True(t, IsQuiet())
	out.Reset()
	Info("hidden")
	assert.Empty(t, out.String())
	SetQuiet(false)
}
