// Package ui renders the run to the terminal: the plan table before
// execution, one line per finished case, and the summary table at the end.
// Diagnostics stay on slog; everything here is the human-facing surface.
package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/sdamache/memorybench/internal/types"
)

// ANSI codes
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
)

var statusColor = map[types.CaseStatus]string{
	types.StatusPass:  ansiGreen,
	types.StatusFail:  ansiRed,
	types.StatusSkip:  ansiYellow,
	types.StatusError: ansiRed,
}

var statusGlyph = map[types.CaseStatus]string{
	types.StatusPass:  "✓",
	types.StatusFail:  "✗",
	types.StatusSkip:  "→",
	types.StatusError: "!",
}

// Printer writes run output to a single destination. Color can be disabled
// for non-TTY output.
type Printer struct {
	w     io.Writer
	color bool
}

func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color}
}

func (p *Printer) paint(code, s string) string {
	if !p.color {
		return s
	}
	return code + s + ansiReset
}

// PrintPlan renders the execution plan as a table, eligible entries first
// in plan order, with skip reasons for the gated-out combinations.
func (p *Printer) PrintPlan(plan types.RunPlan) {
	fmt.Fprintf(p.w, "%s\n", p.paint(ansiBold, "Run "+plan.RunID))
	fmt.Fprintf(p.w, "%s\n\n", p.paint(ansiDim, plan.Timestamp))

	rows := [][]string{{"PROVIDER", "BENCHMARK", "STATUS"}}
	for _, e := range plan.Entries {
		status := "eligible"
		if !e.Eligible {
			status = "skipped: " + e.SkipReason.Message
		}
		rows = append(rows, []string{e.ProviderName, e.BenchmarkName, status})
	}
	p.printTable(rows)
	fmt.Fprintf(p.w, "\n%d eligible, %d skipped\n\n", plan.EligibleCount, plan.SkippedCount)
}

// EntryStarted implements the runner progress callback.
func (p *Printer) EntryStarted(provider, benchmark string, caseCount int) {
	fmt.Fprintf(p.w, "%s %s × %s (%d cases)\n", p.paint(ansiCyan, "▶"), provider, benchmark, caseCount)
}

// CaseFinished implements the runner progress callback: one line per case.
func (p *Printer) CaseFinished(r types.RunCaseResult) {
	glyph := statusGlyph[r.Status]
	if glyph == "" {
		glyph = "?"
	}
	line := fmt.Sprintf("  %s %s (%dms)", glyph, r.CaseID, r.DurationMs)
	if r.Status == types.StatusError && r.Error != "" {
		line += " " + clip(r.Error, 60)
	}
	if retries := len(r.RetryHistory); retries > 0 {
		line += fmt.Sprintf(" [%d attempts]", retries)
	}
	fmt.Fprintln(p.w, p.paint(statusColor[r.Status], line))
}

// PrintSummary renders the per-combination table and run totals.
func (p *Printer) PrintSummary(s types.MetricsSummary) {
	fmt.Fprintf(p.w, "\n%s\n\n", p.paint(ansiBold, "Summary"))

	rows := [][]string{{"PROVIDER", "BENCHMARK", "CASES", "PASS", "FAIL", "ERR", "SCORES"}}
	for _, c := range s.ByCombination {
		rows = append(rows, []string{
			c.Provider,
			c.Benchmark,
			fmt.Sprintf("%d", c.Counts.Cases),
			fmt.Sprintf("%d", c.Counts.Passed),
			fmt.Sprintf("%d", c.Counts.Failed),
			fmt.Sprintf("%d", c.Counts.Errors),
			formatScores(c.ScoreAverages),
		})
	}
	p.printTable(rows)

	t := s.Totals
	fmt.Fprintf(p.w, "\n%d cases: %s passed, %s failed, %d errors",
		t.Cases,
		p.paint(ansiGreen, fmt.Sprintf("%d", t.Passed)),
		p.paint(ansiRed, fmt.Sprintf("%d", t.Failed)),
		t.Errors)
	if t.SkippedCombos > 0 {
		fmt.Fprintf(p.w, ", %d combinations skipped", t.SkippedCombos)
	}
	fmt.Fprintf(p.w, " (%dms)\n", t.DurationMs)
}

// printTable pads columns with runewidth so wide glyphs line up.
func (p *Printer) printTable(rows [][]string) {
	if len(rows) == 0 {
		return
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for ri, row := range rows {
		var cells []string
		for i, cell := range row {
			cells = append(cells, runewidth.FillRight(cell, widths[i]))
		}
		line := strings.TrimRight(strings.Join(cells, "  "), " ")
		if ri == 0 {
			line = p.paint(ansiDim, line)
		}
		fmt.Fprintln(p.w, line)
	}
}

// formatScores renders score averages as "name=0.82" pairs in key order.
func formatScores(avgs map[string]float64) string {
	if len(avgs) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(avgs))
	for k := range avgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.2f", k, avgs[k]))
	}
	return strings.Join(parts, " ")
}

// clip truncates s to at most n characters, appending "…" if trimmed.
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
