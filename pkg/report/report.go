// Package report builds the markdown run report and renders it for
// terminals.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-runewidth"

	"github.com/riftlabs/rift/pkg/bundle"
	"github.com/riftlabs/rift/pkg/runtime"
)

// Run is everything the report needs about a finished run.
type Run struct {
	RunID   string
	SpecRef string
	TargetA string
	TargetB string
	Summary *runtime.Summary
	Bundles []*bundle.Bundle
}

// Markdown builds the full report.md content.
func Markdown(r Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# rift run %s\n\n", r.RunID)
	fmt.Fprintf(&b, "Spec `%s` — `%s` vs `%s`.\n\n", r.SpecRef, r.TargetA, r.TargetB)

	b.WriteString("## Summary\n\n")
	s := r.Summary
	if s == nil {
		s = &runtime.Summary{}
	}
	b.WriteString(Table(
		[]string{"metric", "value"},
		[][]string{
			{"operations", fmt.Sprint(s.Operations)},
			{"cases", fmt.Sprint(s.Cases)},
			{"chains", fmt.Sprint(s.Chains)},
			{"steps executed", fmt.Sprint(s.StepsExecuted)},
			{"mismatched", fmt.Sprint(s.Mismatched)},
			{"bundles written", fmt.Sprint(s.Bundles)},
			{"degraded chains", fmt.Sprint(s.Degraded)},
			{"truncated steps", fmt.Sprint(s.Truncated)},
			{"duration", s.Duration.Truncate(time.Millisecond).String()},
		},
	))
	b.WriteString("\n")

	if len(r.Bundles) == 0 {
		b.WriteString("## Mismatches\n\nNone. The targets agree on every executed step.\n")
		return b.String()
	}

	b.WriteString("## Mismatches\n\n")
	rows := make([][]string, 0, len(r.Bundles))
	for _, bd := range r.Bundles {
		first := ""
		if paths := bd.FailingPaths(); len(paths) > 0 {
			first = paths[0]
		}
		rows = append(rows, []string{
			bd.Key,
			strings.Join(bd.Sequence, " -> "),
			first,
			fmt.Sprint(len(bd.Mismatches)),
		})
	}
	b.WriteString(Table([]string{"key", "sequence", "first failing path", "mismatches"}, rows))
	b.WriteString("\n")

	for _, bd := range r.Bundles {
		fmt.Fprintf(&b, "### %s — %s\n\n", bd.Key, strings.Join(bd.Sequence, " -> "))
		for _, m := range bd.Mismatches {
			fmt.Fprintf(&b, "- `%s` (%s): %s vs %s\n", m.Path, m.Rule, cell(m.A), cell(m.B))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// cell formats a mismatch side for inline display, truncated.
func cell(v any) string {
	data, err := json.Marshal(v)
	s := string(data)
	if err != nil {
		s = fmt.Sprintf("%v", v)
	}
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return "`" + s + "`"
}

// Table renders an aligned markdown pipe table. Columns pad to display
// width so the raw text stays readable before rendering.
func Table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, c := range row {
			if i < len(widths) {
				if w := runewidth.StringWidth(c); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i, w := range widths {
			c := ""
			if i < len(cells) {
				c = cells[i]
			}
			b.WriteString(" " + pad(c, w) + " |")
		}
		b.WriteString("\n")
	}
	writeRow(headers)
	b.WriteString("|")
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w+2) + "|")
	}
	b.WriteString("\n")
	for _, row := range rows {
		writeRow(row)
	}
	return b.String()
}

func pad(s string, width int) string {
	if d := width - runewidth.StringWidth(s); d > 0 {
		return s + strings.Repeat(" ", d)
	}
	return s
}

// Render converts markdown to styled terminal output. Falls back to the raw
// input if rendering fails.
func Render(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(0),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// Write saves the report into a run directory and returns its path.
func Write(dir, md string) (string, error) {
	path := filepath.Join(dir, "report.md")
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
