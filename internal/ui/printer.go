package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Lipgloss styles shared by prompts and printed tables.
var (
	// Section title - bold bright cyan
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	// Label style - dim cyan
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	// Value style - bright white
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	// Dim style - units and secondary info
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	readyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

// StatusRow is one line of a readiness table.
type StatusRow struct {
	Name     string
	Detail   string
	Ready    bool
	Problems []string
}

// Printer renders operator-facing output. Commands point it at stdout,
// wizards at stderr; it never fails, dropped writes are acceptable for
// terminal output.
type Printer struct {
	out io.Writer
}

// NewPrinter returns a printer writing to out, or stderr when out is nil.
func NewPrinter(out io.Writer) *Printer {
	if out == nil {
		out = os.Stderr
	}
	return &Printer{out: out}
}

// Title prints a section heading.
func (p *Printer) Title(text string) {
	fmt.Fprintln(p.out, titleStyle.Render(text))
}

// Info prints a plain progress line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Success prints a green check line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", readyStyle.Render("✓"), fmt.Sprintf(format, args...))
}

// Warn prints a yellow warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", warnStyle.Render("⚠"), fmt.Sprintf(format, args...))
}

// Failure prints a red failure line.
func (p *Printer) Failure(format string, args ...any) {
	fmt.Fprintf(p.out, "%s %s\n", failStyle.Render("✗"), fmt.Sprintf(format, args...))
}

// Hint prints a dim remediation line under an error.
func (p *Printer) Hint(text string) {
	fmt.Fprintf(p.out, "  %s\n", dimStyle.Render("hint: "+text))
}

// StatusTable renders per-repo readiness verdicts with their problems
// indented underneath.
func (p *Printer) StatusTable(rows []StatusRow) {
	width := 0
	for _, r := range rows {
		if len(r.Name) > width {
			width = len(r.Name)
		}
	}
	for _, r := range rows {
		glyph := readyStyle.Render("✓")
		if !r.Ready {
			glyph = failStyle.Render("✗")
		}
		name := valueStyle.Render(fmt.Sprintf("%-*s", width, r.Name))
		line := fmt.Sprintf(" %s %s", glyph, name)
		if r.Detail != "" {
			line += "  " + dimStyle.Render(r.Detail)
		}
		fmt.Fprintln(p.out, line)
		for _, problem := range r.Problems {
			fmt.Fprintf(p.out, "   %s %s\n", dimStyle.Render("·"), problem)
		}
	}
}

// Summary renders an aligned label/value block, skipping empty values.
func (p *Printer) Summary(title string, pairs [][2]string) {
	p.Title(title)
	width := 0
	for _, kv := range pairs {
		if kv[1] != "" && len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		label := labelStyle.Render(fmt.Sprintf("%-*s", width, kv[0]))
		fmt.Fprintf(p.out, "  %s  %s\n", label, valueStyle.Render(kv[1]))
	}
}

// List renders a titled bullet list.
func (p *Printer) List(title string, items []string) {
	if title != "" {
		p.Title(title)
	}
	for _, item := range items {
		fmt.Fprintf(p.out, "  %s %s\n", dimStyle.Render("-"), item)
	}
}

// Rule prints a dim horizontal divider.
func (p *Printer) Rule() {
	fmt.Fprintln(p.out, dimStyle.Render(strings.Repeat("─", 40)))
}
