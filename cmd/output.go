package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/samsaffron/chatstream/internal/completion"
)

var (
	toolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	boldStyle  = lipgloss.NewStyle().Bold(true)
)

// toolStatusLine renders one tool status for the terminal.
func toolStatusLine(s completion.ToolStatus) string {
	switch {
	case s.Status == completion.ToolInvoking:
		return toolStyle.Render("⚙ " + s.Tool + "…")
	case s.IsError:
		return errorStyle.Render("✗ "+s.Tool) + mutedStyle.Render(" "+firstLine(s.Response))
	default:
		return doneStyle.Render("✓ " + s.Tool)
	}
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}

// printer writes chunks to the terminal as they arrive. Tool statuses are
// printed once per state change. With render set, text is buffered and
// rendered as markdown by finish.
type printer struct {
	out     io.Writer
	render  bool
	seen    map[string]completion.ToolState
	buf     strings.Builder
	midLine bool
	anyText bool
}

func newPrinter(out io.Writer, render bool) *printer {
	return &printer{out: out, render: render, seen: make(map[string]completion.ToolState)}
}

func (p *printer) chunk(c completion.StreamChunk) {
	for _, s := range c.ToolStatuses {
		if p.seen[s.ID] == s.Status {
			continue
		}
		p.seen[s.ID] = s.Status
		if p.midLine {
			fmt.Fprintln(p.out)
			p.midLine = false
		}
		fmt.Fprintln(p.out, toolStatusLine(s))
	}
	if c.Text == "" {
		return
	}
	p.anyText = true
	if p.render {
		p.buf.WriteString(c.Text)
		return
	}
	fmt.Fprint(p.out, c.Text)
	p.midLine = !strings.HasSuffix(c.Text, "\n")
}

// finish flushes buffered markdown and ends the last line.
func (p *printer) finish() {
	if p.render && p.buf.Len() > 0 {
		rendered, err := renderMarkdown(p.buf.String(), terminalWidth())
		if err != nil {
			rendered = p.buf.String()
		}
		fmt.Fprint(p.out, rendered)
		p.buf.Reset()
		return
	}
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

func renderMarkdown(text string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(text)
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// summaryLine renders the metrics of a finished ask.
func summaryLine(s completion.Summary) string {
	parts := []string{
		fmt.Sprintf("%.1fs", float64(s.TimeCompletionMs)/1000),
		fmt.Sprintf("first token %dms", s.TimeFirstTokenMs),
		fmt.Sprintf("%d in / %d out tokens", s.Usage.PromptTokens, s.Usage.CompletionTokens),
	}
	if s.ToolCalls > 0 {
		parts = append(parts, fmt.Sprintf("%d tool calls", s.ToolCalls))
	}
	return mutedStyle.Render(strings.Join(parts, " · "))
}
