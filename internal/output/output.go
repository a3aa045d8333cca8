// Package output renders wikisearch CLI output: status lines, search hits,
// index status and errors. Colors are used only on terminals.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/index"
	"github.com/xwiki/xwiki-platform-sub060/internal/search"
	"github.com/xwiki/xwiki-platform-sub060/internal/telemetry"
)

// Color palette.
const (
	ColorAccent = "154"
	ColorGray   = "245"
	ColorDim    = "238"
	ColorRed    = "196"
	ColorYellow = "220"
)

// Styles holds the styles used by a Writer.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Label   lipgloss.Style
	Dim     lipgloss.Style
}

// ColorStyles returns the terminal styles.
func ColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDim)),
	}
}

// PlainStyles returns styles that render text unchanged.
func PlainStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Label:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
	}
}

// Writer provides formatted output for CLI.
type Writer struct {
	out    io.Writer
	styles Styles
}

// New creates a Writer. Colors are enabled when out is a terminal and
// NO_COLOR is unset.
func New(out io.Writer) *Writer {
	if IsTTY(out) && !DetectNoColor() {
		return NewWithStyles(out, ColorStyles())
	}
	return NewWithStyles(out, PlainStyles())
}

// NewWithStyles creates a Writer using styles.
func NewWithStyles(out io.Writer, styles Styles) *Writer {
	return &Writer{out: out, styles: styles}
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status(w.styles.Error.Render("✗"), msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Err prints err with its hint and code.
func (w *Writer) Err(err error) {
	if err == nil {
		return
	}
	text := strings.TrimRight(wserrors.FormatForCLI(err), "\n")
	lines := strings.Split(text, "\n")
	_, _ = fmt.Fprintln(w.out, w.styles.Error.Render(lines[0]))
	for _, l := range lines[1:] {
		_, _ = fmt.Fprintln(w.out, w.styles.Label.Render(l))
	}
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Hits prints a page of search results. Stored fields named in fields are
// printed under each hit; all stored fields are printed when fields is empty.
func (w *Writer) Hits(res *search.Result, from int, fields []string) {
	if len(res.Hits) == 0 {
		w.Status("", "No results.")
		return
	}

	for i, h := range res.Hits {
		_, _ = fmt.Fprintf(w.out, "%s %s %s\n",
			w.styles.Label.Render(fmt.Sprintf("%3d.", from+i+1)),
			w.styles.Header.Render(h.ID),
			w.styles.Dim.Render(fmt.Sprintf("%.3f", h.Score)))

		for _, name := range hitFields(h, fields) {
			v, ok := h.Fields[name]
			if !ok {
				continue
			}
			_, _ = fmt.Fprintf(w.out, "     %s %s\n", w.styles.Label.Render(name+":"), formatValue(v))
		}
	}

	summary := fmt.Sprintf("%d of %d hits from %d director%s in %s",
		len(res.Hits), res.Total, res.Searched, plural(res.Searched, "y", "ies"), res.Took.Round(time.Millisecond))
	w.Newline()
	w.Status("", w.styles.Dim.Render(summary))
	if res.Failed > 0 {
		w.Warningf("%d director%s could not be searched", res.Failed, plural(res.Failed, "y", "ies"))
	}
}

func hitFields(h *search.Hit, fields []string) []string {
	if len(fields) > 0 {
		return fields
	}
	names := make([]string, 0, len(h.Fields))
	for n := range h.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func formatValue(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}

// Handles prints one line per index directory.
func (w *Writer) Handles(handles []search.HandleInfo) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render("Index directories"))
	for i, h := range handles {
		role := "read"
		if i == 0 {
			role = "write"
		}
		if !h.Open {
			_, _ = fmt.Fprintf(w.out, "  %s %s %s\n",
				w.styles.Error.Render("✗"), h.Dir, w.styles.Label.Render("("+role+", unavailable)"))
			continue
		}
		_, _ = fmt.Fprintf(w.out, "  %s %s %s\n",
			w.styles.Success.Render("✓"), h.Dir,
			w.styles.Label.Render(fmt.Sprintf("(%s, generation %d, %d docs)", role, h.Generation, h.Docs)))
	}
}

// Stats prints indexing worker counters.
func (w *Writer) Stats(s index.Stats) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render("Indexing"))
	row := func(label, value string) {
		_, _ = fmt.Fprintf(w.out, "  %s %s\n", w.styles.Label.Render(fmt.Sprintf("%-15s", label)), value)
	}
	row("state", string(s.State))
	row("generation", fmt.Sprint(s.Generation))
	row("queue", fmt.Sprint(s.QueueDepth))
	row("processed", fmt.Sprint(s.Processed))
	row("commits", fmt.Sprint(s.Commits))
	if s.FailedBuilds > 0 || s.FailedWrites > 0 || s.FailedCommits > 0 {
		row("failures", w.styles.Warning.Render(fmt.Sprintf("%d builds, %d writes, %d commits",
			s.FailedBuilds, s.FailedWrites, s.FailedCommits)))
	}
	if !s.LastCommit.IsZero() {
		row("last commit", s.LastCommit.Local().Format(time.DateTime))
	}
	if s.Rebuilding {
		row("rebuild", w.styles.Warning.Render("in progress"))
	}
}

// Queries prints the search metrics of a server.
func (w *Writer) Queries(s telemetry.Snapshot) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render("Searches"))
	row := func(label, value string) {
		_, _ = fmt.Fprintf(w.out, "  %s %s\n", w.styles.Label.Render(fmt.Sprintf("%-15s", label)), value)
	}
	row("total", fmt.Sprint(s.TotalQueries))
	if s.TotalQueries == 0 {
		return
	}
	row("no hits", fmt.Sprintf("%d (%.1f%%)", s.ZeroResultCount, s.ZeroResultPercentage()))
	if s.FailedQueries > 0 || s.PartialQueries > 0 {
		row("failures", w.styles.Warning.Render(fmt.Sprintf("%d failed, %d partial", s.FailedQueries, s.PartialQueries)))
	}

	var latency []string
	for _, b := range []telemetry.LatencyBucket{
		telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100, telemetry.BucketP500, telemetry.BucketP1000,
	} {
		if n := s.Latency[b]; n > 0 {
			latency = append(latency, fmt.Sprintf("%s=%d", b, n))
		}
	}
	row("latency", strings.Join(latency, " "))

	if len(s.TopTerms) > 0 {
		terms := make([]string, len(s.TopTerms))
		for i, t := range s.TopTerms {
			terms[i] = fmt.Sprintf("%s (%d)", t.Term, t.Count)
		}
		row("top terms", strings.Join(terms, ", "))
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
