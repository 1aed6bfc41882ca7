package progress

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"appkeep/internal/keep"
)

const barWidth = 24

// Renderer writes progress records for a person to read. On a terminal it
// redraws one line per application with a bar; otherwise it prints a line
// whenever the label of an application changes.
type Renderer struct {
	w   io.Writer
	tty bool

	current string // package id of the line being redrawn
	label   string
}

// NewRenderer creates a Renderer writing to w. Terminal output is detected
// when w is an *os.File.
func NewRenderer(w io.Writer) *Renderer {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Renderer{w: w, tty: tty}
}

// Render draws records until the channel is closed.
func (r *Renderer) Render(records <-chan keep.ProgressRecord) {
	for rec := range records {
		r.Publish(rec)
	}
	if r.tty && r.current != "" {
		fmt.Fprintln(r.w)
	}
}

// Publish draws a single record, so a Renderer can also serve directly as a
// keep.ProgressSink.
func (r *Renderer) Publish(rec keep.ProgressRecord) {
	if r.tty {
		r.redraw(rec)
		return
	}
	if rec.PackageID == r.current && rec.Label == r.label && !rec.Done {
		return
	}
	r.current, r.label = rec.PackageID, rec.Label
	fmt.Fprintln(r.w, line(rec))
}

func (r *Renderer) redraw(rec keep.ProgressRecord) {
	if r.current != "" && rec.PackageID != r.current {
		fmt.Fprintln(r.w)
	}
	r.current, r.label = rec.PackageID, rec.Label
	fmt.Fprintf(r.w, "\r\033[K%s %s", bar(rec.Progress, rec.Max), line(rec))
	if rec.Done {
		fmt.Fprintln(r.w)
		r.current = ""
	}
}

func line(rec keep.ProgressRecord) string {
	pct := 0
	if rec.Max > 0 {
		pct = rec.Progress * 100 / rec.Max
	}
	text := fmt.Sprintf("%3d%%  %s", pct, rec.Name)
	if rec.Label != "" {
		text += "  " + rec.Label
	}
	if rec.Err != nil {
		text += ": " + rec.Err.Error()
	}
	return text
}

func bar(progress, total int) string {
	filled := 0
	if total > 0 {
		filled = progress * barWidth / total
	}
	if filled > barWidth {
		filled = barWidth
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled) + "]"
}
