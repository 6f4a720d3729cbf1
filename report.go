package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Reporter prints the user-facing progress of a migration: pass banners,
// per-entity outcomes and pass results. It is safe for concurrent use.
type Reporter struct {
	mu sync.Mutex
	w  io.Writer

	title  lipgloss.Style
	ok     lipgloss.Style
	failed lipgloss.Style
	subtle lipgloss.Style
}

// newReporter returns a reporter writing to w. Without color every line is
// plain text.
func newReporter(w io.Writer, color bool) *Reporter {
	r := &Reporter{w: w}
	if !color {
		plain := lipgloss.NewStyle()
		r.title, r.ok, r.failed, r.subtle = plain, plain, plain, plain
		return r
	}
	renderer := lipgloss.NewRenderer(w)
	r.title = renderer.NewStyle().Bold(true)
	r.ok = renderer.NewStyle().Foreground(lipgloss.Color("2"))
	r.failed = renderer.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	r.subtle = renderer.NewStyle().Faint(true)
	return r
}

func (r *Reporter) println(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, s)
}

func (r *Reporter) PassStarted(title string) {
	r.println(r.title.Render("==> " + title))
}

func (r *Reporter) SchemaBound(store string, h SchemaHandle) {
	line := fmt.Sprintf("  %s schema %s (%s)", store, h.Name, h.Outcome)
	if h.Outcome == SchemaCollisionRenamed {
		line = fmt.Sprintf("  %s schema %s (%s: %s already exists)", store, h.Name, h.Outcome, h.Requested)
	}
	r.println(r.subtle.Render(line))
}

func (r *Reporter) EntityDone(entity string, records int) {
	r.println(r.ok.Render(fmt.Sprintf("  ✓ %s: %d records", entity, records)))
}

func (r *Reporter) EntityFailed(entity string, err error) {
	r.println(r.failed.Render(fmt.Sprintf("  ✗ %s: %v", entity, err)))
}

func (r *Reporter) ReferencesResolved(s ResolveStats) {
	r.println(r.subtle.Render(fmt.Sprintf("  references: %d rewritten, %d dangling, %d fields renamed, %d primary keys stripped",
		s.Rewritten, s.Dangling, s.Renamed, s.Stripped)))
}

func (r *Reporter) PassDone(title string, elapsed time.Duration) {
	r.println(r.ok.Render(fmt.Sprintf("  %s completed in %s", title, elapsed.Round(time.Millisecond))))
}

func (r *Reporter) PassFailed(title string, err error) {
	r.println(r.failed.Render(fmt.Sprintf("  %s failed: %v", title, err)))
}
