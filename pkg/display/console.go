// Package display implementation for terminal-based output.
package display

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

const clearLine = "\x1b[1A\x1b[2K"

// consoleDisplay writes log lines and keeps the active tasks as a block of
// status lines at the bottom, redrawn in place.
// Mutable
type consoleDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	theme   *Theme
	verbose bool
	tasks   []*consoleTask
	drawn   int
}

// NewWriterDisplay creates a Display that writes to the provided io.Writer.
func NewWriterDisplay(w io.Writer) Display {
	return &consoleDisplay{
		out:   w,
		theme: DefaultTheme(),
	}
}

func (d *consoleDisplay) StartTask(name string) Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &consoleTask{d: d, name: name}
	d.clearLocked()
	d.tasks = append(d.tasks, t)
	d.drawLocked()
	return t
}

func (d *consoleDisplay) Log(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.verbose {
		return
	}
	d.printLocked(d.theme.Styled(d.theme.Dim, msg) + "\n")
}

// Print writes a message directly to the output writer.
func (d *consoleDisplay) Print(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.printLocked(msg)
}

func (d *consoleDisplay) SetVerbose(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verbose = v
}

// Close drops the status block. Tasks still open are left unfinished.
func (d *consoleDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked()
	d.tasks = nil
}

// printLocked writes msg above the status block.
func (d *consoleDisplay) printLocked(msg string) {
	d.clearLocked()
	fmt.Fprint(d.out, msg)
	d.drawLocked()
}

func (d *consoleDisplay) clearLocked() {
	fmt.Fprint(d.out, strings.Repeat(clearLine, d.drawn))
	d.drawn = 0
}

func (d *consoleDisplay) drawLocked() {
	for _, t := range d.tasks {
		fmt.Fprintln(d.out, t.line(d.theme))
	}
	d.drawn = len(d.tasks)
}

// Guarded by consoleDisplay.mu
type consoleTask struct {
	d       *consoleDisplay
	name    string
	stage   string
	target  string
	percent int
	message string
}

func (t *consoleTask) line(th *Theme) string {
	var sb strings.Builder
	sb.WriteString(th.Styled(th.Cyan, "["+t.name+"]"))
	if t.stage != "" {
		sb.WriteString(" " + th.Styled(th.Bold, t.stage))
	}
	if t.target != "" {
		sb.WriteString(" " + t.target)
	}
	if t.percent > 0 || t.message != "" {
		fmt.Fprintf(&sb, " %3d%%", t.percent)
	}
	if t.message != "" {
		sb.WriteString(" " + th.Styled(th.Dim, t.message))
	}
	return sb.String()
}

func (t *consoleTask) Log(msg string) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if !t.d.verbose {
		return
	}
	t.d.printLocked(fmt.Sprintf("[%s] %s\n", t.name, msg))
}

func (t *consoleTask) SetStage(name string, target string) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.stage, t.target = name, target
	t.d.clearLocked()
	t.d.drawLocked()
}

func (t *consoleTask) Progress(percent int, message string) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	t.percent = min(max(percent, 0), 100)
	t.message = message
	t.d.clearLocked()
	t.d.drawLocked()
}

func (t *consoleTask) Done() {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	i := slices.Index(d.tasks, t)
	if i < 0 {
		return
	}
	d.clearLocked()
	d.tasks = slices.Delete(d.tasks, i, i+1)
	fmt.Fprintf(d.out, "%s %s Done\n", d.theme.Styled(d.theme.Green, d.theme.Check), t.name)
	d.drawLocked()
}
