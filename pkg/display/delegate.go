package display

import (
	"errors"
	"fmt"
	"sync"

	"plex/pkg/asset"
	"plex/pkg/multiplex"
)

// Delegate shows coordinator notifications on a Display. Each network fetch
// gets its own task.
// Mutable
type Delegate struct {
	disp  Display
	label string
	theme *Theme

	mu        sync.Mutex
	tasks     map[string]Task
	displayed *multiplex.Version[string, *asset.Asset]
	displays  int
}

var _ multiplex.Delegate[string, *asset.Asset] = (*Delegate)(nil)

// NewDelegate creates a delegate for the image called label.
func NewDelegate(disp Display, label string) *Delegate {
	return &Delegate{
		disp:  disp,
		label: label,
		theme: DefaultTheme(),
		tasks: make(map[string]Task),
	}
}

func (d *Delegate) taskName(id string) string {
	if d.label == "" {
		return id
	}
	return d.label + " " + id
}

// FetchStarted opens a task for id. A task still open for id belongs to a
// cancelled fetch and is closed first.
func (d *Delegate) FetchStarted(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old := d.tasks[id]; old != nil {
		old.Done()
	}
	t := d.disp.StartTask(d.taskName(id))
	t.SetStage("Fetch", id)
	d.tasks[id] = t
}

func (d *Delegate) FetchProgress(id string, fraction float64) {
	d.mu.Lock()
	t := d.tasks[id]
	d.mu.Unlock()
	if t != nil {
		t.Progress(int(fraction*100), "")
	}
}

func (d *Delegate) FetchFinished(id string, err error) {
	d.mu.Lock()
	t := d.tasks[id]
	delete(d.tasks, id)
	d.mu.Unlock()

	switch {
	case err == nil:
		if t != nil {
			t.Progress(100, "")
		}
	case errors.Is(err, multiplex.ErrBestImageIdentifierChanged):
		d.disp.Log(fmt.Sprintf("%s: skipped %s, best image changed", d.label, id))
	default:
		d.disp.Print(fmt.Sprintf("%s %s: %v\n", d.theme.Styled(d.theme.Red, d.theme.Cross), d.taskName(id), err))
	}
	if t != nil {
		t.Done()
	}
}

func (d *Delegate) AssetUpdated(current, previous *multiplex.Version[string, *asset.Asset]) {
	if current == nil {
		d.disp.Log(fmt.Sprintf("%s: cleared", d.label))
		return
	}
	msg := fmt.Sprintf("%s: loaded %s (%s)", d.label, current.ID, current.Asset)
	if previous != nil {
		msg += fmt.Sprintf(" %s replacing %s", d.theme.Arrow, previous.ID)
	}
	d.disp.Log(msg)
}

func (d *Delegate) DisplayUpdated(current *multiplex.Version[string, *asset.Asset]) {
	d.mu.Lock()
	d.displayed = current
	d.displays++
	d.mu.Unlock()
	if current == nil {
		return
	}
	d.disp.Print(fmt.Sprintf("%s %s %s %s\n",
		d.theme.Styled(d.theme.Green, d.theme.Bullet),
		d.theme.Styled(d.theme.Bold, d.label),
		d.theme.Styled(d.theme.Cyan, current.ID),
		d.theme.Styled(d.theme.Dim, current.Asset.String())))
}

func (d *Delegate) DisplayFinished() {}

// Finish closes the tasks of fetches that were cancelled without a terminal
// notification. Call it once the coordinator is idle.
func (d *Delegate) Finish() {
	d.mu.Lock()
	tasks := d.tasks
	d.tasks = make(map[string]Task)
	d.mu.Unlock()
	for _, t := range tasks {
		t.Done()
	}
}

// Displayed returns the last displayed version and how many display updates
// were shown.
func (d *Delegate) Displayed() (*multiplex.Version[string, *asset.Asset], int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.displayed, d.displays
}
