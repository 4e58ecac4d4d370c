package display

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"plex/pkg/asset"
	"plex/pkg/multiplex"
)

// fakeDisplay records calls instead of rendering them.
type fakeDisplay struct {
	started []string
	logs    []string
	prints  []string
	tasks   map[string]*fakeTask
	all     []*fakeTask
}

type fakeTask struct {
	stage    string
	percents []int
	done     bool
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{tasks: make(map[string]*fakeTask)}
}

func (f *fakeDisplay) StartTask(name string) Task {
	f.started = append(f.started, name)
	t := &fakeTask{}
	f.tasks[name] = t
	f.all = append(f.all, t)
	return t
}

func (f *fakeDisplay) Log(msg string)    { f.logs = append(f.logs, msg) }
func (f *fakeDisplay) Print(msg string)  { f.prints = append(f.prints, msg) }
func (f *fakeDisplay) SetVerbose(v bool) {}
func (f *fakeDisplay) Close()            {}

func (t *fakeTask) Log(msg string)                      {}
func (t *fakeTask) SetStage(name string, target string) { t.stage = name }
func (t *fakeTask) Progress(percent int, message string) {
	t.percents = append(t.percents, percent)
}
func (t *fakeTask) Done() { t.done = true }

func TestDelegateFetchLifecycle(t *testing.T) {
	disp := newFakeDisplay()
	d := NewDelegate(disp, "hero")

	d.FetchStarted("large")
	d.FetchProgress("large", 0.5)
	d.FetchFinished("large", nil)

	task := disp.tasks["hero large"]
	if task == nil {
		t.Fatalf("no task started, got %v", disp.started)
	}
	if task.stage != "Fetch" || !task.done {
		t.Errorf("task = %+v", task)
	}
	if fmt.Sprint(task.percents) != "[50 100]" {
		t.Errorf("percents = %v", task.percents)
	}

	d.FetchProgress("large", 0.9)
	if len(task.percents) != 2 {
		t.Error("progress after finish should be ignored")
	}
}

func TestDelegateErrors(t *testing.T) {
	disp := newFakeDisplay()
	d := NewDelegate(disp, "hero")

	d.FetchStarted("large")
	d.FetchFinished("large", errors.New("connection reset"))
	if !disp.tasks["hero large"].done {
		t.Error("failed task should be done")
	}
	d.FetchFinished("small", multiplex.ErrNoSourceForImage)
	d.FetchFinished("medium", fmt.Errorf("filler: %w", multiplex.ErrBestImageIdentifierChanged))

	if len(disp.prints) != 2 {
		t.Fatalf("prints = %q, want 2 errors", disp.prints)
	}
	if !strings.Contains(disp.prints[0], "connection reset") || !strings.Contains(disp.prints[1], "no source") {
		t.Errorf("prints = %q", disp.prints)
	}
	if len(disp.logs) != 1 || !strings.Contains(disp.logs[0], "best image changed") {
		t.Errorf("logs = %q", disp.logs)
	}
}

func TestDelegateDisplayUpdates(t *testing.T) {
	buf := &bytes.Buffer{}
	disp := NewWriterDisplay(buf)
	disp.SetVerbose(true)
	d := NewDelegate(disp, "hero")

	lo := &multiplex.Version[string, *asset.Asset]{ID: "small", Asset: &asset.Asset{Format: "png"}}
	hi := &multiplex.Version[string, *asset.Asset]{ID: "large", Asset: &asset.Asset{Format: "jpeg"}}
	d.AssetUpdated(lo, nil)
	d.DisplayUpdated(lo)
	d.AssetUpdated(hi, lo)
	d.DisplayUpdated(hi)
	d.DisplayFinished()

	out := buf.String()
	for _, want := range []string{"loaded small", "replacing small", "large", "jpeg"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
	v, n := d.Displayed()
	if v != hi || n != 2 {
		t.Errorf("Displayed() = %v, %d", v, n)
	}

	d.AssetUpdated(nil, hi)
	d.DisplayUpdated(nil)
	if v, _ := d.Displayed(); v != nil {
		t.Errorf("Displayed() after clear = %v", v)
	}
}

func TestDelegateRestartClosesTask(t *testing.T) {
	disp := newFakeDisplay()
	d := NewDelegate(disp, "hero")

	d.FetchStarted("small")
	d.FetchProgress("small", 0.4)
	d.FetchStarted("small")
	if len(disp.all) != 2 {
		t.Fatalf("tasks = %d, want 2", len(disp.all))
	}
	if !disp.all[0].done || disp.all[1].done {
		t.Errorf("done = %v, %v; want the first task closed", disp.all[0].done, disp.all[1].done)
	}

	d.Finish()
	if !disp.all[1].done {
		t.Error("Finish should close the open task")
	}
	d.FetchFinished("small", nil)
	if len(disp.all[1].percents) != 0 {
		t.Errorf("finished task got progress %v after Finish", disp.all[1].percents)
	}
}

// stallingFetcher never completes the fetch of stall; it reports progress
// and waits for cancellation. Other locators succeed once stall has reported.
type stallingFetcher struct {
	stall    multiplex.Locator
	reported chan struct{}
}

func (f *stallingFetcher) Fetch(ctx context.Context, loc multiplex.Locator, progress func(float64)) (*asset.Asset, error) {
	if loc == f.stall {
		progress(0.4)
		close(f.reported)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	select {
	case <-f.reported:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &asset.Asset{Locator: string(loc), Format: "png"}, nil
}

type locators map[string]multiplex.Locator

func (l locators) LocatorFor(id string) (multiplex.Locator, bool) {
	loc, ok := l[id]
	return loc, ok
}

func TestDelegateFinishClosesCancelledFiller(t *testing.T) {
	disp := newFakeDisplay()
	d := NewDelegate(disp, "img")
	c := multiplex.New(multiplex.Config[string, *asset.Asset]{
		DataSource:       locators{"hi": "mem://hi", "lo": "mem://lo"},
		Fetcher:          &stallingFetcher{stall: "mem://lo", reported: make(chan struct{})},
		Delegate:         d,
		IntermediateFill: true,
	})
	defer c.Close()

	if err := c.SetRanking([]string{"hi", "lo"}); err != nil {
		t.Fatalf("SetRanking failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if v, _ := d.Displayed(); v == nil || v.ID != "hi" {
		t.Fatalf("displayed = %v, want hi", v)
	}

	lo := disp.tasks["img lo"]
	if lo == nil {
		t.Fatalf("no task for the filler, started %v", disp.started)
	}
	if lo.done {
		t.Fatal("cancelled filler has no terminal notification, its task should still be open")
	}
	d.Finish()
	if !lo.done {
		t.Error("Finish should close the cancelled filler's task")
	}
	if hi := disp.tasks["img hi"]; hi == nil || !hi.done {
		t.Errorf("best task = %+v, want done", hi)
	}
}
