package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"plex/pkg/multiplex"
)

type countingDelegate struct {
	multiplex.BaseDelegate[string, string]
	calls    int
	finished bool
}

func (c *countingDelegate) Finish() { c.finished = true }

func (c *countingDelegate) FetchStarted(string)                               { c.calls++ }
func (c *countingDelegate) FetchFinished(string, error)                       { c.calls++ }
func (c *countingDelegate) DisplayUpdated(*multiplex.Version[string, string]) { c.calls++ }

func TestDelegate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	next := &countingDelegate{}
	d := Wrap[string, string](m, "hero", next)

	d.FetchStarted("large")
	d.FetchStarted("small")
	if got := testutil.ToFloat64(m.fetchesInFlight); got != 2 {
		t.Errorf("in flight = %v, want 2", got)
	}
	d.FetchProgress("large", 0.5)
	d.FetchFinished("large", nil)
	d.FetchFinished("small", errors.New("boom"))
	d.FetchFinished("medium", fmt.Errorf("filler: %w", multiplex.ErrBestImageIdentifierChanged))
	d.FetchFinished("large", multiplex.ErrNoSourceForImage)

	v := &multiplex.Version[string, string]{ID: "large", Asset: "L"}
	d.AssetUpdated(v, nil)
	d.DisplayUpdated(v)
	d.DisplayFinished()

	for res, want := range map[string]float64{
		ResultSuccess:    1,
		ResultError:      1,
		ResultSuperseded: 1,
		ResultNoSource:   1,
	} {
		if got := testutil.ToFloat64(m.fetchFinished.WithLabelValues("hero", res)); got != want {
			t.Errorf("finished{%s} = %v, want %v", res, got, want)
		}
	}
	if got := testutil.ToFloat64(m.fetchStarted.WithLabelValues("hero")); got != 2 {
		t.Errorf("started = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.fetchesInFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.displayUpdates.WithLabelValues("hero")); got != 1 {
		t.Errorf("display updates = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.assetUpdates.WithLabelValues("hero")); got != 1 {
		t.Errorf("asset updates = %v, want 1", got)
	}
	if next.calls != 7 {
		t.Errorf("forwarded calls = %d, want 7", next.calls)
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	Wrap[string, string](m, "hero", nil).FetchStarted("large")

	path := filepath.Join(t.TempDir(), "plex.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	if !strings.Contains(string(data), `plex_fetch_started_total{image="hero"} 1`) {
		t.Errorf("textfile missing counter:\n%s", data)
	}
}

func TestDelegateCancelledFetches(t *testing.T) {
	m := New(prometheus.NewRegistry())
	next := &countingDelegate{}
	d := Wrap[string, string](m, "hero", next)

	d.FetchStarted("small")
	d.FetchStarted("small")
	if got := testutil.ToFloat64(m.fetchesInFlight); got != 1 {
		t.Errorf("in flight after restart = %v, want 1", got)
	}
	d.FetchStarted("large")
	d.Finish()
	if got := testutil.ToFloat64(m.fetchesInFlight); got != 0 {
		t.Errorf("in flight after Finish = %v, want 0", got)
	}
	if !next.finished {
		t.Error("Finish should reach the wrapped delegate")
	}

	// A terminal notification after Finish must not push the gauge negative.
	d.FetchFinished("small", nil)
	if got := testutil.ToFloat64(m.fetchesInFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
}
