// Package metrics exports coordinator activity as Prometheus collectors.
package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"plex/pkg/multiplex"
)

// Fetch results used as the "result" label.
const (
	ResultSuccess    = "success"
	ResultError      = "error"
	ResultNoSource   = "no_source"
	ResultSuperseded = "superseded"
)

// Metrics holds the collectors shared by every wrapped delegate.
type Metrics struct {
	fetchStarted    *prometheus.CounterVec
	fetchFinished   *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	fetchesInFlight prometheus.Gauge
	assetUpdates    *prometheus.CounterVec
	displayUpdates  *prometheus.CounterVec
}

// New registers the collectors with registerer, or the default registerer when
// it is nil.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		fetchStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plex_fetch_started_total",
				Help: "Network fetches started",
			},
			[]string{"image"},
		),
		fetchFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plex_fetch_finished_total",
				Help: "Terminal fetch notifications by result",
			},
			[]string{"image", "result"},
		),
		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "plex_fetch_duration_seconds",
				Help:    "Duration of network fetches in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"image", "result"},
		),
		fetchesInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "plex_fetches_in_flight",
				Help: "Network fetches currently running",
			},
		),
		assetUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plex_asset_updates_total",
				Help: "Loaded versions accepted by the coordinator",
			},
			[]string{"image"},
		),
		displayUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plex_display_updates_total",
				Help: "Changes of the displayed version",
			},
			[]string{"image"},
		),
	}
}

// WriteTextfile writes everything gathered by g in the text exposition format,
// for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func result(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, multiplex.ErrNoSourceForImage):
		return ResultNoSource
	case errors.Is(err, multiplex.ErrBestImageIdentifierChanged):
		return ResultSuperseded
	default:
		return ResultError
	}
}

// Delegate records notifications for one image and forwards them to the
// wrapped delegate.
// Mutable
type Delegate[ID comparable, A any] struct {
	m     *Metrics
	image string
	next  multiplex.Delegate[ID, A]

	mu      sync.Mutex
	started map[ID]time.Time
}

// Wrap instruments next, which may be nil.
func Wrap[ID comparable, A any](m *Metrics, image string, next multiplex.Delegate[ID, A]) *Delegate[ID, A] {
	if next == nil {
		next = multiplex.BaseDelegate[ID, A]{}
	}
	return &Delegate[ID, A]{m: m, image: image, next: next, started: make(map[ID]time.Time)}
}

// FetchStarted counts a fetch of id. A fetch of id still in flight was
// cancelled and stops counting.
func (d *Delegate[ID, A]) FetchStarted(id ID) {
	d.mu.Lock()
	_, restarted := d.started[id]
	d.started[id] = time.Now()
	d.mu.Unlock()
	if restarted {
		d.m.fetchesInFlight.Dec()
	}
	d.m.fetchStarted.WithLabelValues(d.image).Inc()
	d.m.fetchesInFlight.Inc()
	d.next.FetchStarted(id)
}

func (d *Delegate[ID, A]) FetchProgress(id ID, fraction float64) {
	d.next.FetchProgress(id, fraction)
}

func (d *Delegate[ID, A]) FetchFinished(id ID, err error) {
	res := result(err)
	d.mu.Lock()
	start, ok := d.started[id]
	delete(d.started, id)
	d.mu.Unlock()

	d.m.fetchFinished.WithLabelValues(d.image, res).Inc()
	if ok {
		d.m.fetchesInFlight.Dec()
		d.m.fetchDuration.WithLabelValues(d.image, res).Observe(time.Since(start).Seconds())
	}
	d.next.FetchFinished(id, err)
}

func (d *Delegate[ID, A]) AssetUpdated(current, previous *multiplex.Version[ID, A]) {
	if current != nil {
		d.m.assetUpdates.WithLabelValues(d.image).Inc()
	}
	d.next.AssetUpdated(current, previous)
}

func (d *Delegate[ID, A]) DisplayUpdated(current *multiplex.Version[ID, A]) {
	d.m.displayUpdates.WithLabelValues(d.image).Inc()
	d.next.DisplayUpdated(current)
}

func (d *Delegate[ID, A]) DisplayFinished() {
	d.next.DisplayFinished()
}

// Finish stops counting fetches that were cancelled without a terminal
// notification and finishes the wrapped delegate if it supports it. Call it
// once the coordinator is idle.
func (d *Delegate[ID, A]) Finish() {
	d.mu.Lock()
	n := len(d.started)
	clear(d.started)
	d.mu.Unlock()
	d.m.fetchesInFlight.Sub(float64(n))
	if f, ok := d.next.(interface{ Finish() }); ok {
		f.Finish()
	}
}
