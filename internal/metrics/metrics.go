// Package metrics provides Prometheus metrics for exiftool invocations and scans.
package metrics

import (
	"context"
	"errors"
	"slices"
	"time"

	"exiftool-manager/internal/exiftool"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation labels.
const (
	OpLoad    = "load"
	OpSave    = "save"
	OpVersion = "version"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Metrics holds all Prometheus metrics of the manager.
type Metrics struct {
	// exiftool runs by operation and outcome
	Invocations *prometheus.CounterVec

	// exiftool run duration by operation
	Duration *prometheus.HistogramVec

	// Files handled by scans, by result: with_date, without_date, unreadable, error
	FilesScanned *prometheus.CounterVec

	// Original dates written (or would be, in dry run)
	DatesFixed *prometheus.CounterVec

	// Directories currently watched
	WatchedDirs prometheus.Gauge

	// fsnotify events received
	WatchEvents *prometheus.CounterVec
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exiftool_invocations_total",
			Help: "Total number of exiftool runs",
		}, []string{"operation", "outcome"}),

		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exiftool_invocation_duration_seconds",
			Help:    "Time taken by exiftool runs",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"operation"}),

		FilesScanned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exiftool_manager_files_scanned_total",
			Help: "Total number of files handled by scans",
		}, []string{"result"}),

		DatesFixed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exiftool_manager_dates_fixed_total",
			Help: "Total number of original dates set by scans",
		}, []string{"mode"}), // mode: write, dry_run

		WatchedDirs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "exiftool_manager_watched_dirs",
			Help: "Number of directories currently being watched",
		}),

		WatchEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exiftool_manager_watch_events_total",
			Help: "Total fsnotify events received",
		}, []string{"type"}),
	}
}

// IncFilesScanned increments the scanned files counter with a result.
func (m *Metrics) IncFilesScanned(result string) {
	m.FilesScanned.WithLabelValues(result).Inc()
}

// IncDatesFixed increments the fixed dates counter.
func (m *Metrics) IncDatesFixed(dryRun bool) {
	mode := "write"
	if dryRun {
		mode = "dry_run"
	}
	m.DatesFixed.WithLabelValues(mode).Inc()
}

// SetWatchedDirs sets the number of watched directories.
func (m *Metrics) SetWatchedDirs(count int) {
	m.WatchedDirs.Set(float64(count))
}

// IncWatchEvent increments the fsnotify events counter.
func (m *Metrics) IncWatchEvent(eventType string) {
	m.WatchEvents.WithLabelValues(eventType).Inc()
}

// Instrument wraps r so every run is counted and timed.
func (m *Metrics) Instrument(r exiftool.Runner) exiftool.Runner {
	return exiftool.RunnerFunc(func(ctx context.Context, argv []string) (string, error) {
		op := Operation(argv)
		start := time.Now()
		out, err := r.Run(ctx, argv)
		m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		m.Invocations.WithLabelValues(op, Outcome(err)).Inc()
		return out, err
	})
}

// Operation names the kind of exiftool run argv describes.
func Operation(argv []string) string {
	switch {
	case slices.Contains(argv, "-ver"):
		return OpVersion
	case slices.Contains(argv, "-J"):
		return OpLoad
	default:
		return OpSave
	}
}

// Outcome maps a run error to its label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, exiftool.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, exiftool.ErrNotFound):
		return OutcomeNotFound
	default:
		return OutcomeError
	}
}
