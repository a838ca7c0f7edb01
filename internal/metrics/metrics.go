// SPDX-License-Identifier: MPL-2.0

// Package metrics holds the Prometheus instruments for install and uninstall
// operations. A nil *Metrics is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sitepkg"

// Metrics is a set of instruments bound to a private registry.
type Metrics struct {
	registry *prometheus.Registry

	packagesUninstalled *prometheus.CounterVec
	packagesRecorded    prometheus.Counter
	pathsRemoved        prometheus.Counter
	pathsProtected      prometheus.Counter
	rollbacks           prometheus.Counter
	partialFailures     prometheus.Counter
	executionDuration   *prometheus.HistogramVec
	lockWait            prometheus.Histogram
}

// New creates the instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		packagesUninstalled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packages_uninstalled_total",
			Help:      "Packages processed by uninstall, by final status",
		}, []string{"status"}),
		packagesRecorded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packages_recorded_total",
			Help:      "Install manifests committed",
		}),
		pathsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paths_removed_total",
			Help:      "Filesystem entries removed by uninstall",
		}),
		pathsProtected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "paths_protected_total",
			Help:      "Recorded paths excluded from removal",
		}),
		rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Uninstall transactions rolled back after a failure",
		}),
		partialFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_failures_total",
			Help:      "Uninstall transactions left partially applied",
		}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Uninstall execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		lockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the environment lock",
			Buckets:   []float64{.001, .01, .05, .1, .5, 1, 5, 10, 30},
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveExecution records one finished uninstall transaction.
func (m *Metrics) ObserveExecution(status string, packages, removed, protected int, d time.Duration) {
	if m == nil {
		return
	}
	m.packagesUninstalled.WithLabelValues(status).Add(float64(packages))
	m.pathsRemoved.Add(float64(removed))
	m.pathsProtected.Add(float64(protected))
	m.executionDuration.WithLabelValues(status).Observe(d.Seconds())
	switch status {
	case "rolled_back":
		m.rollbacks.Inc()
	case "partial":
		m.partialFailures.Inc()
	}
}

// ObserveRecorded counts a committed install manifest.
func (m *Metrics) ObserveRecorded() {
	if m == nil {
		return
	}
	m.packagesRecorded.Inc()
}

// ObserveLockWait records how long acquiring the environment lock took.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// WriteTextfile writes the current values in the Prometheus text format to
// path, for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
