// Package metrics records store, import and publishing activity with
// Prometheus collectors. A nil *Collector is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dailyledger"

const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Collector owns a private registry so that several stores in one process
// (tests, import tooling) do not collide on the default registerer.
type Collector struct {
	registry *prometheus.Registry

	// Store metrics
	StoreOps     *prometheus.CounterVec
	StoreLatency *prometheus.HistogramVec

	// Subscription metrics
	Notifications *prometheus.CounterVec

	// Backup metrics
	LegacyDecoded prometheus.Counter
	ArchiveItems  *prometheus.CounterVec

	// Publisher metrics
	EventsPublished *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		StoreOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Store operations by name and result.",
		}, []string{"op", "result"}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Store operation latency.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),

		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "notifications_total",
			Help:      "Listener refreshes by topic.",
		}, []string{"topic"}),

		LegacyDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "legacy_descriptors_decoded_total",
			Help:      "Items rebuilt from descriptor text during import.",
		}),
		ArchiveItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "archive_records_total",
			Help:      "Records written to or read from backup archives.",
		}, []string{"direction", "kind"}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "amqp",
			Name:      "events_published_total",
			Help:      "Day-change events by operation and result.",
		}, []string{"op", "result"}),
	}

	c.registry.MustRegister(
		c.StoreOps,
		c.StoreLatency,
		c.Notifications,
		c.LegacyDecoded,
		c.ArchiveItems,
		c.EventsPublished,
	)
	return c
}

// Registry exposes the underlying registry for gathering.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveStore records one store call started at started.
func (c *Collector) ObserveStore(op string, started time.Time, err error) {
	if c == nil {
		return
	}
	c.StoreOps.WithLabelValues(op, result(err)).Inc()
	c.StoreLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// Notified counts n listener refreshes for topic.
func (c *Collector) Notified(topic string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Notifications.WithLabelValues(topic).Add(float64(n))
}

func (c *Collector) Decoded(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.LegacyDecoded.Add(float64(n))
}

// Archived counts backup records; direction is "export" or "import", kind
// is "item" or "snapshot".
func (c *Collector) Archived(direction, kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.ArchiveItems.WithLabelValues(direction, kind).Add(float64(n))
}

func (c *Collector) Published(op string, err error) {
	if c == nil {
		return
	}
	c.EventsPublished.WithLabelValues(op, result(err)).Inc()
}

// WriteTextfile writes the current values in the node-exporter textfile
// format. The write is atomic.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
