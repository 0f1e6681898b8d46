// Package metrics exposes the master session engine's counters as
// Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "dnp3master"
	subsystem = "session"
)

// SessionSnapshotFunc returns the current values of the eight session
// counters, matching the return shape of master.Session.Metrics.
type SessionSnapshotFunc func() (requestsSent, responsesTimedOut, fragmentsAccepted, fragmentsDiscarded, confirmationsSent, unsolicitedAccepted, tasksCompleted, tasksFailed uint64)

// Collector holds the session-engine Prometheus metrics.
//
// Unlike a push-based counter set, Collector is a prometheus.Collector
// itself: it polls a SessionSnapshotFunc on every scrape rather than
// being incremented directly, since the session updates its own
// unexported counters on its single goroutine and only exposes them
// through Session.Metrics.
type Collector struct {
	snapshot SessionSnapshotFunc

	requestsSent        *prometheus.Desc
	responsesTimedOut   *prometheus.Desc
	fragmentsAccepted   *prometheus.Desc
	fragmentsDiscarded  *prometheus.Desc
	confirmationsSent   *prometheus.Desc
	unsolicitedAccepted *prometheus.Desc
	tasksCompleted      *prometheus.Desc
	tasksFailed         *prometheus.Desc

	associations *prometheus.GaugeVec
}

// NewCollector creates a Collector that polls snapshot on every scrape
// and registers it against reg. If reg is nil, prometheus.DefaultRegisterer
// is used.
func NewCollector(reg prometheus.Registerer, snapshot SessionSnapshotFunc) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		snapshot: snapshot,
		requestsSent: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "requests_sent_total"),
			"Total requests sent to outstations.", nil, nil),
		responsesTimedOut: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "responses_timed_out_total"),
			"Total requests that never received a response within the timeout.", nil, nil),
		fragmentsAccepted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "fragments_accepted_total"),
			"Total response fragments accepted for processing.", nil, nil),
		fragmentsDiscarded: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "fragments_discarded_total"),
			"Total response fragments discarded (wrong source, wrong sequence, malformed).", nil, nil),
		confirmationsSent: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "confirmations_sent_total"),
			"Total application-layer confirmations sent.", nil, nil),
		unsolicitedAccepted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "unsolicited_accepted_total"),
			"Total unsolicited responses the association handler accepted as valid.", nil, nil),
		tasksCompleted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "tasks_completed_total"),
			"Total tasks that completed successfully.", nil, nil),
		tasksFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "tasks_failed_total"),
			"Total tasks that failed.", nil, nil),
		associations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "associations",
			Name:      "registered",
			Help:      "Number of associations currently registered with the session.",
		}, []string{"address"}),
	}

	reg.MustRegister(c, c.associations)

	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requestsSent
	ch <- c.responsesTimedOut
	ch <- c.fragmentsAccepted
	ch <- c.fragmentsDiscarded
	ch <- c.confirmationsSent
	ch <- c.unsolicitedAccepted
	ch <- c.tasksCompleted
	ch <- c.tasksFailed
}

// Collect implements prometheus.Collector, polling the session's
// counters at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	sent, timedOut, accepted, discarded, confirmed, unsolicited, completed, failed := c.snapshot()

	ch <- prometheus.MustNewConstMetric(c.requestsSent, prometheus.CounterValue, float64(sent))
	ch <- prometheus.MustNewConstMetric(c.responsesTimedOut, prometheus.CounterValue, float64(timedOut))
	ch <- prometheus.MustNewConstMetric(c.fragmentsAccepted, prometheus.CounterValue, float64(accepted))
	ch <- prometheus.MustNewConstMetric(c.fragmentsDiscarded, prometheus.CounterValue, float64(discarded))
	ch <- prometheus.MustNewConstMetric(c.confirmationsSent, prometheus.CounterValue, float64(confirmed))
	ch <- prometheus.MustNewConstMetric(c.unsolicitedAccepted, prometheus.CounterValue, float64(unsolicited))
	ch <- prometheus.MustNewConstMetric(c.tasksCompleted, prometheus.CounterValue, float64(completed))
	ch <- prometheus.MustNewConstMetric(c.tasksFailed, prometheus.CounterValue, float64(failed))
}

// SetAssociationRegistered records whether an association with the
// given address is currently registered (1) or removed (0).
func (c *Collector) SetAssociationRegistered(address uint16, registered bool) {
	v := 0.0
	if registered {
		v = 1.0
	}
	c.associations.WithLabelValues(strconv.FormatUint(uint64(address), 10)).Set(v)
}
