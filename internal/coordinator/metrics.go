package coordinator

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	started   prometheus.Counter
	graded    prometheus.Counter
	failed    prometheus.Counter
	cancelled prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_runs_started_total",
			Help: "Submission runs accepted by the coordinator",
		}),
		graded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_runs_graded_total",
			Help: "Runs that finalized with a mark report",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_runs_failed_total",
			Help: "Runs that ended in a terminal failure",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_runs_cancelled_total",
			Help: "Runs stopped by an explicit cancel",
		}),
	}
}

// Register attaches the coordinator counters to reg.
func (c *Coordinator) Register(reg prometheus.Registerer) {
	reg.MustRegister(c.metrics.started, c.metrics.graded, c.metrics.failed, c.metrics.cancelled)
}
