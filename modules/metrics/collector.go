// Package metrics exports job system counters to Prometheus.
package metrics

import (
	"github.com/Deepreo/jobsys/core"
	"github.com/Deepreo/jobsys/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jobsys"

// StatsSource is anything that can report job system stats.
type StatsSource interface {
	Stats() core.Stats
}

// Collector counts drained jobs and samples the job system state on every
// scrape. It is both a prometheus.Collector and a core.JobObserver.
type Collector struct {
	source StatsSource

	settled  *prometheus.CounterVec
	failed   prometheus.Counter
	duration prometheus.Histogram

	workers    *prometheus.Desc
	capacity   *prometheus.Desc
	jobs       *prometheus.Desc
	queueDepth *prometheus.Desc
}

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ core.JobObserver     = (*Collector)(nil)
)

func NewCollector(source StatsSource, systemID string) *Collector {
	labels := prometheus.Labels{"system_id": systemID}
	return &Collector{
		source: source,
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "jobs_settled_total",
			Help:        "Jobs drained by the dispatcher, by final status.",
			ConstLabels: labels,
		}, []string{"status"}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "jobs_nonzero_result_total",
			Help:        "Finished jobs whose process function returned a non-zero result.",
			ConstLabels: labels,
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "job_duration_seconds",
			Help:        "Time from claim to callback for processed jobs.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		workers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "workers"),
			"Number of worker goroutines.", nil, labels),
		capacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "table_capacity"),
			"Allocated slots in the handle table.", nil, labels),
		jobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "jobs"),
			"Live jobs by state.", []string{"state"}, labels),
		queueDepth: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "queue_depth"),
			"Entries waiting in the work and completion queues.", []string{"queue"}, labels),
	}
}

// Register adds the collector to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	if err := reg.Register(c); err != nil {
		return errors.InfraError(err)
	}
	return nil
}

func (c *Collector) JobSettled(e core.JobEvent) {
	c.settled.WithLabelValues(e.Status.String()).Inc()
	if e.Status == core.StatusFinished && e.Result != 0 {
		c.failed.Inc()
	}
	if e.Duration > 0 {
		c.duration.Observe(e.Duration.Seconds())
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.settled.Describe(ch)
	c.failed.Describe(ch)
	c.duration.Describe(ch)
	ch <- c.workers
	ch <- c.capacity
	ch <- c.jobs
	ch <- c.queueDepth
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.settled.Collect(ch)
	c.failed.Collect(ch)
	c.duration.Collect(ch)

	st := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(st.Workers))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Capacity))
	for state, n := range map[string]int{
		"created":    st.Created,
		"queued":     st.Queued - st.Blocked,
		"blocked":    st.Blocked,
		"processing": st.Processing,
		"settled":    st.Settled,
	} {
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(n), state)
	}
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(st.WorkQueue), "work")
	ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(st.DoneQueue), "done")
}
