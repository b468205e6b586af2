// Package selfstats exposes the exporter's own process and scheduler
// health as Prometheus metrics.
package selfstats

import (
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/process"
)

// SchedulerStats is the scheduler surface this collector reads.
type SchedulerStats interface {
	JobCount() int
	RunsStarted() uint64
	RunsCompleted() uint64
}

// Collector gathers process stats via gopsutil plus scheduler counters.
type Collector struct {
	proc  *process.Process
	stats SchedulerStats

	cpuPercent    *prometheus.Desc
	residentBytes *prometheus.Desc
	goroutines    *prometheus.Desc
	jobs          *prometheus.Desc
	runsStarted   *prometheus.Desc
	runsCompleted *prometheus.Desc
}

// New creates the self-stats collector for the current process.
func New(stats SchedulerStats) (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Collector{
		proc:  proc,
		stats: stats,
		cpuPercent: prometheus.NewDesc(
			"script_exporter_process_cpu_percent",
			"CPU usage of the exporter process in percent.",
			nil, nil),
		residentBytes: prometheus.NewDesc(
			"script_exporter_process_resident_memory_bytes",
			"Resident memory of the exporter process in bytes.",
			nil, nil),
		goroutines: prometheus.NewDesc(
			"script_exporter_goroutines",
			"Number of goroutines in the exporter process.",
			nil, nil),
		jobs: prometheus.NewDesc(
			"script_exporter_jobs",
			"Number of scheduled jobs.",
			nil, nil),
		runsStarted: prometheus.NewDesc(
			"script_exporter_runs_started_total",
			"Total number of dispatched job executions.",
			nil, nil),
		runsCompleted: prometheus.NewDesc(
			"script_exporter_runs_completed_total",
			"Total number of finished job executions.",
			nil, nil),
	}, nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpuPercent
	ch <- c.residentBytes
	ch <- c.goroutines
	ch <- c.jobs
	ch <- c.runsStarted
	ch <- c.runsCompleted
}

// Collect implements prometheus.Collector. Process stats that cannot be
// read are skipped rather than failing the scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if cpu, err := c.proc.CPUPercent(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.cpuPercent, prometheus.GaugeValue, cpu)
	}
	if mem, err := c.proc.MemoryInfo(); err == nil {
		ch <- prometheus.MustNewConstMetric(c.residentBytes, prometheus.GaugeValue, float64(mem.RSS))
	}
	ch <- prometheus.MustNewConstMetric(c.goroutines, prometheus.GaugeValue, float64(runtime.NumGoroutine()))
	ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(c.stats.JobCount()))
	ch <- prometheus.MustNewConstMetric(c.runsStarted, prometheus.CounterValue, float64(c.stats.RunsStarted()))
	ch <- prometheus.MustNewConstMetric(c.runsCompleted, prometheus.CounterValue, float64(c.stats.RunsCompleted()))
}
