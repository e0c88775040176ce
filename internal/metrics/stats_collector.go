package metrics

import (
	"github.com/passwordkeyorg/mail-file-transport/internal/stats"
	"github.com/prometheus/client_golang/prometheus"
)

// StatsCollector exports a delivery monitor's counters at scrape time, so
// the exported values always agree with the management API, resets included.
type StatsCollector struct {
	mon *stats.Monitor

	sent        *prometheus.Desc
	failed      *prometheus.Desc
	start       *prometheus.Desc
	lastFailure *prometheus.Desc
}

func NewStatsCollector(mon *stats.Monitor) *StatsCollector {
	labels := prometheus.Labels{"monitor": mon.Name()}
	return &StatsCollector{
		mon:         mon,
		sent:        prometheus.NewDesc("mailfile_sent", "Messages written since the statistics start date", nil, labels),
		failed:      prometheus.NewDesc("mailfile_failed", "Failed sends since the statistics start date", nil, labels),
		start:       prometheus.NewDesc("mailfile_statistics_start_timestamp_seconds", "Statistics collection start (unix seconds)", nil, labels),
		lastFailure: prometheus.NewDesc("mailfile_last_failure_timestamp_seconds", "Time of the most recent failed send (unix seconds)", nil, labels),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sent
	ch <- c.failed
	ch <- c.start
	ch <- c.lastFailure
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.mon.Counters()
	// Reset moves these down, so they are gauges rather than counters.
	ch <- prometheus.MustNewConstMetric(c.sent, prometheus.GaugeValue, float64(s.SuccessCount))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.GaugeValue, float64(s.FailureCount))
	ch <- prometheus.MustNewConstMetric(c.start, prometheus.GaugeValue, float64(s.CollectionStartDate.UnixNano())/1e9)
	if info := c.mon.LastFailure(); info != nil {
		ch <- prometheus.MustNewConstMetric(c.lastFailure, prometheus.GaugeValue, float64(info.Date.UnixNano())/1e9)
	}
}

// WatchMonitor registers a StatsCollector for mon.
func (r *Registry) WatchMonitor(mon *stats.Monitor) error {
	return r.Reg.Register(NewStatsCollector(mon))
}
