package metrics

import "github.com/prometheus/client_golang/prometheus"

// TransportMetrics implements transport.Metrics.
type TransportMetrics struct {
	WrittenTotal prometheus.Counter
	WrittenBytes prometheus.Counter
	WriteErrors  prometheus.Counter
}

func (m *TransportMetrics) IncWritten(bytes int64) {
	m.WrittenTotal.Inc()
	m.WrittenBytes.Add(float64(bytes))
}

func (m *TransportMetrics) IncWriteError() { m.WriteErrors.Inc() }

// SMTPMetrics implements smtp.Metrics.
type SMTPMetrics struct {
	RejectedTotal *prometheus.CounterVec
	ActiveConns   prometheus.Gauge
}

func (m *SMTPMetrics) IncRejected(reason string) {
	m.RejectedTotal.WithLabelValues(reason).Inc()
}

func (m *SMTPMetrics) ConnOpen()  { m.ActiveConns.Inc() }
func (m *SMTPMetrics) ConnClose() { m.ActiveConns.Dec() }

// NotifyMetrics counts notification sink outcomes, labelled by sink name.
type NotifyMetrics struct {
	PublishedTotal *prometheus.CounterVec
	ErrorsTotal    *prometheus.CounterVec
	DroppedTotal   *prometheus.CounterVec
}

// Sink returns the counters for one sink.
func (m *NotifyMetrics) Sink(name string) SinkAdapter {
	return SinkAdapter{m: m, name: name}
}

type APIMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type IndexerMetrics struct {
	RunsTotal    prometheus.Counter
	ErrorsTotal  prometheus.Counter
	ScannedTotal prometheus.Counter
	IndexedTotal prometheus.Counter
	LastRunUnix  prometheus.Gauge
}

type UploaderMetrics struct {
	RunsTotal     prometheus.Counter
	ErrorsTotal   prometheus.Counter
	ScannedTotal  prometheus.Counter
	UploadedTotal prometheus.Counter
	LastRunUnix   prometheus.Gauge
}
