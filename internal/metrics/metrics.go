package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	Reg *prometheus.Registry

	Transport TransportMetrics
	SMTP      SMTPMetrics
	Notify    NotifyMetrics
	API       APIMetrics
	Indexer   IndexerMetrics
	Uploader  UploaderMetrics
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{Reg: reg}

	r.Transport = TransportMetrics{
		WrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailfile_transport_written_total",
			Help: "Total messages written to the outbox",
		}),
		WrittenBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailfile_transport_written_bytes_total",
			Help: "Total bytes written to the outbox",
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailfile_transport_write_errors_total",
			Help: "Total failed outbox writes",
		}),
	}

	r.SMTP = SMTPMetrics{
		RejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailfile_smtp_rejected_total",
			Help: "Total rejected SMTP commands on the local sink",
		}, []string{"reason"}),
		ActiveConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailfile_smtp_active_connections",
			Help: "Current open SMTP sink connections",
		}),
	}

	r.Notify = NotifyMetrics{
		PublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailfile_notifications_published_total",
			Help: "Total delivery notifications handed to a sink",
		}, []string{"sink"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailfile_notification_errors_total",
			Help: "Total delivery notifications a sink failed to publish",
		}, []string{"sink"}),
		DroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailfile_notifications_dropped_total",
			Help: "Total delivery notifications dropped by slow subscribers",
		}, []string{"sink"}),
	}

	r.API = APIMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailfile_api_requests_total",
			Help: "Total management API requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailfile_api_request_duration_seconds",
			Help:    "Management API latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	r.Indexer = IndexerMetrics{
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "mailfile_indexer_runs_total", Help: "Total indexer runs"}),
		ErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailfile_indexer_errors_total", Help: "Total indexer run errors",
		}),
		ScannedTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "mailfile_indexer_scanned_total", Help: "Total meta files scanned"}),
		IndexedTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "mailfile_indexer_indexed_total", Help: "Total meta files indexed"}),
		LastRunUnix:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "mailfile_indexer_last_run_unix", Help: "Last indexer run time (unix seconds)"}),
	}

	r.Uploader = UploaderMetrics{
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "mailfile_uploader_runs_total", Help: "Total uploader runs"}),
		ErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailfile_uploader_errors_total", Help: "Total uploader run errors",
		}),
		ScannedTotal:  prometheus.NewCounter(prometheus.CounterOpts{Name: "mailfile_uploader_scanned_total", Help: "Total meta files scanned"}),
		UploadedTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "mailfile_uploader_uploaded_total", Help: "Total messages archived"}),
		LastRunUnix:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "mailfile_uploader_last_run_unix", Help: "Last uploader run time (unix seconds)"}),
	}

	reg.MustRegister(
		r.Transport.WrittenTotal,
		r.Transport.WrittenBytes,
		r.Transport.WriteErrors,
		r.SMTP.RejectedTotal,
		r.SMTP.ActiveConns,
		r.Notify.PublishedTotal,
		r.Notify.ErrorsTotal,
		r.Notify.DroppedTotal,
		r.API.RequestsTotal,
		r.API.RequestDuration,
		r.Indexer.RunsTotal,
		r.Indexer.ErrorsTotal,
		r.Indexer.ScannedTotal,
		r.Indexer.IndexedTotal,
		r.Indexer.LastRunUnix,
		r.Uploader.RunsTotal,
		r.Uploader.ErrorsTotal,
		r.Uploader.ScannedTotal,
		r.Uploader.UploadedTotal,
		r.Uploader.LastRunUnix,
	)
	return r
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. addr must be loopback.
func (r *Registry) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if err := RequireLoopback(addr); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
