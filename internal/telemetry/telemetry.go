// Package telemetry exports sweep progress as prometheus metrics.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mtlcap/internal/device"
	"mtlcap/internal/executor"
	"mtlcap/internal/logging"
	"mtlcap/internal/sweep"
)

// Exporter holds the sweep collectors. It implements sweep.Observer.
type Exporter struct {
	registry *prometheus.Registry

	iterations        *prometheus.CounterVec
	iterationDuration *prometheus.HistogramVec
	passedSessions    *prometheus.GaugeVec
	probeSessions     *prometheus.GaugeVec
	maxPassing        *prometheus.GaugeVec
	sweeps            *prometheus.CounterVec
	sweepDuration     *prometheus.GaugeVec
	recoveries        *prometheus.CounterVec
	recoveryWait      prometheus.Counter
	deviceRate      *prometheus.GaugeVec
}

// NewExporter creates an Exporter with its own registry.
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mtlcap_iterations_total",
				Help: "Iterations run, by scenario and outcome label",
			},
			[]string{"scenario", "label"},
		),
		iterationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mtlcap_iteration_duration_seconds",
				Help:    "Wall time of one iteration including device recovery",
				Buckets: prometheus.ExponentialBuckets(15, 2, 8),
			},
			[]string{"scenario"},
		),
		passedSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mtlcap_passed_sessions",
				Help: "Sessions meeting the rate threshold in the latest iteration",
			},
			[]string{"scenario"},
		),
		probeSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mtlcap_probe_sessions",
				Help: "Session count requested by the latest iteration",
			},
			[]string{"scenario"},
		),
		maxPassing: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mtlcap_max_passing_sessions",
				Help: "Largest passing session count of the current or last sweep",
			},
			[]string{"scenario"},
		),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mtlcap_sweeps_total",
				Help: "Finished sweeps by final status",
			},
			[]string{"scenario", "status"},
		),
		sweepDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mtlcap_sweep_duration_seconds",
				Help: "Wall time of the last finished sweep",
			},
			[]string{"scenario"},
		),
		recoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mtlcap_device_recoveries_total",
				Help: "Device recovery passes that changed driver bindings",
			},
			[]string{"action"},
		),
		recoveryWait: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mtlcap_device_recovery_wait_seconds_total",
			Help: "Time spent waiting for links after device recovery",
		}),
		deviceRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mtlcap_device_rate_mbps",
				Help: "Average device data rate of the measured side in the latest iteration",
			},
			[]string{"scenario", "direction"},
		),
	}

	e.registry.MustRegister(
		e.iterations,
		e.iterationDuration,
		e.passedSessions,
		e.probeSessions,
		e.maxPassing,
		e.sweeps,
		e.sweepDuration,
		e.recoveries,
		e.recoveryWait,
		e.deviceRate,
	)
	return e
}

// Registry returns the registry holding the collectors.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

func (e *Exporter) SweepStarted(r *sweep.Report) {
	e.maxPassing.WithLabelValues(r.Scenario.Label()).Set(0)
}

func (e *Exporter) IterationFinished(r *sweep.Report, res *executor.Result) {
	label := r.Scenario.Label()
	e.iterations.WithLabelValues(label, string(res.Label)).Inc()
	e.iterationDuration.WithLabelValues(label).Observe(res.Duration.Seconds())
	e.probeSessions.WithLabelValues(label).Set(float64(res.Sessions))
	e.passedSessions.WithLabelValues(label).Set(float64(res.PassedCount))
	e.maxPassing.WithLabelValues(label).Set(float64(r.MaxPassing))
	if res.Measured != nil {
		e.deviceRate.WithLabelValues(label, "tx").Set(res.Measured.DeviceTxMbps)
		e.deviceRate.WithLabelValues(label, "rx").Set(res.Measured.DeviceRxMbps)
	}
	if a := res.Recovery.Action; a != "" && a != device.ActionNone {
		e.recoveries.WithLabelValues(string(a)).Inc()
		e.recoveryWait.Add(res.Recovery.Waited.Seconds())
	}
}

func (e *Exporter) SweepFinished(r *sweep.Report) {
	label := r.Scenario.Label()
	e.sweeps.WithLabelValues(label, string(r.Status)).Inc()
	e.sweepDuration.WithLabelValues(label).Set(r.Duration().Seconds())
	e.maxPassing.WithLabelValues(label).Set(float64(r.MaxPassing))
}

// WriteTextfile writes the current metrics in text exposition format, for
// the node exporter textfile collector.
func (e *Exporter) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, e.registry)
}

// Serve exposes /metrics on addr until ctx is done.
func (e *Exporter) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	logger = logging.Component(logger, "telemetry")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
