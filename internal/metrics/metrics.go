// Package metrics records per-run stage timings and outcome and can write
// them as a Prometheus textfile for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the metrics of one run in a private registry.
type Recorder struct {
	mode string
	reg  *prometheus.Registry

	stageDuration *prometheus.GaugeVec
	stageSuccess  *prometheus.GaugeVec
	runSuccess    prometheus.Gauge
	runTimestamp  prometheus.Gauge
	runDuration   prometheus.Gauge
	started       time.Time
}

// New returns a Recorder for a run in the given mode (deploy or cleanup).
func New(mode string) *Recorder {
	labels := prometheus.Labels{"mode": mode}
	r := &Recorder{
		mode:    mode,
		reg:     prometheus.NewRegistry(),
		started: time.Now(),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "hostdeploy",
			Name:        "stage_duration_seconds",
			Help:        "Wall time of each stage in the last run",
			ConstLabels: labels,
		}, []string{"stage"}),
		stageSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "hostdeploy",
			Name:        "stage_success",
			Help:        "1 if the stage completed in the last run, 0 if it failed",
			ConstLabels: labels,
		}, []string{"stage"}),
		runSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "hostdeploy",
			Name:        "last_run_success",
			Help:        "1 if the last run completed, 0 otherwise",
			ConstLabels: labels,
		}),
		runTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "hostdeploy",
			Name:        "last_run_timestamp_seconds",
			Help:        "Unix time the last run finished",
			ConstLabels: labels,
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "hostdeploy",
			Name:        "last_run_duration_seconds",
			Help:        "Wall time of the last run",
			ConstLabels: labels,
		}),
	}
	r.reg.MustRegister(r.stageDuration, r.stageSuccess, r.runSuccess, r.runTimestamp, r.runDuration)
	return r
}

// Stage starts timing a stage; call the returned func with the stage error.
func (r *Recorder) Stage(name string) func(err error) {
	start := time.Now()
	return func(err error) {
		r.stageDuration.WithLabelValues(name).Set(time.Since(start).Seconds())
		r.stageSuccess.WithLabelValues(name).Set(boolValue(err == nil))
	}
}

// Finish records the run outcome.
func (r *Recorder) Finish(err error) {
	now := time.Now()
	r.runSuccess.Set(boolValue(err == nil))
	r.runTimestamp.Set(float64(now.Unix()))
	r.runDuration.Set(now.Sub(r.started).Seconds())
}

// WriteFile writes the metrics atomically in the text exposition format.
func (r *Recorder) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
