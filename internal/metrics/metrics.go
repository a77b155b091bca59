package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects the result of a test case run so a CI host can pick it up
// through the node exporter textfile collector. A nil *Recorder discards
// everything.
type Recorder struct {
	registry *prometheus.Registry
	path     string

	passed   *prometheus.GaugeVec
	exitCode *prometheus.GaugeVec
	duration *prometheus.GaugeVec
	lastRun  *prometheus.GaugeVec
}

// NewRecorder returns a Recorder that writes to path on Flush.
func NewRecorder(path string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		path:     path,
		passed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ocre_hwtest_passed",
			Help: "1 when the test case passed, 0 otherwise",
		}, []string{"case"}),
		exitCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ocre_hwtest_exit_code",
			Help: "Process exit status reported by the test case",
		}, []string{"case"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ocre_hwtest_duration_seconds",
			Help: "Wall time from connect to teardown",
		}, []string{"case"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ocre_hwtest_last_run_timestamp_seconds",
			Help: "Unix time the test case finished",
		}, []string{"case"}),
	}
	r.registry.MustRegister(r.passed, r.exitCode, r.duration, r.lastRun)
	return r
}

// Observe records one finished run.
func (r *Recorder) Observe(name string, exitCode int, elapsed time.Duration) {
	if r == nil {
		return
	}
	pass := 0.0
	if exitCode == 0 {
		pass = 1
	}
	r.passed.WithLabelValues(name).Set(pass)
	r.exitCode.WithLabelValues(name).Set(float64(exitCode))
	r.duration.WithLabelValues(name).Set(elapsed.Seconds())
	r.lastRun.WithLabelValues(name).SetToCurrentTime()
}

// Flush writes the collected metrics to the textfile.
func (r *Recorder) Flush() error {
	if r == nil || r.path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(r.path, r.registry)
}
