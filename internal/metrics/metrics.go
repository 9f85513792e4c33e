// Package metrics exports the outcome of the last run in the Prometheus text
// format so a node_exporter textfile collector can pick it up. Each process
// performs one run and rewrites the textfile, so every series is a gauge
// describing that run; counting runs over time is left to Prometheus, e.g.
// changes(chatverify_last_run_timestamp_seconds[1d]).
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ternarybob/chatverify/internal/models"
)

// Recorder holds the collectors of one process
type Recorder struct {
	registry *prometheus.Registry

	lastSuccess   *prometheus.GaugeVec
	lastTimestamp *prometheus.GaugeVec
	runDuration   *prometheus.GaugeVec
	stepDuration  *prometheus.GaugeVec
	responses     *prometheus.GaugeVec
}

// NewRecorder registers the chatverify collectors on a private registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatverify_last_run_success",
			Help: "1 when the last run of the scenario passed",
		}, []string{"scenario"}),
		lastTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatverify_last_run_timestamp_seconds",
			Help: "Unix time the last run of the scenario finished",
		}, []string{"scenario"}),
		runDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatverify_last_run_duration_seconds",
			Help: "Wall time of the last run of the scenario",
		}, []string{"scenario"}),
		stepDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatverify_last_run_step_duration_seconds",
			Help: "Duration of each executed step of the last run",
		}, []string{"step", "status"}),
		responses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatverify_last_run_responses",
			Help: "Generate responses observed during the last run by HTTP status",
		}, []string{"status"}),
	}
	r.registry.MustRegister(r.lastSuccess, r.lastTimestamp, r.runDuration, r.stepDuration, r.responses)
	return r
}

// ObserveRun replaces the recorded values with those of rec
func (r *Recorder) ObserveRun(rec *models.RunRecord) {
	success := 0.0
	if rec.Passed {
		success = 1
	}
	r.lastSuccess.WithLabelValues(rec.Scenario).Set(success)
	r.lastTimestamp.WithLabelValues(rec.Scenario).Set(float64(rec.FinishedAt.Unix()))
	r.runDuration.WithLabelValues(rec.Scenario).Set(rec.Duration().Seconds())

	r.stepDuration.Reset()
	for _, step := range rec.Steps {
		if step.Status == models.StepStatusSkipped {
			continue
		}
		r.stepDuration.WithLabelValues(step.Name, string(step.Status)).Set(float64(step.DurationMs) / 1000)
	}

	r.responses.Reset()
	for _, resp := range rec.Responses {
		r.responses.WithLabelValues(strconv.Itoa(resp.Status)).Inc()
	}
}

// WriteTextfile writes all metrics to path atomically
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
