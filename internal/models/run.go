package models

import "time"

// StepStatus is the outcome of one scenario step
type StepStatus string

const (
	StepStatusPassed  StepStatus = "passed"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// StepResult records one executed scenario step
type StepResult struct {
	Name       string     `json:"name" yaml:"name"`
	Status     StepStatus `json:"status" yaml:"status"`
	DurationMs int64      `json:"duration_ms" yaml:"duration_ms"`
	Kind       string     `json:"kind,omitempty" yaml:"kind,omitempty"` // error kind on failure
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	Artifact   string     `json:"artifact,omitempty" yaml:"artifact,omitempty"`
}

// RunRecord is the persisted result of one verification run
type RunRecord struct {
	ID         string             `json:"id" yaml:"id"`
	Scenario   string             `json:"scenario" yaml:"scenario"`
	TargetURL  string             `json:"target_url" yaml:"target_url"`
	Prompt     string             `json:"prompt" yaml:"prompt"`
	StartedAt  time.Time          `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time          `json:"finished_at" yaml:"finished_at"`
	Passed     bool               `json:"passed" yaml:"passed"`
	FailedStep string             `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
	Error      string             `json:"error,omitempty" yaml:"error,omitempty"`
	Steps      []StepResult       `json:"steps" yaml:"steps"`
	Artifacts  []string           `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
	Responses  []ObservedResponse `json:"responses,omitempty" yaml:"responses,omitempty"`
}

// Duration returns the wall time of the run
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Result returns "pass" or "fail"
func (r *RunRecord) Result() string {
	if r.Passed {
		return "pass"
	}
	return "fail"
}
