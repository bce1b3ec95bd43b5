package model

import "time"

// Build is one execution attempt of a pipeline against a branch/commit.
// A build becomes immutable once its status is terminal.
type Build struct {
	ID          string            `json:"id"`
	PipelineID  string            `json:"pipeline_id"`
	Branch      string            `json:"branch"`
	Commit      string            `json:"commit"`
	Status      BuildStatus       `json:"status"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// StepResult is the recorded outcome of one step in one build.
type StepResult struct {
	StepID      string     `json:"step_id"`
	Status      StepStatus `json:"status"`
	Output      string     `json:"output"`
	Error       string     `json:"error"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BuildLog is one append-only log line for a build.
type BuildLog struct {
	BuildID   string    `json:"build_id"`
	StepID    string    `json:"step_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// StepStatusUpdate is published on the broadcast channel whenever a step
// transitions. Consumers reconstruct richer views from the store.
type StepStatusUpdate struct {
	BuildID  string     `json:"build_id"`
	StepID   string     `json:"step_id"`
	StepName string     `json:"step_name"`
	Status   StepStatus `json:"status"`
}
