package model

import "time"

// Pipeline is a named DAG definition of steps to execute.
type Pipeline struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Repository    string            `json:"repository"`
	DefaultBranch string            `json:"default_branch"`
	Description   string            `json:"description,omitempty"`
	WorkspaceID   string            `json:"workspace_id"`
	Environment   map[string]string `json:"environment,omitempty"`
	Status        PipelineStatus    `json:"status"`
	Steps         []Step            `json:"steps"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// StepByID returns the step with the given id, or nil.
func (p *Pipeline) StepByID(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// Step is one command in a pipeline's graph. Step order in Pipeline.Steps is
// presentation only; execution follows Dependencies.
type Step struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Command        string            `json:"command"`
	Environment    map[string]string `json:"environment,omitempty"`
	Dependencies   []string          `json:"dependencies,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Retries        int               `json:"retries,omitempty"` // reserved, not enforced
	WorkingDir     string            `json:"working_dir,omitempty"`
	Status         StepStatus        `json:"status"`
}
