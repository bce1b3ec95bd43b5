// Package parser converts pipeline definition YAML into domain models.
package parser

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/me/lightci/internal/pipeline"
	"github.com/me/lightci/pkg/model"
)

// PipelineFile is the on-disk YAML shape of a pipeline definition.
// Unknown fields are rejected.
type PipelineFile struct {
	Name          string              `yaml:"name"`
	Version       string              `yaml:"version,omitempty"`
	Repository    string              `yaml:"repository,omitempty"`
	DefaultBranch string              `yaml:"default_branch,omitempty"`
	Description   string              `yaml:"description,omitempty"`
	Environment   map[string]string   `yaml:"environment,omitempty"`
	Steps         map[string]StepFile `yaml:"steps"`
}

// StepFile is the YAML shape of one step.
type StepFile struct {
	Name        string            `yaml:"name,omitempty"`
	Command     string            `yaml:"command"`
	Environment map[string]string `yaml:"environment,omitempty"`
	DependsOn   []string          `yaml:"depends_on,omitempty"`
	Timeout     int               `yaml:"timeout,omitempty"`
	Retries     int               `yaml:"retries,omitempty"` // reserved, not enforced
	WorkingDir  string            `yaml:"working_dir,omitempty"`
}

// Parser converts raw pipeline YAML into validated model.Pipeline values.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser with the given logger.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "parser")}
}

// Parse decodes, converts, and validates a pipeline definition.
func (p *Parser) Parse(data []byte) (*model.Pipeline, error) {
	var file PipelineFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, model.NewEngineError(model.KindValidation, "parse pipeline YAML", err)
	}

	if file.Name == "" {
		return nil, model.NewValidationError("pipeline definition invalid",
			model.FieldError{Field: "name", Message: "name is required"})
	}
	if len(file.Steps) == 0 {
		return nil, model.NewValidationError("pipeline definition invalid",
			model.FieldError{Field: "steps", Message: "at least one step is required"})
	}

	var fieldErrs []model.FieldError
	for _, id := range sortedStepIDs(file.Steps) {
		if file.Steps[id].Command == "" {
			fieldErrs = append(fieldErrs, model.FieldError{
				Field:   fmt.Sprintf("steps.%s.command", id),
				Message: fmt.Sprintf("step %q is missing command", id),
			})
		}
		if file.Steps[id].Timeout < 0 {
			fieldErrs = append(fieldErrs, model.FieldError{
				Field:   fmt.Sprintf("steps.%s.timeout", id),
				Message: fmt.Sprintf("step %q has negative timeout", id),
			})
		}
	}
	if len(fieldErrs) > 0 {
		return nil, model.NewValidationError("pipeline definition invalid", fieldErrs...)
	}

	converted := file.toPipeline()
	if err := pipeline.Validate(converted); err != nil {
		return nil, model.NewEngineError(model.KindValidation, "validate pipeline", err)
	}

	p.logger.Debug("pipeline parsed", "name", converted.Name, "steps", len(converted.Steps))
	return converted, nil
}

// ParseFile reads and parses a pipeline definition from disk.
func (p *Parser) ParseFile(path string) (*model.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewEngineError(model.KindConfig, fmt.Sprintf("read %s", path), err)
	}
	return p.Parse(data)
}

// toPipeline converts the YAML shape into the domain model. The pipeline
// environment provides defaults each step's own environment overrides.
func (f *PipelineFile) toPipeline() *model.Pipeline {
	p := &model.Pipeline{
		Name:          f.Name,
		Repository:    f.Repository,
		DefaultBranch: f.DefaultBranch,
		Description:   f.Description,
		Environment:   f.Environment,
		Status:        model.PipelinePending,
	}
	for _, id := range sortedStepIDs(f.Steps) {
		sf := f.Steps[id]
		p.Steps = append(p.Steps, model.Step{
			ID:             id,
			Name:           sf.Name,
			Command:        sf.Command,
			Environment:    mergeEnv(f.Environment, sf.Environment),
			Dependencies:   sf.DependsOn,
			TimeoutSeconds: sf.Timeout,
			Retries:        sf.Retries,
			WorkingDir:     sf.WorkingDir,
			Status:         model.StepPending,
		})
	}
	return p
}

func sortedStepIDs(steps map[string]StepFile) []string {
	ids := make([]string, 0, len(steps))
	for id := range steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func mergeEnv(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// Template returns the pipeline definition written by `lightci init`.
func Template() []byte {
	return []byte(`name: default
version: "1.0"
steps:
  build:
    name: Build Project
    command: echo 'Building project...'
    timeout: 300
    retries: 2
  test:
    name: Run Tests
    command: echo 'Running tests...'
    depends_on:
      - build
    timeout: 300
    retries: 1
`)
}
