package executor

import (
	"context"

	"github.com/me/lightci/pkg/model"
)

// Type identifies an executor backend.
type Type string

const (
	TypeLocal  Type = "local"
	TypeDocker Type = "docker"
)

// Executor runs a single step's command for a build.
//
// On any command outcome (success, non-zero exit, signal) Execute returns a
// populated StepResult; it returns an error only for infrastructure failures
// (the process could not be launched, the workspace is missing). Implementers
// must capture stdout and stderr separately, record the exit code, and honour
// context cancellation.
type Executor interface {
	// Type returns the executor type identifier.
	Type() Type

	// Execute runs the step's command in the build's working directory.
	Execute(ctx context.Context, step *model.Step, build *model.Build) (*model.StepResult, error)
}
