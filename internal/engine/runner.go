package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/lightci/internal/executor"
	"github.com/me/lightci/pkg/model"
)

// StepRunner translates a step and its build context into an executor call
// and a StepResult. It owns the step-level timeout and converts executor
// infrastructure failures into Failed results; Run never returns an error.
type StepRunner struct {
	executor executor.Executor
	logger   *slog.Logger
}

// NewStepRunner creates a StepRunner backed by the given executor.
func NewStepRunner(exec executor.Executor, logger *slog.Logger) *StepRunner {
	return &StepRunner{
		executor: exec,
		logger:   logger.With("component", "step-runner"),
	}
}

// Run executes one step. A timeout_seconds of 0 disables the runner-level
// timeout; the executor default applies. Cancellation of ctx asks the
// executor to terminate; a result that still arrives as Success is recorded
// as-is.
func (r *StepRunner) Run(ctx context.Context, step *model.Step, build *model.Build) *model.StepResult {
	started := time.Now().UTC()

	runCtx := ctx
	if step.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	res, err := r.executor.Execute(runCtx, step, build)
	completed := time.Now().UTC()

	// A successful completion wins any race with timeout or cancellation.
	if err == nil && res != nil && res.Status == model.StepSuccess {
		return r.normalize(res, step, started, completed)
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		r.logger.Warn("step timed out", "step_id", step.ID, "build_id", build.ID,
			"timeout_seconds", step.TimeoutSeconds)
		return &model.StepResult{
			StepID:      step.ID,
			Status:      model.StepTimedOut,
			Error:       fmt.Sprintf("timeout after %ds", step.TimeoutSeconds),
			StartedAt:   &started,
			CompletedAt: &completed,
		}

	case ctx.Err() != nil:
		r.logger.Info("step cancelled", "step_id", step.ID, "build_id", build.ID)
		return &model.StepResult{
			StepID:      step.ID,
			Status:      model.StepCancelled,
			Error:       "cancelled",
			StartedAt:   &started,
			CompletedAt: &completed,
		}

	case err != nil:
		// Infrastructure failure: the command never ran.
		r.logger.Error("executor error", "step_id", step.ID, "build_id", build.ID, "error", err)
		return &model.StepResult{
			StepID:      step.ID,
			Status:      model.StepFailed,
			Error:       err.Error(),
			StartedAt:   &started,
			CompletedAt: &completed,
		}

	case res == nil:
		// Contract violation by the executor.
		return &model.StepResult{
			StepID:      step.ID,
			Status:      model.StepFailed,
			Error:       "executor returned no result",
			StartedAt:   &started,
			CompletedAt: &completed,
		}
	}

	return r.normalize(res, step, started, completed)
}

// normalize fills in identity and timestamps an executor may have left unset.
func (r *StepRunner) normalize(res *model.StepResult, step *model.Step, started, completed time.Time) *model.StepResult {
	res.StepID = step.ID
	if res.StartedAt == nil {
		res.StartedAt = &started
	}
	if res.CompletedAt == nil {
		res.CompletedAt = &completed
	}
	return res
}
