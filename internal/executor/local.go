package executor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/me/lightci/pkg/model"
)

// LocalExecutor runs step commands as local OS processes via `sh -c`.
type LocalExecutor struct {
	logger  *slog.Logger
	workDir string
}

// NewLocalExecutor creates a LocalExecutor whose build workspaces live under
// workDir. If workDir is empty, os.TempDir() is used.
func NewLocalExecutor(workDir string, logger *slog.Logger) *LocalExecutor {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &LocalExecutor{
		workDir: workDir,
		logger:  logger.With("component", "local-executor"),
	}
}

// Type returns TypeLocal.
func (e *LocalExecutor) Type() Type {
	return TypeLocal
}

// Execute runs the step's command in the build's workspace directory with the
// step environment appended to the process environment.
func (e *LocalExecutor) Execute(ctx context.Context, step *model.Step, build *model.Build) (*model.StepResult, error) {
	dir := filepath.Join(e.workDir, build.ID)
	if step.WorkingDir != "" {
		dir = filepath.Join(dir, step.WorkingDir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("step %s: create work dir: %w", step.ID, err)
	}

	started := time.Now().UTC()

	cmd := exec.CommandContext(ctx, "sh", "-c", step.Command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), envList(step.Environment)...)
	// Children of a killed shell can hold the output pipes open; stop waiting
	// for them shortly after cancellation so Execute returns promptly.
	cmd.WaitDelay = time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	completed := time.Now().UTC()

	var exitCode int
	switch err := runErr.(type) {
	case nil:
		exitCode = 0
	case *exec.ExitError:
		exitCode = err.ExitCode()
	default:
		// The shell itself could not be launched.
		return nil, fmt.Errorf("step %s: run command: %w", step.ID, runErr)
	}

	status := model.StepSuccess
	if exitCode != 0 {
		status = model.StepFailed
	}

	e.logger.Debug("step executed",
		"step_id", step.ID,
		"build_id", build.ID,
		"exit_code", exitCode,
	)

	return &model.StepResult{
		StepID:      step.ID,
		Status:      status,
		Output:      stdoutBuf.String(),
		Error:       stderrBuf.String(),
		ExitCode:    &exitCode,
		StartedAt:   &started,
		CompletedAt: &completed,
	}, nil
}

// envList converts an environment map to KEY=VALUE form.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
