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

// DefaultImage is used when NewDockerExecutor is given an empty image.
const DefaultImage = "ubuntu:latest"

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// osCommandRunner is the real implementation using os/exec.
type osCommandRunner struct{}

func (r *osCommandRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	stdout := stdoutBuf.String()
	stderr := stderrBuf.String()

	switch e := runErr.(type) {
	case nil:
		return stdout, stderr, 0, nil
	case *exec.ExitError:
		return stdout, stderr, e.ExitCode(), nil
	default:
		return stdout, stderr, -1, runErr
	}
}

// DockerExecutor runs step commands inside containers using the Docker CLI.
type DockerExecutor struct {
	logger  *slog.Logger
	workDir string
	image   string
	runner  CommandRunner
}

// NewDockerExecutor creates a DockerExecutor whose build workspaces live
// under workDir and whose steps run in the given image. Empty arguments fall
// back to os.TempDir() and DefaultImage.
func NewDockerExecutor(workDir, image string, logger *slog.Logger) *DockerExecutor {
	if workDir == "" {
		workDir = os.TempDir()
	}
	if image == "" {
		image = DefaultImage
	}
	return &DockerExecutor{
		workDir: workDir,
		image:   image,
		logger:  logger.With("component", "docker-executor"),
		runner:  &osCommandRunner{},
	}
}

// SetRunner replaces the command runner. Used by tests.
func (e *DockerExecutor) SetRunner(r CommandRunner) {
	e.runner = r
}

// Type returns TypeDocker.
func (e *DockerExecutor) Type() Type {
	return TypeDocker
}

// Execute runs the step's command via `docker run` with the build workspace
// bind-mounted as the container working directory.
func (e *DockerExecutor) Execute(ctx context.Context, step *model.Step, build *model.Build) (*model.StepResult, error) {
	dir := filepath.Join(e.workDir, build.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("step %s: create work dir: %w", step.ID, err)
	}

	workdir := "/workspace"
	if step.WorkingDir != "" {
		workdir = filepath.Join(workdir, step.WorkingDir)
	}

	args := []string{
		"run", "--rm",
		"-v", dir + ":/workspace",
		"-w", workdir,
	}
	for _, kv := range envList(step.Environment) {
		args = append(args, "-e", kv)
	}
	args = append(args, e.image, "sh", "-c", step.Command)

	started := time.Now().UTC()
	stdout, stderr, exitCode, err := e.runner.Run(ctx, "docker", args...)
	completed := time.Now().UTC()

	if err != nil {
		return nil, fmt.Errorf("step %s: docker run: %w", step.ID, err)
	}

	status := model.StepSuccess
	if exitCode != 0 {
		status = model.StepFailed
	}

	e.logger.Debug("step executed in container",
		"step_id", step.ID,
		"build_id", build.ID,
		"image", e.image,
		"exit_code", exitCode,
	)

	return &model.StepResult{
		StepID:      step.ID,
		Status:      status,
		Output:      stdout,
		Error:       stderr,
		ExitCode:    &exitCode,
		StartedAt:   &started,
		CompletedAt: &completed,
	}, nil
}
