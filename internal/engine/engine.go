package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/me/lightci/internal/broadcast"
	"github.com/me/lightci/internal/executor"
	"github.com/me/lightci/internal/pipeline"
	"github.com/me/lightci/internal/store"
	"github.com/me/lightci/internal/workspace"
	"github.com/me/lightci/pkg/model"
)

// Engine is the pipeline execution façade: pipeline lifecycle, build
// triggering and cancellation, and subscription to step updates.
type Engine struct {
	store      store.Store
	runner     *StepRunner
	broker     *broadcast.Broker
	workspaces *workspace.Manager
	git        *workspace.GitHelper
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc // active builds keyed by build id
	wg      sync.WaitGroup
}

// Option configures optional Engine dependencies.
type Option func(*Engine)

// WithWorkspaceManager sets the per-build workspace manager.
func WithWorkspaceManager(m *workspace.Manager) Option {
	return func(e *Engine) { e.workspaces = m }
}

// WithGitHelper sets the git helper used to populate build workspaces.
func WithGitHelper(g *workspace.GitHelper) Option {
	return func(e *Engine) { e.git = g }
}

// New creates an Engine executing steps with the given executor.
func New(st store.Store, exec executor.Executor, broker *broadcast.Broker, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		runner:  NewStepRunner(exec, logger),
		broker:  broker,
		logger:  logger.With("component", "engine"),
		running: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers a new step-update subscriber.
func (e *Engine) Subscribe() *broadcast.Subscriber {
	return e.broker.Subscribe()
}

// Wait blocks until every in-flight build execution has unwound. Used by
// shutdown paths and tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// --- Pipeline lifecycle ---

// CreatePipeline validates and persists a new pipeline definition.
func (e *Engine) CreatePipeline(ctx context.Context, p *model.Pipeline) error {
	if err := pipeline.Validate(p); err != nil {
		return model.NewEngineError(model.KindValidation, "validate pipeline", err)
	}

	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = "pl_" + uuid.New().String()
	}
	if p.WorkspaceID == "" {
		p.WorkspaceID = "ws_" + uuid.New().String()
	}
	p.Status = model.PipelinePending
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := e.store.CreatePipeline(ctx, p); err != nil {
		return model.NewEngineError(model.KindDatabase, "create pipeline", err)
	}
	e.logger.Info("pipeline created", "pipeline_id", p.ID, "name", p.Name, "steps", len(p.Steps))
	return nil
}

// GetPipeline returns a pipeline, or (nil, nil) if absent.
func (e *Engine) GetPipeline(ctx context.Context, id string) (*model.Pipeline, error) {
	return e.store.GetPipeline(ctx, id)
}

// ListPipelines returns a page of pipelines and the total count.
func (e *Engine) ListPipelines(ctx context.Context, opts model.ListOptions) ([]*model.Pipeline, int, error) {
	return e.store.ListPipelines(ctx, opts)
}

// UpdatePipeline validates and persists an updated definition.
func (e *Engine) UpdatePipeline(ctx context.Context, p *model.Pipeline) error {
	if err := pipeline.Validate(p); err != nil {
		return model.NewEngineError(model.KindValidation, "validate pipeline", err)
	}
	p.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdatePipeline(ctx, p); err != nil {
		return model.NewEngineError(model.KindDatabase, "update pipeline", err)
	}
	return nil
}

// DeletePipeline removes a pipeline definition.
func (e *Engine) DeletePipeline(ctx context.Context, id string) error {
	if err := e.store.DeletePipeline(ctx, id); err != nil {
		return model.NewEngineError(model.KindDatabase, "delete pipeline", err)
	}
	e.logger.Info("pipeline deleted", "pipeline_id", id)
	return nil
}

// --- Build lifecycle ---

// TriggerBuild validates the pipeline, creates a Pending build, and spawns
// its execution asynchronously. Validation and configuration errors are
// returned synchronously and no Build record is persisted.
func (e *Engine) TriggerBuild(ctx context.Context, req *model.TriggerBuildRequest) (*model.Build, error) {
	p, err := e.store.GetPipeline(ctx, req.PipelineID)
	if err != nil {
		return nil, model.NewEngineError(model.KindDatabase, "get pipeline", err)
	}
	if p == nil {
		return nil, model.NewNotFoundError("pipeline", req.PipelineID)
	}

	if err := pipeline.Validate(p); err != nil {
		return nil, model.NewEngineError(model.KindValidation, "validate pipeline", err)
	}
	graph, err := pipeline.NewGraph(p)
	if err != nil {
		return nil, err
	}

	branch := req.Branch
	if branch == "" {
		branch = p.DefaultBranch
	}
	commit := req.Commit
	if commit == "" {
		commit = "HEAD"
	}

	now := time.Now().UTC()
	build := &model.Build{
		ID:         "bld_" + uuid.New().String(),
		PipelineID: p.ID,
		Branch:     branch,
		Commit:     commit,
		Status:     model.BuildPending,
		Parameters: req.Parameters,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreateBuild(ctx, build); err != nil {
		return nil, model.NewEngineError(model.KindDatabase, "create build", err)
	}

	// The execution outlives the trigger request.
	execCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.running[build.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.running, build.ID)
			e.mu.Unlock()
			cancel()
		}()
		e.executeBuild(execCtx, p, graph, build)
	}()

	e.logger.Info("build triggered", "build_id", build.ID, "pipeline_id", p.ID, "branch", branch)
	return build, nil
}

// GetBuild returns a build, or (nil, nil) if absent.
func (e *Engine) GetBuild(ctx context.Context, id string) (*model.Build, error) {
	return e.store.GetBuild(ctx, id)
}

// ListBuilds returns a page of builds and the total count.
func (e *Engine) ListBuilds(ctx context.Context, opts model.ListOptions) ([]*model.Build, int, error) {
	return e.store.ListBuilds(ctx, opts)
}

// ListStepResults returns the recorded step results for a build.
func (e *Engine) ListStepResults(ctx context.Context, buildID string) ([]*model.StepResult, error) {
	return e.store.ListStepResults(ctx, buildID)
}

// GetBuildLogs returns the log lines recorded for a build.
func (e *Engine) GetBuildLogs(ctx context.Context, buildID string) ([]*model.BuildLog, error) {
	return e.store.ListBuildLogs(ctx, buildID)
}

// CancelBuild transitions a Pending or Running build toward Cancelled and
// signals its scheduler. It returns before the scheduler unwinds.
// Cancelling a terminal build is a no-op.
func (e *Engine) CancelBuild(ctx context.Context, id string) error {
	b, err := e.store.GetBuild(ctx, id)
	if err != nil {
		return model.NewEngineError(model.KindDatabase, "get build", err)
	}
	if b == nil {
		return model.NewNotFoundError("build", id)
	}
	if b.Status.IsTerminal() {
		return nil
	}

	e.mu.Lock()
	cancel, active := e.running[id]
	e.mu.Unlock()

	if active {
		cancel()
		e.logger.Info("build cancel requested", "build_id", id)
		return nil
	}

	// No scheduler owns the build (e.g. created but never started, or the
	// process restarted): finalize directly.
	now := time.Now().UTC()
	b.Status = model.BuildCancelled
	b.CompletedAt = &now
	b.UpdatedAt = now
	if err := e.store.UpdateBuild(ctx, b); err != nil {
		return model.NewEngineError(model.KindDatabase, "cancel build", err)
	}
	e.logger.Info("build cancelled (inactive)", "build_id", id)
	return nil
}

// executeBuild prepares the workspace, runs the scheduler, and finalizes
// the build. It runs on its own goroutine with a detached context.
func (e *Engine) executeBuild(ctx context.Context, p *model.Pipeline, graph *pipeline.Graph, build *model.Build) {
	started := time.Now().UTC()
	build.Status = model.BuildRunning
	build.StartedAt = &started
	build.UpdatedAt = started
	if err := e.store.UpdateBuild(context.Background(), build); err != nil {
		e.logger.Error("persist running build", "build_id", build.ID, "error", err)
	}

	p.Status = model.PipelineRunning
	p.UpdatedAt = started
	if err := e.store.UpdatePipeline(context.Background(), p); err != nil {
		e.logger.Error("persist running pipeline", "pipeline_id", p.ID, "error", err)
	}

	if err := e.prepareWorkspace(ctx, p, build); err != nil {
		e.logger.Error("workspace preparation failed", "build_id", build.ID, "error", err)
		e.appendDiagnostic(build, fmt.Sprintf("workspace preparation failed: %v", err))
		e.finalize(p, build, nil, model.BuildFailed)
		return
	}

	results, execErr := newExecution(p, build, graph, e.runner, e.store, e.broker, e.logger).run(ctx)

	status := buildStatusFor(results, ctx.Err() != nil)
	if execErr != nil {
		e.logger.Error("build execution error", "build_id", build.ID, "error", execErr)
		e.appendDiagnostic(build, execErr.Error())
		if status == model.BuildSuccess {
			status = model.BuildFailed
		}
	}

	e.finalize(p, build, results, status)
}

// prepareWorkspace creates the build's filesystem root and clones the
// pipeline repository into it when one is configured. Workspace and git
// failures abort the build before any step runs.
func (e *Engine) prepareWorkspace(ctx context.Context, p *model.Pipeline, build *model.Build) error {
	if e.workspaces == nil {
		return nil
	}
	dir, err := e.workspaces.Create(build.ID)
	if err != nil {
		return err
	}
	if p.Repository == "" || e.git == nil {
		return nil
	}
	if err := e.git.Clone(ctx, p.Repository, dir, build.Branch); err != nil {
		return err
	}
	if build.Commit != "" && build.Commit != "HEAD" {
		return e.git.CheckoutCommit(dir, build.Commit)
	}
	return nil
}

// finalize persists the terminal build state atomically with its step
// results, retrying transient store failures, and publishes a final update.
func (e *Engine) finalize(p *model.Pipeline, build *model.Build, results []*model.StepResult, status model.BuildStatus) {
	now := time.Now().UTC()
	build.Status = status
	build.CompletedAt = &now
	build.UpdatedAt = now

	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		// Detached context: the build ctx may already be cancelled.
		if err = e.store.FinishBuild(context.Background(), build, results); err == nil {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	if err != nil {
		e.logger.Error("persist finished build", "build_id", build.ID, "error", err)
	}

	if status == model.BuildSuccess {
		p.Status = model.PipelineCompleted
	} else {
		p.Status = model.PipelineFailed
	}
	p.UpdatedAt = now
	if err := e.store.UpdatePipeline(context.Background(), p); err != nil {
		e.logger.Error("persist finished pipeline", "pipeline_id", p.ID, "error", err)
	}

	// Final update: empty step id, build-level terminal status.
	e.broker.Publish(model.StepStatusUpdate{
		BuildID:  build.ID,
		StepID:   "",
		StepName: p.Name,
		Status:   stepStatusFor(status),
	})

	e.logger.Info("build finished", "build_id", build.ID, "status", status, "steps", len(results))
}

// stepStatusFor maps a terminal build status onto the step status space used
// by the broadcast channel's final update.
func stepStatusFor(s model.BuildStatus) model.StepStatus {
	switch s {
	case model.BuildSuccess:
		return model.StepSuccess
	case model.BuildCancelled:
		return model.StepCancelled
	case model.BuildTimedOut:
		return model.StepTimedOut
	default:
		return model.StepFailed
	}
}

func (e *Engine) appendDiagnostic(build *model.Build, msg string) {
	entry := &model.BuildLog{
		BuildID:   build.ID,
		Content:   msg,
		Timestamp: time.Now().UTC(),
	}
	if err := e.store.AppendBuildLog(context.Background(), entry); err != nil {
		e.logger.Error("append diagnostic", "build_id", build.ID, "error", err)
	}
}
