package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/me/lightci/internal/broadcast"
	"github.com/me/lightci/internal/pipeline"
	"github.com/me/lightci/internal/store"
	"github.com/me/lightci/pkg/model"
)

// persistAttempts is how often a terminal-state write is retried before the
// failure is surfaced on the build.
const persistAttempts = 3

// execution runs one build of one validated pipeline. The results map is
// owned exclusively by the execution; other components observe progress only
// through the store and the broadcast channel.
type execution struct {
	pipeline *model.Pipeline
	build    *model.Build
	graph    *pipeline.Graph
	runner   *StepRunner
	store    store.Store
	broker   *broadcast.Broker
	logger   *slog.Logger

	results   map[string]*model.StepResult
	completed []*model.StepResult // terminal results in completion order

	// storeCtx detaches persistence from the build's cancel signal: results
	// of cancelled and skipped steps still have to reach the store.
	storeCtx context.Context
}

// stepOutcome pairs a finished step with its result.
type stepOutcome struct {
	stepID string
	result *model.StepResult
}

func newExecution(p *model.Pipeline, b *model.Build, g *pipeline.Graph, runner *StepRunner,
	st store.Store, broker *broadcast.Broker, logger *slog.Logger) *execution {
	return &execution{
		pipeline: p,
		build:    b,
		graph:    g,
		runner:   runner,
		store:    st,
		broker:   broker,
		logger:   logger.With("component", "scheduler", "build_id", b.ID),
		results:  make(map[string]*model.StepResult, len(p.Steps)),
		storeCtx: context.Background(),
	}
}

// run drives the ready-set loop until every reachable step is terminal.
// It returns the step results in completion order. The error is non-nil for
// configuration faults (orphan steps) and for persistence that kept failing;
// in both cases the in-memory results are still returned.
func (e *execution) run(ctx context.Context) ([]*model.StepResult, error) {
	ready := make(map[string]bool)
	for _, sid := range e.graph.Roots() {
		ready[sid] = true
	}
	executing := make(map[string]bool)
	outcomes := make(chan stepOutcome)
	cancelled := false
	var persistErr error

	for len(ready) > 0 || len(executing) > 0 {
		if cancelled {
			// No new launches: everything ready but unlaunched is cancelled.
			for _, sid := range sortedIDs(ready) {
				delete(ready, sid)
				e.recordTerminal(e.syntheticResult(sid, model.StepCancelled, "build cancelled"), &persistErr)
			}
		} else {
			for _, sid := range sortedIDs(ready) {
				delete(ready, sid)
				executing[sid] = true

				step := e.pipeline.StepByID(sid)
				e.markRunning(sid)

				go func(step *model.Step) {
					outcomes <- stepOutcome{stepID: step.ID, result: e.runner.Run(ctx, step, e.build)}
				}(step)
			}
		}

		if len(executing) == 0 {
			continue
		}

		// A nil Done channel blocks forever, so after the first cancellation
		// only outcome delivery can wake the loop.
		var done <-chan struct{}
		if !cancelled {
			done = ctx.Done()
		}

		select {
		case out := <-outcomes:
			delete(executing, out.stepID)
			e.recordTerminal(out.result, &persistErr)

			if out.result.Status == model.StepSuccess {
				for _, dep := range e.graph.Dependents(out.stepID) {
					if _, seen := e.results[dep]; seen || executing[dep] || ready[dep] {
						continue
					}
					if e.dependenciesSucceeded(dep) {
						ready[dep] = true
					}
				}
			} else {
				e.skipDependents(out.stepID, &persistErr)
			}

		case <-done:
			cancelled = true
			e.logger.Info("cancellation requested", "in_flight", len(executing))
		}
	}

	if err := e.checkCoverage(); err != nil {
		return e.completed, err
	}
	if persistErr != nil {
		return e.completed, model.NewEngineError(model.KindDatabase,
			"persisting step results", persistErr)
	}
	return e.completed, nil
}

// dependenciesSucceeded reports whether every dependency of the step has a
// Success result.
func (e *execution) dependenciesSucceeded(stepID string) bool {
	for _, dep := range e.graph.Dependencies(stepID) {
		res, ok := e.results[dep]
		if !ok || res.Status != model.StepSuccess {
			return false
		}
	}
	return true
}

// markRunning records and publishes the Running transition before the step
// is handed to the runner.
func (e *execution) markRunning(stepID string) {
	now := time.Now().UTC()
	res := &model.StepResult{
		StepID:    stepID,
		Status:    model.StepRunning,
		StartedAt: &now,
	}
	e.results[stepID] = res
	if err := e.store.UpsertStepResult(e.storeCtx, e.build.ID, res); err != nil {
		e.logger.Error("persist running step", "step_id", stepID, "error", err)
	}
	e.publish(stepID, model.StepRunning)
}

// recordTerminal stores a terminal result, persists it (with retries), and
// publishes the transition. Persist happens before publish so subscribers
// never observe state the store has not committed.
func (e *execution) recordTerminal(res *model.StepResult, persistErr *error) {
	e.results[res.StepID] = res
	e.completed = append(e.completed, res)

	if err := e.persistStep(res); err != nil {
		e.logger.Error("persist step result", "step_id", res.StepID, "error", err)
		if *persistErr == nil {
			*persistErr = err
		}
	}
	e.appendOutputLogs(res)
	e.publish(res.StepID, res.Status)
}

// persistStep retries terminal writes; the store may be briefly unavailable.
func (e *execution) persistStep(res *model.StepResult) error {
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if err = e.store.UpsertStepResult(e.storeCtx, e.build.ID, res); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

// appendOutputLogs captures step output and stderr as build log lines.
func (e *execution) appendOutputLogs(res *model.StepResult) {
	now := time.Now().UTC()
	for _, content := range []string{res.Output, res.Error} {
		if strings.TrimSpace(content) == "" {
			continue
		}
		entry := &model.BuildLog{
			BuildID:   e.build.ID,
			StepID:    res.StepID,
			Content:   content,
			Timestamp: now,
		}
		if err := e.store.AppendBuildLog(e.storeCtx, entry); err != nil {
			e.logger.Error("append build log", "step_id", res.StepID, "error", err)
		}
	}
}

func (e *execution) publish(stepID string, status model.StepStatus) {
	stepName := stepID
	if step := e.pipeline.StepByID(stepID); step != nil && step.Name != "" {
		stepName = step.Name
	}
	e.broker.Publish(model.StepStatusUpdate{
		BuildID:  e.build.ID,
		StepID:   stepID,
		StepName: stepName,
		Status:   status,
	})
}

// skipDependents marks every transitive dependent of the step Skipped,
// skipping steps that already have a result.
func (e *execution) skipDependents(stepID string, persistErr *error) {
	for _, dep := range e.graph.TransitiveDependents(stepID) {
		if _, ok := e.results[dep]; ok {
			continue
		}
		e.recordTerminal(e.syntheticResult(dep, model.StepSkipped, ""), persistErr)
	}
}

func (e *execution) syntheticResult(stepID string, status model.StepStatus, msg string) *model.StepResult {
	now := time.Now().UTC()
	return &model.StepResult{
		StepID:      stepID,
		Status:      status,
		Error:       msg,
		StartedAt:   &now,
		CompletedAt: &now,
	}
}

// checkCoverage verifies that every step produced a result. A gap means a
// bug in validation or graph construction, not a user error.
func (e *execution) checkCoverage() error {
	var orphans []string
	for i := range e.pipeline.Steps {
		sid := e.pipeline.Steps[i].ID
		res, ok := e.results[sid]
		if !ok || !res.Status.IsTerminal() {
			orphans = append(orphans, sid)
		}
	}
	if len(orphans) == 0 {
		return nil
	}
	sort.Strings(orphans)
	return model.NewEngineError(model.KindConfig,
		fmt.Sprintf("steps %v were never executed, possible dependency issue", orphans), nil)
}

// buildStatusFor derives the build's terminal status from its step results.
func buildStatusFor(results []*model.StepResult, cancelled bool) model.BuildStatus {
	if cancelled {
		return model.BuildCancelled
	}
	for _, res := range results {
		switch res.Status {
		case model.StepFailed, model.StepTimedOut, model.StepCancelled:
			return model.BuildFailed
		}
	}
	return model.BuildSuccess
}

func sortedIDs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
