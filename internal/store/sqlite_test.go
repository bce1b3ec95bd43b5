package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/me/lightci/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testPipeline() *model.Pipeline {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Pipeline{
		ID:            "pl_1",
		Name:          "demo",
		Repository:    "https://example.com/repo.git",
		DefaultBranch: "main",
		Description:   "a demo pipeline",
		WorkspaceID:   "ws_1",
		Environment:   map[string]string{"CI": "true"},
		Status:        model.PipelinePending,
		Steps: []model.Step{
			{ID: "build", Name: "Build", Command: "make", TimeoutSeconds: 60},
			{ID: "test", Name: "Test", Command: "make test", Dependencies: []string{"build"},
				Environment: map[string]string{"VERBOSE": "1"}, Retries: 2},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testBuild(pipelineID string) *model.Build {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Build{
		ID:         "bld_1",
		PipelineID: pipelineID,
		Branch:     "main",
		Commit:     "abc123",
		Status:     model.BuildPending,
		Parameters: map[string]string{"flavor": "debug"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestPipelineRoundTrip(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	p := testPipeline()
	if err := st.CreatePipeline(ctx, p); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	got, err := st.GetPipeline(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPipeline: %v", err)
	}
	if got == nil {
		t.Fatal("GetPipeline returned nil")
	}
	if got.Name != p.Name || got.Repository != p.Repository || got.DefaultBranch != p.DefaultBranch {
		t.Errorf("pipeline fields = %+v", got)
	}
	if got.Status != model.PipelinePending {
		t.Errorf("status = %v, want pending", got.Status)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(got.Steps))
	}
	// Step order follows the stored position.
	if got.Steps[0].ID != "build" || got.Steps[1].ID != "test" {
		t.Errorf("step order = %s, %s", got.Steps[0].ID, got.Steps[1].ID)
	}
	if got.Steps[1].Dependencies[0] != "build" {
		t.Errorf("test deps = %v", got.Steps[1].Dependencies)
	}
	if got.Steps[1].Environment["VERBOSE"] != "1" {
		t.Errorf("test env = %v", got.Steps[1].Environment)
	}
	if got.Steps[1].Retries != 2 {
		t.Errorf("retries = %d, want 2", got.Steps[1].Retries)
	}
}

func TestGetPipeline_NotFound(t *testing.T) {
	st := testStore(t)
	got, err := st.GetPipeline(context.Background(), "pl_missing")
	if err != nil {
		t.Fatalf("GetPipeline: %v", err)
	}
	if got != nil {
		t.Errorf("GetPipeline(missing) = %+v, want nil", got)
	}
}

func TestUpdatePipeline_ReplacesSteps(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	p := testPipeline()
	if err := st.CreatePipeline(ctx, p); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	p.Steps = []model.Step{{ID: "deploy", Command: "make deploy"}}
	p.Status = model.PipelineRunning
	p.UpdatedAt = time.Now().UTC()
	if err := st.UpdatePipeline(ctx, p); err != nil {
		t.Fatalf("UpdatePipeline: %v", err)
	}

	got, err := st.GetPipeline(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPipeline: %v", err)
	}
	if len(got.Steps) != 1 || got.Steps[0].ID != "deploy" {
		t.Errorf("steps after update = %+v", got.Steps)
	}
	if got.Status != model.PipelineRunning {
		t.Errorf("status = %v, want running", got.Status)
	}
}

func TestDeletePipeline(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	p := testPipeline()
	if err := st.CreatePipeline(ctx, p); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	if err := st.DeletePipeline(ctx, p.ID); err != nil {
		t.Fatalf("DeletePipeline: %v", err)
	}
	got, err := st.GetPipeline(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPipeline: %v", err)
	}
	if got != nil {
		t.Error("pipeline still present after delete")
	}

	// Idempotent on the natural key.
	if err := st.DeletePipeline(ctx, p.ID); err != nil {
		t.Fatalf("second DeletePipeline: %v", err)
	}
}

func TestListPipelines(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"pl_a", "pl_b", "pl_c"} {
		p := testPipeline()
		p.ID = id
		p.Name = id
		if err := st.CreatePipeline(ctx, p); err != nil {
			t.Fatalf("CreatePipeline(%s): %v", id, err)
		}
	}

	pipelines, total, err := st.ListPipelines(ctx, model.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListPipelines: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(pipelines) != 2 {
		t.Errorf("page size = %d, want 2", len(pipelines))
	}
}

func TestBuildLifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	b := testBuild("pl_1")
	if err := st.CreateBuild(ctx, b); err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}

	got, err := st.GetBuild(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if got.Status != model.BuildPending || got.StartedAt != nil {
		t.Errorf("fresh build = %+v", got)
	}
	if got.Parameters["flavor"] != "debug" {
		t.Errorf("parameters = %v", got.Parameters)
	}

	now := time.Now().UTC()
	b.Status = model.BuildRunning
	b.StartedAt = &now
	b.UpdatedAt = now
	if err := st.UpdateBuild(ctx, b); err != nil {
		t.Fatalf("UpdateBuild: %v", err)
	}

	got, err = st.GetBuild(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if got.Status != model.BuildRunning || got.StartedAt == nil {
		t.Errorf("running build = %+v", got)
	}
}

func TestGetBuild_NotFound(t *testing.T) {
	st := testStore(t)
	got, err := st.GetBuild(context.Background(), "bld_missing")
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if got != nil {
		t.Errorf("GetBuild(missing) = %+v, want nil", got)
	}
}

func TestListBuilds_StatusFilter(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for i, status := range []model.BuildStatus{model.BuildPending, model.BuildRunning, model.BuildRunning} {
		b := testBuild("pl_1")
		b.ID = "bld_" + string(rune('a'+i))
		b.Status = status
		if err := st.CreateBuild(ctx, b); err != nil {
			t.Fatalf("CreateBuild: %v", err)
		}
	}

	builds, total, err := st.ListBuilds(ctx, model.ListOptions{Status: "running"})
	if err != nil {
		t.Fatalf("ListBuilds: %v", err)
	}
	if total != 2 || len(builds) != 2 {
		t.Errorf("running builds = %d (total %d), want 2", len(builds), total)
	}
	for _, b := range builds {
		if b.Status != model.BuildRunning {
			t.Errorf("filtered build has status %v", b.Status)
		}
	}
}

func TestStepResultUpsert(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	started := time.Now().UTC()
	res := &model.StepResult{StepID: "build", Status: model.StepRunning, StartedAt: &started}
	if err := st.UpsertStepResult(ctx, "bld_1", res); err != nil {
		t.Fatalf("UpsertStepResult: %v", err)
	}

	// Second write for the same (build, step) key replaces, not duplicates.
	completed := started.Add(2 * time.Second)
	code := 0
	res.Status = model.StepSuccess
	res.Output = "ok"
	res.ExitCode = &code
	res.CompletedAt = &completed
	if err := st.UpsertStepResult(ctx, "bld_1", res); err != nil {
		t.Fatalf("second UpsertStepResult: %v", err)
	}

	results, err := st.ListStepResults(ctx, "bld_1")
	if err != nil {
		t.Fatalf("ListStepResults: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	got := results[0]
	if got.Status != model.StepSuccess || got.Output != "ok" {
		t.Errorf("result = %+v", got)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", got.ExitCode)
	}
	if got.CompletedAt == nil || got.CompletedAt.Before(*got.StartedAt) {
		t.Errorf("timestamps = %v / %v", got.StartedAt, got.CompletedAt)
	}
}

func TestFinishBuild_Atomic(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	b := testBuild("pl_1")
	if err := st.CreateBuild(ctx, b); err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}

	now := time.Now().UTC()
	code := 0
	b.Status = model.BuildSuccess
	b.CompletedAt = &now
	b.UpdatedAt = now
	results := []*model.StepResult{
		{StepID: "build", Status: model.StepSuccess, ExitCode: &code, StartedAt: &now, CompletedAt: &now},
		{StepID: "test", Status: model.StepSuccess, ExitCode: &code, StartedAt: &now, CompletedAt: &now},
	}
	if err := st.FinishBuild(ctx, b, results); err != nil {
		t.Fatalf("FinishBuild: %v", err)
	}

	got, err := st.GetBuild(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if got.Status != model.BuildSuccess || got.CompletedAt == nil {
		t.Errorf("finished build = %+v", got)
	}

	stepResults, err := st.ListStepResults(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListStepResults: %v", err)
	}
	if len(stepResults) != 2 {
		t.Errorf("step results = %d, want 2", len(stepResults))
	}
}

func TestBuildLogs(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	for i, line := range []string{"cloning", "compiling", "done"} {
		entry := &model.BuildLog{
			BuildID:   "bld_1",
			StepID:    "build",
			Content:   line,
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		if err := st.AppendBuildLog(ctx, entry); err != nil {
			t.Fatalf("AppendBuildLog: %v", err)
		}
	}

	logs, err := st.ListBuildLogs(ctx, "bld_1")
	if err != nil {
		t.Fatalf("ListBuildLogs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("logs = %d, want 3", len(logs))
	}
	if logs[0].Content != "cloning" || logs[2].Content != "done" {
		t.Errorf("log order = %q ... %q", logs[0].Content, logs[2].Content)
	}

	other, err := st.ListBuildLogs(ctx, "bld_2")
	if err != nil {
		t.Fatalf("ListBuildLogs(other): %v", err)
	}
	if len(other) != 0 {
		t.Errorf("logs for other build = %d, want 0", len(other))
	}
}
