package store

import (
	"context"

	"github.com/me/lightci/pkg/model"
)

// Store defines the persistence layer for LightCI entities. Updates, upserts
// and deletes are idempotent with respect to their natural keys; the
// SQLite CreatePipeline and CreateBuild are plain inserts and fail when the
// id already exists. Operations are safe for concurrent callers; lookups
// return (nil, nil) when the entity does not exist.
type Store interface {
	// Pipeline CRUD. CreatePipeline writes the pipeline together with its
	// steps in one transaction.
	CreatePipeline(ctx context.Context, p *model.Pipeline) error
	GetPipeline(ctx context.Context, id string) (*model.Pipeline, error)
	ListPipelines(ctx context.Context, opts model.ListOptions) ([]*model.Pipeline, int, error)
	UpdatePipeline(ctx context.Context, p *model.Pipeline) error
	DeletePipeline(ctx context.Context, id string) error

	// Build CRUD. FinishBuild writes the terminal build update together
	// with all of its step results in one transaction.
	CreateBuild(ctx context.Context, b *model.Build) error
	GetBuild(ctx context.Context, id string) (*model.Build, error)
	ListBuilds(ctx context.Context, opts model.ListOptions) ([]*model.Build, int, error)
	UpdateBuild(ctx context.Context, b *model.Build) error
	FinishBuild(ctx context.Context, b *model.Build, results []*model.StepResult) error

	// Step results for one build.
	UpsertStepResult(ctx context.Context, buildID string, res *model.StepResult) error
	ListStepResults(ctx context.Context, buildID string) ([]*model.StepResult, error)

	// Build logs.
	AppendBuildLog(ctx context.Context, entry *model.BuildLog) error
	ListBuildLogs(ctx context.Context, buildID string) ([]*model.BuildLog, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
