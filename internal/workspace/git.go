package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/me/lightci/pkg/model"
)

// GitConfig carries options for repository operations.
type GitConfig struct {
	// Depth limits clone history; 0 means full history.
	Depth int
}

// GitHelper performs the version-control operations the workspace manager
// needs: cloning a pipeline's repository into a build workspace and moving
// the checkout to a branch or commit.
type GitHelper struct {
	config GitConfig
	logger *slog.Logger
}

// NewGitHelper creates a GitHelper.
func NewGitHelper(cfg GitConfig, logger *slog.Logger) *GitHelper {
	return &GitHelper{
		config: cfg,
		logger: logger.With("component", "git"),
	}
}

// Clone clones url into dir. When branch is non-empty the clone tracks that
// single branch.
func (g *GitHelper) Clone(ctx context.Context, url, dir, branch string) error {
	opts := &git.CloneOptions{URL: url}
	if g.config.Depth > 0 {
		opts.Depth = g.config.Depth
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}

	g.logger.Info("cloning repository", "url", url, "dir", dir, "branch", branch)
	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		return model.NewEngineError(model.KindGit, fmt.Sprintf("clone %s", url), err)
	}
	return nil
}

// Fetch updates all remotes of the repository at dir.
func (g *GitHelper) Fetch(ctx context.Context, dir string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return model.NewEngineError(model.KindGit, fmt.Sprintf("open %s", dir), err)
	}
	err = repo.FetchContext(ctx, &git.FetchOptions{})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return model.NewEngineError(model.KindGit, fmt.Sprintf("fetch %s", dir), err)
	}
	return nil
}

// CheckoutBranch moves the worktree at dir to the named branch.
func (g *GitHelper) CheckoutBranch(dir, branch string) error {
	wt, err := worktree(dir)
	if err != nil {
		return err
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
	})
	if err != nil {
		return model.NewEngineError(model.KindGit, fmt.Sprintf("checkout branch %s", branch), err)
	}
	return nil
}

// CheckoutCommit moves the worktree at dir to the given commit hash.
func (g *GitHelper) CheckoutCommit(dir, commit string) error {
	wt, err := worktree(dir)
	if err != nil {
		return err
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Hash: plumbing.NewHash(commit),
	})
	if err != nil {
		return model.NewEngineError(model.KindGit, fmt.Sprintf("checkout commit %s", commit), err)
	}
	return nil
}

// Head returns the hash the repository at dir currently points to.
func (g *GitHelper) Head(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", model.NewEngineError(model.KindGit, fmt.Sprintf("open %s", dir), err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", model.NewEngineError(model.KindGit, "resolve HEAD", err)
	}
	return head.Hash().String(), nil
}

func worktree(dir string) (*git.Worktree, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, model.NewEngineError(model.KindGit, fmt.Sprintf("open %s", dir), err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, model.NewEngineError(model.KindGit, "open worktree", err)
	}
	return wt, nil
}
