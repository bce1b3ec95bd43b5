package workspace

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// initRepo creates a local repository with two commits and returns its path
// and the first commit's hash.
func initRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}

	sig := &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()}

	commit := func(name, content, msg string) string {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := wt.Add(name); err != nil {
			t.Fatalf("Add: %v", err)
		}
		hash, err := wt.Commit(msg, &git.CommitOptions{Author: sig})
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		return hash.String()
	}

	first := commit("README.md", "hello\n", "initial")
	commit("main.go", "package main\n", "add main")
	return dir, first
}

func testGitHelper(t *testing.T) *GitHelper {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGitHelper(GitConfig{}, logger)
}

func TestGitHelper_CloneAndCheckout(t *testing.T) {
	src, firstCommit := initRepo(t)
	g := testGitHelper(t)
	dst := filepath.Join(t.TempDir(), "clone")

	if err := g.Clone(context.Background(), src, dst, ""); err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "main.go")); err != nil {
		t.Errorf("clone missing main.go: %v", err)
	}

	if err := g.CheckoutCommit(dst, firstCommit); err != nil {
		t.Fatalf("CheckoutCommit: %v", err)
	}
	head, err := g.Head(dst)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head != firstCommit {
		t.Errorf("HEAD = %s, want %s", head, firstCommit)
	}
	if _, err := os.Stat(filepath.Join(dst, "main.go")); !os.IsNotExist(err) {
		t.Error("main.go still present after checkout of initial commit")
	}
}

func TestGitHelper_CloneMissingRepo(t *testing.T) {
	g := testGitHelper(t)
	dst := filepath.Join(t.TempDir(), "clone")

	err := g.Clone(context.Background(), filepath.Join(t.TempDir(), "nope"), dst, "")
	if err == nil {
		t.Fatal("Clone of missing repository succeeded")
	}
}
