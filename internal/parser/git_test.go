package parser

import (
	"context"
	"fmt"
	"testing"
)

type fakeRunner struct {
	responses map[string]string
	errs      map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	key := fmt.Sprintf("%s %v", name, args)
	if err, ok := f.errs[key]; ok {
		return "", err
	}
	return f.responses[key], nil
}

func TestDetectGitWorktreeNotAWorktree(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{
		"git [branch --show-current]":          "main",
		"git [rev-parse --git-dir]":            ".git",
		"git [rev-parse --git-common-dir]":     ".git",
	}}
	info := DetectGitWorktree(context.Background(), "/repo", runner)
	if info.Branch != "main" {
		t.Fatalf("unexpected branch %q", info.Branch)
	}
	if info.GitWorktree != "" {
		t.Fatalf("expected no worktree path, got %q", info.GitWorktree)
	}
}

func TestDetectGitWorktreeSecondaryWorktree(t *testing.T) {
	runner := &fakeRunner{responses: map[string]string{
		"git [branch --show-current]":                              "feature",
		"git [rev-parse --git-dir]":                                "/repo/.git/worktrees/feature",
		"git [rev-parse --git-common-dir]":                         "/repo/.git",
		"git [rev-parse --show-toplevel]":                          "/repo-feature-worktree",
		"git [rev-parse --path-format=absolute --git-common-dir]": "/repo/.git",
	}}
	info := DetectGitWorktree(context.Background(), "/repo-feature-worktree", runner)
	if info.GitWorktree != "/repo-feature-worktree" {
		t.Fatalf("expected worktree path set, got %q", info.GitWorktree)
	}
	if info.MainRepoPath != "/repo" {
		t.Fatalf("expected main repo path /repo, got %q", info.MainRepoPath)
	}
}

func TestDetectGitStatusCaching(t *testing.T) {
	ClearGitStatusCache("/repo")
	runner := &fakeRunner{responses: map[string]string{
		"git [rev-parse --verify @{u}]":                       "abc123",
		"git [status --porcelain]":                            " M file.go",
		"git [rev-list --left-right --count @{u}...HEAD]":     "2\t3",
	}}
	status := DetectGitStatus(context.Background(), "/repo", runner)
	if !status.HasUpstream || !status.IsDirty || status.Behind != 2 || status.Ahead != 3 {
		t.Fatalf("unexpected status %+v", status)
	}

	runner.responses["git [status --porcelain]"] = ""
	cached := DetectGitStatus(context.Background(), "/repo", runner)
	if !cached.IsDirty {
		t.Fatal("expected cached (dirty) result to be reused within TTL")
	}

	ClearGitStatusCache("/repo")
	fresh := DetectGitStatus(context.Background(), "/repo", runner)
	if fresh.IsDirty {
		t.Fatal("expected fresh probe after cache clear to reflect clean status")
	}
}
