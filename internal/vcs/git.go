// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package vcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/jonboulle/clockwork"
)

const binary = "git"

// gitVCS is a lightweight wrapper around the Git binary plus go-git:
// go-git for reading object data the shell is awkward for, and direct
// `git` invocations for everything else.
type gitVCS struct {
	gitDirPath string
	workTree   string
	clock      clockwork.Clock
}

// Load returns a VCS rooted at repositoryPath, after confirming a git
// binary is on PATH and the path is inside a working tree.
func Load(ctx context.Context, repositoryPath string) (VCS, error) {
	slog.Debug("looking for git binary in PATH")
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("unable to find git binary, is git installed? %w", err)
	}

	repo := &gitVCS{workTree: repositoryPath, clock: clockwork.NewRealClock()}

	out, err := repo.executor(ctx, "rev-parse", "--git-dir").withoutGitDir().executeString()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotARepository, err)
	}

	if !filepath.IsAbs(out) {
		out = filepath.Join(repositoryPath, out)
	}
	absPath, err := filepath.Abs(out)
	if err != nil {
		return nil, err
	}
	repo.gitDirPath = absPath

	return repo, nil
}

func (r *gitVCS) goGitRepository() (*git.Repository, error) {
	return git.PlainOpenWithOptions(r.workTree, &git.PlainOpenOptions{DetectDotGit: true})
}

func (r *gitVCS) Toplevel(ctx context.Context) (string, error) {
	return r.executor(ctx, "rev-parse", "--show-toplevel").executeString()
}

func (r *gitVCS) MergeBase(ctx context.Context, a, b string) (string, error) {
	return r.executor(ctx, "merge-base", a, b).executeString()
}

func (r *gitVCS) CloneTo(ctx context.Context, path, sha string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}

	source, err := r.Toplevel(ctx)
	if err != nil {
		return err
	}

	if _, err := (&gitVCS{workTree: path, gitDirPath: r.gitDirPath, clock: r.clock}).executorIn(ctx, path, "clone", source, path).executeString(); err != nil {
		return fmt.Errorf("cloning %s into %s: %w", source, path, err)
	}

	target := &gitVCS{workTree: path, clock: r.clock}
	if _, err := target.executorIn(ctx, path, "checkout", sha).executeString(); err != nil {
		return fmt.Errorf("checking out %s in %s: %w", sha, path, err)
	}

	return nil
}

func (r *gitVCS) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add"}, paths...)
	_, err := r.executor(ctx, args...).executeString()
	return err
}

func (r *gitVCS) Commit(ctx context.Context, message string) error {
	now := r.clock.Now()
	env := []string{
		fmt.Sprintf("GIT_COMMITTER_DATE=%s", now.Format("2006-01-02T15:04:05Z07:00")),
		fmt.Sprintf("GIT_AUTHOR_DATE=%s", now.Format("2006-01-02T15:04:05Z07:00")),
	}
	_, err := r.executor(ctx, "commit", "-m", message).withEnv(env...).executeString()
	return err
}

func (r *gitVCS) Push(ctx context.Context, remote, ref string) error {
	_, err := r.executor(ctx, "push", remote, ref).executeString()
	return err
}

func (r *gitVCS) ShowCurrentBranch(ctx context.Context) (string, error) {
	return r.executor(ctx, "rev-parse", "--abbrev-ref", "HEAD").executeString()
}

func (r *gitVCS) ChangedFiles(ctx context.Context, since string) ([]string, error) {
	out, err := r.executor(ctx, "diff", "--name-only", since, "HEAD").executeString()
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// executor is a lightweight wrapper around exec.Cmd to run Git commands,
// the same shape as gitinterface's unexported executor type.
type executor struct {
	r           *gitVCS
	dir         string
	args        []string
	env         []string
	unsetGitDir bool
	ctx         context.Context //nolint:containedctx
}

func (r *gitVCS) executor(ctx context.Context, args ...string) *executor {
	return &executor{r: r, dir: r.workTree, args: args, env: os.Environ(), ctx: ctx}
}

func (r *gitVCS) executorIn(ctx context.Context, dir string, args ...string) *executor {
	return &executor{r: r, dir: dir, args: args, env: os.Environ(), ctx: ctx}
}

func (e *executor) withEnv(env ...string) *executor {
	e.env = append(e.env, env...)
	return e
}

func (e *executor) withoutGitDir() *executor {
	e.unsetGitDir = true
	return e
}

func (e *executor) executeString() (string, error) {
	stdOut, stdErr, err := e.execute()
	if err != nil {
		errContents, _ := io.ReadAll(stdErr)
		return "", fmt.Errorf("%w when running `git %s`: %s", err, strings.Join(e.args, " "), strings.TrimSpace(string(errContents)))
	}
	out, err := io.ReadAll(stdOut)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (e *executor) execute() (io.Reader, io.Reader, error) {
	args := e.args
	if e.r.gitDirPath != "" && !e.unsetGitDir {
		args = append([]string{"--git-dir", e.r.gitDirPath}, args...)
	}

	cmd := exec.CommandContext(e.ctx, binary, args...) //nolint:gosec
	cmd.Dir = e.dir
	cmd.Env = append(e.env, "LC_ALL=C")

	var stdOut, stdErr bytes.Buffer
	cmd.Stdout = &stdOut
	cmd.Stderr = &stdErr

	err := cmd.Run()
	return &stdOut, &stdErr, err
}
