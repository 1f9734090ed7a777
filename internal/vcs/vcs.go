// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

// Package vcs is the version-control port: every operation that touches a
// working tree or talks to a remote goes through VCS, so the signing-event
// engine, editor, and updater never shell out or import go-git themselves.
package vcs

import (
	"context"
	"errors"
)

// ErrNotARepository is returned when the configured path is not inside a
// Git working tree.
var ErrNotARepository = errors.New("not a git repository")

// VCS is the set of version-control operations the signing-event engine,
// offline editor, and online updater need: finding the repository root,
// diffing a signing-event branch against its base, materializing a branch
// into a scratch worktree for inspection, and publishing a commit.
type VCS interface {
	// Toplevel returns the absolute path to the working tree root.
	Toplevel(ctx context.Context) (string, error)
	// MergeBase returns the best common ancestor commit of a and b.
	MergeBase(ctx context.Context, a, b string) (string, error)
	// CloneTo materializes sha into a fresh working tree at path.
	CloneTo(ctx context.Context, path, sha string) error
	// Add stages paths for the next commit.
	Add(ctx context.Context, paths ...string) error
	// Commit records a commit of the current index with message.
	Commit(ctx context.Context, message string) error
	// Push updates ref on remote from the local ref of the same name.
	Push(ctx context.Context, remote, ref string) error
	// ShowCurrentBranch returns the name of the checked-out branch.
	ShowCurrentBranch(ctx context.Context) (string, error)
	// ChangedFiles returns paths that differ between since and the HEAD
	// commit; uncommitted changes in the working tree are not included.
	ChangedFiles(ctx context.Context, since string) ([]string, error)
}
