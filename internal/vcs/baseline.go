// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package vcs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// MetadataDirName is where TUF metadata lives relative to the repository
// root.
const MetadataDirName = "metadata"

// BaselineDir materializes the known-good baseline for the current signing
// event: the merge-base of baseRef (usually origin/main) and HEAD, checked
// out into scratchDir. It returns the metadata directory inside that
// checkout, ready to hand to the repository store. The engine never cares
// how the baseline came to be on disk; this is the one place that knows it
// comes from Git.
func BaselineDir(ctx context.Context, v VCS, baseRef, scratchDir string) (string, error) {
	sha, err := v.MergeBase(ctx, baseRef, "HEAD")
	if err != nil {
		return "", fmt.Errorf("finding merge base with %s: %w", baseRef, err)
	}

	slog.Debug(fmt.Sprintf("Materializing known-good revision %s", sha))
	if err := v.CloneTo(ctx, scratchDir, sha); err != nil {
		return "", err
	}

	return filepath.Join(scratchDir, MetadataDirName), nil
}
