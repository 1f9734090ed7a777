// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package signingevent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/gittuf/tuf-on-git/internal/repostore"
	"github.com/gittuf/tuf-on-git/internal/tuf"
)

// ChangeKind classifies one target-file transition detected between the
// targets-on-disk tree and the metadata that is supposed to describe it.
type ChangeKind int

const (
	TargetAdded ChangeKind = iota
	TargetModified
	TargetRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case TargetAdded:
		return "ADDED"
	case TargetModified:
		return "MODIFIED"
	default:
		return "REMOVED"
	}
}

// TargetChange is one detected transition: the responsible role, the
// target path relative to the targets directory, and what happened to it.
type TargetChange struct {
	Role tuf.RoleName
	Path string
	Kind ChangeKind
}

// ComputeTargetChanges diffs the targets-on-disk tree against the targets
// metadata without writing anything. Each file is attributed to the first
// delegated role whose path patterns match it, falling back to the
// top-level targets role.
func (e *Engine) ComputeTargetChanges() ([]TargetChange, error) {
	onDisk, err := e.scanTargetsDir()
	if err != nil {
		return nil, err
	}

	targetsMD, err := e.store.OpenRole(tuf.RoleTargets)
	if err != nil {
		if errors.Is(err, repostore.ErrRoleMissing) {
			targetsMD = tuf.NewAny(tuf.KindTargets)
		} else {
			return nil, err
		}
	}

	desired := e.partitionByRole(targetsMD, onDisk)

	var changes []TargetChange
	roleNames := make([]tuf.RoleName, 0, len(desired))
	for role := range desired {
		roleNames = append(roleNames, role)
	}
	for _, role := range targetsMD.DelegationNames() {
		if _, ok := desired[role]; !ok {
			roleNames = append(roleNames, role)
		}
	}
	if _, ok := desired[tuf.RoleTargets]; !ok {
		roleNames = append(roleNames, tuf.RoleTargets)
	}
	sort.Strings(roleNames)

	for _, role := range roleNames {
		current := map[string]tuf.TargetFileInfo{}
		if md, err := e.store.OpenRole(role); err == nil && md.Kind == tuf.KindTargets {
			current = md.Targets.Signed.Targets
		} else if err != nil && !errors.Is(err, repostore.ErrRoleMissing) {
			return nil, err
		}

		want := desired[role]
		for path, info := range want {
			have, ok := current[path]
			switch {
			case !ok:
				changes = append(changes, TargetChange{Role: role, Path: path, Kind: TargetAdded})
			case !sameTargetInfo(have, info):
				changes = append(changes, TargetChange{Role: role, Path: path, Kind: TargetModified})
			}
		}
		for path := range current {
			if _, ok := want[path]; !ok {
				changes = append(changes, TargetChange{Role: role, Path: path, Kind: TargetRemoved})
			}
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Role != changes[j].Role {
			return changes[i].Role < changes[j].Role
		}
		return changes[i].Path < changes[j].Path
	})
	return changes, nil
}

// UpdateTargets reconciles targets metadata with the targets-on-disk tree:
// every affected role is brought up to date under an edit scope, and the
// applied transitions are returned.
func (e *Engine) UpdateTargets(ctx context.Context) ([]TargetChange, error) {
	changes, err := e.ComputeTargetChanges()
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, nil
	}

	onDisk, err := e.scanTargetsDir()
	if err != nil {
		return nil, err
	}
	targetsMD, err := e.store.OpenRole(tuf.RoleTargets)
	if err != nil {
		return nil, err
	}
	desired := e.partitionByRole(targetsMD, onDisk)

	touched := map[tuf.RoleName]bool{}
	for _, change := range changes {
		slog.Debug(fmt.Sprintf("Target %s: %s (%s)", change.Kind, change.Path, change.Role))
		touched[change.Role] = true
	}

	for role := range touched {
		want := desired[role]
		if want == nil {
			want = map[string]tuf.TargetFileInfo{}
		}
		if _, err := e.editor.Edit(ctx, role, func(md *tuf.Any) error {
			md.Targets.Signed.Targets = want
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return changes, nil
}

// scanTargetsDir hashes every file under the targets directory, keyed by
// its slash-separated path relative to that directory. A missing targets
// directory is an empty tree, not an error.
func (e *Engine) scanTargetsDir() (map[string]tuf.TargetFileInfo, error) {
	targetsDir := e.store.TargetsDir()
	files := map[string]tuf.TargetFileInfo{}

	err := filepath.WalkDir(targetsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(targetsDir, path)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		files[filepath.ToSlash(rel)] = tuf.TargetFileInfo{
			Length: int64(len(data)),
			Hashes: map[string]string{"sha256": hex.EncodeToString(sum[:])},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// partitionByRole attributes each on-disk target to the first delegation
// whose patterns match, or the top-level targets role when none do.
func (e *Engine) partitionByRole(targetsMD *tuf.Any, onDisk map[string]tuf.TargetFileInfo) map[tuf.RoleName]map[string]tuf.TargetFileInfo {
	desired := map[tuf.RoleName]map[string]tuf.TargetFileInfo{}

	var delegations []tuf.Delegation
	if targetsMD.Targets.Signed.Delegations != nil {
		delegations = targetsMD.Targets.Signed.Delegations.Roles
	}

	for path, info := range onDisk {
		role := tuf.RoleTargets
		for _, d := range delegations {
			if d.Matches(path) {
				role = d.Name
				break
			}
		}
		if desired[role] == nil {
			desired[role] = map[string]tuf.TargetFileInfo{}
		}
		desired[role][path] = info
	}
	return desired
}

func sameTargetInfo(a, b tuf.TargetFileInfo) bool {
	if a.Length != b.Length || len(a.Hashes) != len(b.Hashes) {
		return false
	}
	for alg, digest := range a.Hashes {
		if b.Hashes[alg] != digest {
			return false
		}
	}
	return true
}
