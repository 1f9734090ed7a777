// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

// Package repostore is the repository store: it owns the on-disk metadata
// directory layout and the event-state file, and is the only package that
// reads or writes files in the metadata directory. There is no in-process
// cache; every
// operation re-reads, since a signing event is a short, human-timescale
// interaction.
package repostore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gittuf/tuf-on-git/internal/tuf"
)

const eventStateFilename = ".signing-event-state"

// EventState is the persisted contents of .signing-event-state: the set of
// pending invitations, keyed by invited identity, to the roles that
// identity is invited to sign.
type EventState struct {
	Invites map[string][]string `json:"invites"`
}

// Empty reports whether the event state has nothing worth persisting.
func (s *EventState) Empty() bool {
	return s == nil || len(s.Invites) == 0
}

// Store is a handle on a metadata directory, and optionally a baseline
// directory pointing at the last good revision (used by the signing-event
// engine to diff against).
type Store struct {
	metadataDir string
	baselineDir string
}

// Open returns a Store rooted at metadataDir, with baselineDir ("" if
// none) as the comparison revision.
func Open(metadataDir, baselineDir string) *Store {
	return &Store{metadataDir: metadataDir, baselineDir: baselineDir}
}

func rolePath(dir, role tuf.RoleName) string {
	return filepath.Join(dir, role+".json")
}

// OpenRole returns role's current metadata. For snapshot/timestamp, an
// absent file yields an empty version-0 skeleton rather than an error;
// any other missing role is ErrRoleMissing.
func (s *Store) OpenRole(role tuf.RoleName) (*tuf.Any, error) {
	return openFrom(s.metadataDir, role)
}

// OpenBaseline returns role's metadata as of the baseline revision, and
// false if there is no baseline directory configured or the role has no
// file there.
func (s *Store) OpenBaseline(role tuf.RoleName) (*tuf.Any, bool, error) {
	if s.baselineDir == "" {
		return nil, false, nil
	}
	if _, err := os.Stat(rolePath(s.baselineDir, role)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	md, err := openFrom(s.baselineDir, role)
	if err != nil {
		return nil, false, err
	}
	return md, true, nil
}

// BaselineVersion returns role's version in the baseline revision, and
// false if there is none.
func (s *Store) BaselineVersion(role tuf.RoleName) (int, bool, error) {
	md, ok, err := s.OpenBaseline(role)
	if err != nil || !ok {
		return 0, ok, err
	}
	return md.Version(), true, nil
}

func openFrom(dir string, role tuf.RoleName) (*tuf.Any, error) {
	data, err := os.ReadFile(rolePath(dir, role))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			switch role {
			case tuf.RoleSnapshot, tuf.RoleTimestamp:
				return tuf.NewAny(tuf.KindForRole(role)), nil
			default:
				return nil, fmt.Errorf("%w: %s", ErrRoleMissing, role)
			}
		}
		return nil, err
	}

	return tuf.ParseAny(tuf.KindForRole(role), data)
}

// Write persists role's envelope under <dir>/<role>.json, atomically. When
// role is root, it additionally appends <dir>/root_history/<version>.root.json,
// since the root chain is append-only and every version is retained.
func (s *Store) Write(role tuf.RoleName, md *tuf.Any) error {
	data, err := md.Serialize()
	if err != nil {
		return err
	}

	if err := writeFileAtomic(s.metadataDir, rolePath(s.metadataDir, role), data); err != nil {
		return err
	}

	if role == tuf.RoleRoot {
		historyDir := filepath.Join(s.metadataDir, "root_history")
		if err := os.MkdirAll(historyDir, 0o755); err != nil {
			return err
		}
		historyPath := filepath.Join(historyDir, fmt.Sprintf("%d.root.json", md.Version()))
		if err := writeFileAtomic(historyDir, historyPath, data); err != nil {
			return err
		}
	}

	return nil
}

// RootHistoryVersions returns every version number present in
// root_history, ascending.
func (s *Store) RootHistoryVersions() ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.metadataDir, "root_history"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	versions := make([]int, 0, len(entries))
	for _, entry := range entries {
		var v int
		if _, err := fmt.Sscanf(entry.Name(), "%d.root.json", &v); err == nil {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions, nil
}

// ListRoles returns the name of every role with a metadata file in the
// metadata directory, sorted, skipping the event-state file and anything
// else that is not a <role>.json.
func (s *Store) ListRoles() ([]tuf.RoleName, error) {
	entries, err := os.ReadDir(s.metadataDir)
	if err != nil {
		return nil, err
	}

	var roles []tuf.RoleName
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		roles = append(roles, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(roles)
	return roles, nil
}

// MetadataDir returns the directory this store reads and writes.
func (s *Store) MetadataDir() string {
	return s.metadataDir
}

// TargetsDir returns the targets-on-disk tree that corresponds to this
// store's metadata directory: a sibling "targets" directory under the same
// repository root.
func (s *Store) TargetsDir() string {
	return filepath.Join(filepath.Dir(s.metadataDir), "targets")
}

// ReadRoleBytes returns the raw on-disk bytes of role's metadata file, for
// byte-level comparison against a baseline.
func (s *Store) ReadRoleBytes(role tuf.RoleName) ([]byte, error) {
	return os.ReadFile(rolePath(s.metadataDir, role))
}

// ReadBaselineBytes returns the raw baseline bytes of role's metadata file
// and false when there is no baseline directory or no file for role there.
func (s *Store) ReadBaselineBytes(role tuf.RoleName) ([]byte, bool, error) {
	if s.baselineDir == "" {
		return nil, false, nil
	}
	data, err := os.ReadFile(rolePath(s.baselineDir, role))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// RootHistoryBytes returns the raw bytes of root_history/<version>.root.json.
func (s *Store) RootHistoryBytes(version int) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.metadataDir, "root_history", fmt.Sprintf("%d.root.json", version)))
}

// LoadEventState reads .signing-event-state, returning an empty EventState
// if the file does not exist (no invitations pending).
func (s *Store) LoadEventState() (*EventState, error) {
	data, err := os.ReadFile(filepath.Join(s.metadataDir, eventStateFilename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &EventState{Invites: map[string][]string{}}, nil
		}
		return nil, err
	}

	var state EventState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", eventStateFilename, err)
	}
	if state.Invites == nil {
		state.Invites = map[string][]string{}
	}
	return &state, nil
}

// SaveEventState writes .signing-event-state, or removes it if state has
// nothing pending; the file is only present when invitations are
// outstanding.
func (s *Store) SaveEventState(state *EventState) error {
	path := filepath.Join(s.metadataDir, eventStateFilename)

	if state.Empty() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.metadataDir, path, data)
}

// writeFileAtomic writes data to path by creating a temp file in dir and
// renaming it into place, so a reader never observes a partially written
// file.
func writeFileAtomic(dir, path string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
