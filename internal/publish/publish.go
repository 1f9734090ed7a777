// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

// Package publish emits the consistent-snapshot distribution tree: every
// metadata file reachable under a version-qualified name, plus one copy of
// each target file per declared hash. Publishing refuses stale or
// over-extended metadata outright — freshness problems that status merely
// reports are fatal here.
package publish

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gittuf/tuf-on-git/internal/clock"
	"github.com/gittuf/tuf-on-git/internal/repostore"
	"github.com/gittuf/tuf-on-git/internal/tuf"
)

// ErrMetadataExpired is returned when a role's expiry has passed; the
// repository must be resigned before it can be published.
var ErrMetadataExpired = errors.New("metadata has expired")

// Publisher writes distribution trees for one repository store.
type Publisher struct {
	store *repostore.Store
	clock clock.Clock
}

// New returns a Publisher over store.
func New(store *repostore.Store, clk clock.Clock) *Publisher {
	return &Publisher{store: store, clock: clk}
}

// Publish writes the versioned repository layout under outDir:
//
//	<out>/metadata/<v>.root.json        every version in root_history
//	<out>/metadata/<v>.snapshot.json    current snapshot
//	<out>/metadata/timestamp.json
//	<out>/metadata/<v>.<role>.json      every role snapshot lists
//	<out>/targets/<parent>/<hash>.<name>
func (p *Publisher) Publish(outDir string) error {
	if err := p.checkFreshness(); err != nil {
		return err
	}

	metadataOut := filepath.Join(outDir, "metadata")
	if err := os.MkdirAll(metadataOut, 0o755); err != nil {
		return err
	}

	versions, err := p.store.RootHistoryVersions()
	if err != nil {
		return err
	}
	for _, version := range versions {
		data, err := p.store.RootHistoryBytes(version)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(metadataOut, fmt.Sprintf("%d.root.json", version)), data, 0o644); err != nil {
			return err
		}
	}

	snapshot, err := p.store.OpenRole(tuf.RoleSnapshot)
	if err != nil {
		return err
	}
	snapshotBytes, err := p.store.ReadRoleBytes(tuf.RoleSnapshot)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(metadataOut, fmt.Sprintf("%d.snapshot.json", snapshot.Version())), snapshotBytes, 0o644); err != nil {
		return err
	}

	timestampBytes, err := p.store.ReadRoleBytes(tuf.RoleTimestamp)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(metadataOut, "timestamp.json"), timestampBytes, 0o644); err != nil {
		return err
	}

	for filename, entry := range snapshot.Snapshot.Signed.Meta {
		role := filename[:len(filename)-len(".json")]
		data, err := p.store.ReadRoleBytes(role)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(metadataOut, fmt.Sprintf("%d.%s", entry.Version, filename)), data, 0o644); err != nil {
			return err
		}
	}

	return p.publishTargets(outDir, snapshot)
}

// publishTargets copies each declared target into the output tree once per
// declared hash, under <parent>/<hash>.<name>.
func (p *Publisher) publishTargets(outDir string, snapshot *tuf.Any) error {
	targetsDir := p.store.TargetsDir()

	for filename := range snapshot.Snapshot.Signed.Meta {
		role := filename[:len(filename)-len(".json")]
		md, err := p.store.OpenRole(role)
		if err != nil {
			return err
		}
		if md.Kind != tuf.KindTargets {
			continue
		}

		for targetPath, info := range md.Targets.Signed.Targets {
			data, err := os.ReadFile(filepath.Join(targetsDir, filepath.FromSlash(targetPath)))
			if err != nil {
				return fmt.Errorf("reading target %s: %w", targetPath, err)
			}

			parent, name := filepath.Split(filepath.FromSlash(targetPath))
			destDir := filepath.Join(outDir, "targets", parent)
			if err := os.MkdirAll(destDir, 0o755); err != nil {
				return err
			}
			for _, digest := range info.Hashes {
				dest := filepath.Join(destDir, digest+"."+name)
				if err := os.WriteFile(dest, data, 0o644); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// checkFreshness refuses to publish any role that has expired or whose
// expiry overshoots its own declared expiry period.
func (p *Publisher) checkFreshness() error {
	roles, err := p.store.ListRoles()
	if err != nil {
		return err
	}

	now := p.clock.Now()
	for _, role := range roles {
		md, err := p.store.OpenRole(role)
		if err != nil {
			return err
		}
		expires, err := md.Expires()
		if err != nil {
			return fmt.Errorf("%s: %w", role, err)
		}
		if !expires.After(now) {
			return fmt.Errorf("%w: %s expired %s", ErrMetadataExpired, role, expires.Format(time.RFC3339))
		}
		if days := md.ExpiryPeriodDays(); days > 0 {
			horizon := now.Add(time.Duration(days) * 24 * time.Hour)
			if expires.After(horizon.Add(time.Minute)) {
				return fmt.Errorf("%w: %s expires %s, beyond its %d day period", tuf.ErrExpiryTooFar, role, expires.Format(time.RFC3339), days)
			}
		}
	}
	return nil
}
