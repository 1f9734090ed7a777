// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package offlineeditor

import "errors"

var (
	// ErrAbortEdit is the sentinel an edit callback returns to leave the
	// role exactly as it was: no version bump, no write.
	ErrAbortEdit = errors.New("edit aborted")

	// ErrOnlineRole is returned when an offline-editor operation is asked
	// to configure snapshot or timestamp; those are managed through
	// OnlineConfig on root and written by the online updater.
	ErrOnlineRole = errors.New("online roles are not configured through the offline editor")

	// ErrScopeClosed is returned when Commit is called on a Scope that has
	// already been committed or aborted.
	ErrScopeClosed = errors.New("edit scope already committed or aborted")
)
