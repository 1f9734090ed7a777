// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package repostore

import "errors"

// ErrRoleMissing mirrors tuf.ErrRoleMissing for the store layer: a
// non-online role file is absent and the store has no skeleton to hand
// back, unlike snapshot/timestamp which default to an empty v0 payload.
var ErrRoleMissing = errors.New("role metadata file is missing")
