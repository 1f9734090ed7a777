// Copyright The gittuf Authors
// SPDX-License-Identifier: Apache-2.0

package repostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventStateInvites(t *testing.T) {
	state := &EventState{}

	state.AddInvite("@bob", "root")
	state.AddInvite("@bob", "targets")
	state.AddInvite("@bob", "root") // duplicate, no-op
	state.AddInvite("@carol", "root")

	assert.Equal(t, []string{"root", "targets"}, state.InvitedRoles("@bob"))
	assert.Equal(t, []string{"@bob", "@carol"}, state.InviteesFor("root"))
	assert.True(t, state.HasInviteFor([]string{"root"}))
	assert.False(t, state.HasInviteFor([]string{"npm"}))

	state.RemoveInvite("@bob", "root")
	assert.Equal(t, []string{"targets"}, state.InvitedRoles("@bob"))

	state.RemoveInvite("@bob", "targets")
	assert.Empty(t, state.InvitedRoles("@bob"))
	assert.NotContains(t, state.Invites, "@bob")

	state.RemoveInvite("@carol", "root")
	assert.True(t, state.Empty())
}
