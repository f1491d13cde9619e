package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelegationIsLive(t *testing.T) {
	now := time.Now()
	d := PermissionDelegation{
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
	}

	require.True(t, d.IsLive(now))
	require.True(t, d.IsLive(d.ValidFrom))
	require.False(t, d.IsLive(d.ValidUntil), "upper bound is exclusive")
	require.False(t, d.IsLive(now.Add(-2*time.Hour)))

	revoked := now
	d.RevokedAt = &revoked
	require.False(t, d.IsLive(now))
	require.False(t, d.IsLive(now.Add(-30*time.Minute)))
}

func TestDelegationMatchesResource(t *testing.T) {
	unscoped := PermissionDelegation{}
	require.True(t, unscoped.MatchesResource("order", "abc"))

	resType := "order"
	typed := PermissionDelegation{ResourceType: &resType}
	require.True(t, typed.MatchesResource("order", "abc"))
	require.False(t, typed.MatchesResource("shipment", "abc"))

	resID := "abc"
	pinned := PermissionDelegation{ResourceType: &resType, ResourceID: &resID}
	require.True(t, pinned.MatchesResource("order", "abc"))
	require.False(t, pinned.MatchesResource("order", "def"))
}

func TestOrganizationPermissionExpired(t *testing.T) {
	now := time.Now()

	open := OrganizationPermission{}
	require.False(t, open.Expired(now))

	past := now.Add(-time.Minute)
	expired := OrganizationPermission{ExpiresAt: &past}
	require.True(t, expired.Expired(now))

	future := now.Add(time.Minute)
	live := OrganizationPermission{ExpiresAt: &future}
	require.False(t, live.Expired(now))
}

func TestMembershipRoleKeysRoundTrip(t *testing.T) {
	var m OrganizationMembership
	require.Nil(t, m.RoleKeys())

	require.NoError(t, m.SetRoleKeys([]string{"manager", "member"}))
	require.Equal(t, []string{"manager", "member"}, m.RoleKeys())
}

func TestComputePendingKey(t *testing.T) {
	a := ComputePendingKey("u1", "p1", "order", "o1")
	b := ComputePendingKey("u1", "p1", "order", "o2")
	require.NotEqual(t, a, b)
	require.Equal(t, a, ComputePendingKey("u1", "p1", "order", "o1"))
}
