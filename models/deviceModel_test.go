package models

import (
	"errors"
	"testing"
	"time"

	"github.com/smiley16479/music-room-sub004/apperr"
)

const (
	ownerID   = uint(1)
	granteeID = uint(2)
	otherID   = uint(3)
)

func delegatedDevice(perms Permissions, expiresIn time.Duration) *Device {
	d := &Device{OwnerID: ownerID, Status: StatusOnline}
	now := time.Now()
	d.ApplyDelegation(granteeID, now, now.Add(expiresIn), perms)
	return d
}

func boolPtr(v bool) *bool {
	return &v
}

func TestOwnerMayIssueAnyCommand(t *testing.T) {
	// Owner keeps full control even with a zero-permission delegation live.
	d := delegatedDevice(Permissions{
		CanPlay:           boolPtr(false),
		CanPause:          boolPtr(false),
		CanSkip:           boolPtr(false),
		CanChangeVolume:   boolPtr(false),
		CanChangePlaylist: boolPtr(false),
	}, time.Hour)

	actions := []string{
		ActionPlay, ActionPause, ActionSkip, ActionPrevious,
		ActionSetVolume, ActionSeek, ActionSetShuffle, ActionSetRepeat,
	}
	for _, action := range actions {
		if err := d.AuthorizeCommand(ownerID, action, time.Now()); err != nil {
			t.Errorf("owner %s: got %v, want nil", action, err)
		}
	}
}

func TestGranteePermissionMapping(t *testing.T) {
	cases := []struct {
		action string
		perms  Permissions
	}{
		{ActionPlay, Permissions{CanPlay: boolPtr(false)}},
		{ActionSeek, Permissions{CanPlay: boolPtr(false)}},
		{ActionPause, Permissions{CanPause: boolPtr(false)}},
		{ActionSkip, Permissions{CanSkip: boolPtr(false)}},
		{ActionPrevious, Permissions{CanSkip: boolPtr(false)}},
		{ActionSetVolume, Permissions{CanChangeVolume: boolPtr(false)}},
		{ActionSetShuffle, Permissions{}}, // canChangePlaylist defaults false
		{ActionSetRepeat, Permissions{}},
	}

	for _, tc := range cases {
		d := delegatedDevice(tc.perms, time.Hour)
		err := d.AuthorizeCommand(granteeID, tc.action, time.Now())
		if !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("%s with flag off: got %v, want Forbidden", tc.action, err)
		}
	}
}

func TestGranteeAllowedWithFlagOn(t *testing.T) {
	d := delegatedDevice(Permissions{CanChangePlaylist: boolPtr(true)}, time.Hour)

	actions := []string{
		ActionPlay, ActionPause, ActionSkip, ActionPrevious,
		ActionSetVolume, ActionSeek, ActionSetShuffle, ActionSetRepeat,
	}
	for _, action := range actions {
		if err := d.AuthorizeCommand(granteeID, action, time.Now()); err != nil {
			t.Errorf("grantee %s: got %v, want nil", action, err)
		}
	}
}

func TestExpiredDelegationRejectedLazily(t *testing.T) {
	// Expiry in the past must be enough to reject, no sweep required.
	d := delegatedDevice(Permissions{}, -time.Minute)

	err := d.AuthorizeCommand(granteeID, ActionPlay, time.Now())
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expired grantee play: got %v, want Forbidden", err)
	}
	if d.HasActiveDelegation(time.Now()) {
		t.Error("HasActiveDelegation = true for expired delegation")
	}
}

func TestUnrelatedUserGetsNotFound(t *testing.T) {
	d := delegatedDevice(Permissions{}, time.Hour)

	err := d.AuthorizeCommand(otherID, ActionPlay, time.Now())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unrelated user: got %v, want NotFound", err)
	}
}

func TestUnknownActionIsInvalid(t *testing.T) {
	d := delegatedDevice(Permissions{}, time.Hour)

	err := d.AuthorizeCommand(granteeID, "eject", time.Now())
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("unknown action: got %v, want InvalidArgument", err)
	}
}

func TestDefaultPermissions(t *testing.T) {
	d := delegatedDevice(Permissions{}, time.Hour)

	if !d.CanPlay || !d.CanPause || !d.CanSkip || !d.CanChangeVolume {
		t.Error("play/pause/skip/volume should default to true")
	}
	if d.CanChangePlaylist {
		t.Error("canChangePlaylist should default to false")
	}
}

func TestPermissionOverrides(t *testing.T) {
	d := delegatedDevice(Permissions{
		CanSkip:           boolPtr(false),
		CanChangePlaylist: boolPtr(true),
	}, time.Hour)

	if d.CanSkip {
		t.Error("CanSkip override to false ignored")
	}
	if !d.CanChangePlaylist {
		t.Error("CanChangePlaylist override to true ignored")
	}
	if !d.CanPlay {
		t.Error("unset CanPlay should keep its default")
	}
}

func TestExtendAddsToCurrentExpiry(t *testing.T) {
	d := delegatedDevice(Permissions{}, 23*time.Hour)
	oldExpiry := *d.DelegationExpiresAt

	newExpiry := d.ExtendDelegation(2)

	want := oldExpiry.Add(2 * time.Hour)
	if !newExpiry.Equal(want) {
		t.Errorf("new expiry = %v, want %v", newExpiry, want)
	}
	if newExpiry.Before(oldExpiry) {
		t.Error("extend decreased the expiry")
	}
}

func TestClearDelegation(t *testing.T) {
	d := delegatedDevice(Permissions{CanChangePlaylist: boolPtr(true)}, time.Hour)
	d.ClearDelegation()

	if d.GranteeID != nil || d.GrantedAt != nil || d.DelegationExpiresAt != nil {
		t.Error("delegation fields not cleared")
	}
	if d.CanPlay || d.CanPause || d.CanSkip || d.CanChangeVolume || d.CanChangePlaylist {
		t.Error("permission flags not cleared")
	}
	if d.HasActiveDelegation(time.Now()) {
		t.Error("HasActiveDelegation = true after clear")
	}
}

func TestDelegationTimeLeft(t *testing.T) {
	d := delegatedDevice(Permissions{}, time.Hour)
	now := time.Now()

	left := d.DelegationTimeLeft(now)
	if left <= 0 || left > time.Hour {
		t.Errorf("time left = %v, want (0, 1h]", left)
	}

	d.ClearDelegation()
	if d.DelegationTimeLeft(now) != 0 {
		t.Error("time left should be zero without a delegation")
	}
}

func TestRevokeInitiator(t *testing.T) {
	now := time.Now()

	d := delegatedDevice(Permissions{}, time.Hour)
	if got, err := d.RevokeInitiator(ownerID, now); err != nil || got != "owner" {
		t.Errorf("owner revoke = %q, %v, want owner, nil", got, err)
	}
	if got, err := d.RevokeInitiator(granteeID, now); err != nil || got != "grantee" {
		t.Errorf("grantee revoke = %q, %v, want grantee, nil", got, err)
	}
	if _, err := d.RevokeInitiator(otherID, now); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("unrelated revoke: got %v, want Forbidden", err)
	}

	// Expired delegations count as gone: not even the owner can revoke one,
	// the sweep clears the row.
	expired := delegatedDevice(Permissions{}, -time.Minute)
	if _, err := expired.RevokeInitiator(ownerID, now); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("owner revoke of expired delegation: got %v, want NotFound", err)
	}
	if _, err := expired.RevokeInitiator(granteeID, now); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("grantee revoke of expired delegation: got %v, want NotFound", err)
	}

	none := &Device{OwnerID: ownerID}
	if _, err := none.RevokeInitiator(ownerID, now); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("revoke with no delegation: got %v, want NotFound", err)
	}
}

func TestRelationTo(t *testing.T) {
	d := delegatedDevice(Permissions{}, -time.Minute)

	if got := d.RelationTo(ownerID); got != RelationOwner {
		t.Errorf("owner relation = %q", got)
	}
	// Expired grantees still have a relation; only authorization is denied.
	if got := d.RelationTo(granteeID); got != RelationGrantee {
		t.Errorf("grantee relation = %q", got)
	}
	if got := d.RelationTo(otherID); got != RelationNone {
		t.Errorf("unrelated relation = %q", got)
	}
}
