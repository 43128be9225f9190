package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/smiley16479/music-room-sub004/apperr"
)

// Device types.
const (
	DeviceTypePhone        = "phone"
	DeviceTypeTablet       = "tablet"
	DeviceTypeDesktop      = "desktop"
	DeviceTypeSmartSpeaker = "smart_speaker"
	DeviceTypeTV           = "tv"
	DeviceTypeOther        = "other"
)

// Device statuses.
const (
	StatusOffline = "offline"
	StatusOnline  = "online"
	StatusPlaying = "playing"
	StatusPaused  = "paused"
)

// Relation of a user to a device.
const (
	RelationNone    = "none"
	RelationOwner   = "owner"
	RelationGrantee = "grantee"
)

type Device struct {
	gorm.Model
	Name       string `gorm:"index:idx_owner_name,unique"`
	OwnerID    uint   `gorm:"index:idx_owner_name,unique"`
	Owner      User   `gorm:"foreignKey:OwnerID" json:"-"`
	Type       string `gorm:"default:'other'"`
	Status     string `gorm:"default:'offline'"`
	ClientTag  string // client-supplied identifier, usable before the id is known
	LastSeenAt *time.Time

	// Active delegation, if any. A device has at most one.
	GranteeID           *uint
	Grantee             *User `gorm:"foreignKey:GranteeID" json:"-"`
	GrantedAt           *time.Time
	DelegationExpiresAt *time.Time
	CanPlay             bool
	CanPause            bool
	CanSkip             bool
	CanChangeVolume     bool
	CanChangePlaylist   bool
}

// Permissions is the delegation permission set. Nil fields in a grant request
// fall back to the defaults field-by-field.
type Permissions struct {
	CanPlay           *bool `json:"canPlay"`
	CanPause          *bool `json:"canPause"`
	CanSkip           *bool `json:"canSkip"`
	CanChangeVolume   *bool `json:"canChangeVolume"`
	CanChangePlaylist *bool `json:"canChangePlaylist"`
}

// HasActiveDelegation reports whether a non-expired delegation exists. An
// expired-but-not-yet-cleared delegation counts as absent (lazy expiry).
func (d *Device) HasActiveDelegation(now time.Time) bool {
	return d.GranteeID != nil && d.DelegationExpiresAt != nil && d.DelegationExpiresAt.After(now)
}

// DelegationTimeLeft returns the remaining grant duration, zero when none.
func (d *Device) DelegationTimeLeft(now time.Time) time.Duration {
	if !d.HasActiveDelegation(now) {
		return 0
	}
	return d.DelegationExpiresAt.Sub(now)
}

// RelationTo classifies a user against the device. A grantee whose grant has
// expired still counts as grantee here; callers that need the lazy-expiry
// check use HasActiveDelegation or AuthorizeCommand.
func (d *Device) RelationTo(userID uint) string {
	if d.OwnerID == userID {
		return RelationOwner
	}
	if d.GranteeID != nil && *d.GranteeID == userID {
		return RelationGrantee
	}
	return RelationNone
}

// ApplyDelegation sets the delegation fields for a new grant.
func (d *Device) ApplyDelegation(granteeID uint, grantedAt, expiresAt time.Time, perms Permissions) {
	d.GranteeID = &granteeID
	d.GrantedAt = &grantedAt
	d.DelegationExpiresAt = &expiresAt
	d.CanPlay = permOrDefault(perms.CanPlay, true)
	d.CanPause = permOrDefault(perms.CanPause, true)
	d.CanSkip = permOrDefault(perms.CanSkip, true)
	d.CanChangeVolume = permOrDefault(perms.CanChangeVolume, true)
	d.CanChangePlaylist = permOrDefault(perms.CanChangePlaylist, false)
}

// ExtendDelegation pushes the expiry forward from the current expiry, not
// from now, so extending never shortens an already-extended grant.
func (d *Device) ExtendDelegation(hours int) time.Time {
	extended := d.DelegationExpiresAt.Add(time.Duration(hours) * time.Hour)
	d.DelegationExpiresAt = &extended
	return extended
}

// RevokeInitiator returns who userID acts as when revoking the active
// delegation. Lazy expiry applies: an expired delegation is already absent,
// so there is nothing for the caller to revoke and the janitor clears the
// stale row.
func (d *Device) RevokeInitiator(userID uint, now time.Time) (string, error) {
	if !d.HasActiveDelegation(now) {
		return "", apperr.NotFound("no active delegation")
	}
	switch {
	case d.OwnerID == userID:
		return "owner", nil
	case *d.GranteeID == userID:
		return "grantee", nil
	default:
		return "", apperr.Forbidden("only the owner or the grantee can revoke")
	}
}

// ClearDelegation resets every delegation field.
func (d *Device) ClearDelegation() {
	d.GranteeID = nil
	d.GrantedAt = nil
	d.DelegationExpiresAt = nil
	d.CanPlay = false
	d.CanPause = false
	d.CanSkip = false
	d.CanChangeVolume = false
	d.CanChangePlaylist = false
}

// DelegationInfo is the payload shape used in delegation lifecycle events.
func (d *Device) DelegationInfo() map[string]interface{} {
	info := map[string]interface{}{
		"deviceId": d.ID,
		"ownerId":  d.OwnerID,
	}
	if d.GranteeID != nil {
		info["granteeId"] = *d.GranteeID
	}
	if d.GrantedAt != nil {
		info["grantedAt"] = *d.GrantedAt
	}
	if d.DelegationExpiresAt != nil {
		info["expiresAt"] = *d.DelegationExpiresAt
	}
	info["permissions"] = map[string]bool{
		"canPlay":           d.CanPlay,
		"canPause":          d.CanPause,
		"canSkip":           d.CanSkip,
		"canChangeVolume":   d.CanChangeVolume,
		"canChangePlaylist": d.CanChangePlaylist,
	}
	return info
}

// AuthorizeCommand decides whether userID may issue action on this device.
// The owner may issue anything. A grantee needs a non-expired grant and the
// permission flag mapped to the action. Anyone else learns nothing about the
// device: they get the same not-found error as for a missing device.
func (d *Device) AuthorizeCommand(userID uint, action string, now time.Time) error {
	switch d.RelationTo(userID) {
	case RelationOwner:
		return nil
	case RelationGrantee:
		if !d.HasActiveDelegation(now) {
			return apperr.Forbidden("delegation has expired")
		}
		allowed, capability, err := d.permissionFor(action)
		if err != nil {
			return err
		}
		if !allowed {
			return apperr.Forbidden(fmt.Sprintf("missing capability %s", capability))
		}
		return nil
	default:
		return apperr.NotFound("device not found")
	}
}

// permissionFor maps an action to the delegation flag guarding it.
func (d *Device) permissionFor(action string) (bool, string, error) {
	switch action {
	case ActionPlay, ActionSeek:
		return d.CanPlay, "canPlay", nil
	case ActionPause:
		return d.CanPause, "canPause", nil
	case ActionSkip, ActionPrevious:
		return d.CanSkip, "canSkip", nil
	case ActionSetVolume:
		return d.CanChangeVolume, "canChangeVolume", nil
	case ActionSetShuffle, ActionSetRepeat:
		return d.CanChangePlaylist, "canChangePlaylist", nil
	default:
		return false, "", apperr.Invalid(fmt.Sprintf("unknown action %q", action))
	}
}

// ValidDeviceType reports whether t is one of the known device classes.
func ValidDeviceType(t string) bool {
	switch t {
	case DeviceTypePhone, DeviceTypeTablet, DeviceTypeDesktop,
		DeviceTypeSmartSpeaker, DeviceTypeTV, DeviceTypeOther:
		return true
	}
	return false
}

func permOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
