package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smiley16479/music-room-sub004/apperr"
	"github.com/smiley16479/music-room-sub004/inits"
	"github.com/smiley16479/music-room-sub004/models"
	"github.com/smiley16479/music-room-sub004/realtime"
)

const defaultDelegationHours = 24

// delegationClearColumns is the column set a delegation clear writes. Both
// the revoke handler and the expiry sweep issue it as a conditional update
// so that whichever writer loses the race sees zero rows affected and skips
// the notification.
func delegationClearColumns() map[string]interface{} {
	return map[string]interface{}{
		"grantee_id":            nil,
		"granted_at":            nil,
		"delegation_expires_at": nil,
		"can_play":              false,
		"can_pause":             false,
		"can_skip":              false,
		"can_change_volume":     false,
		"can_change_playlist":   false,
	}
}

// DelegateControl grants temporary control of a device to another user.
func DelegateControl(c *gin.Context) {
	var input struct {
		GranteeName string             `json:"granteeName" binding:"required"`
		ExpiresAt   *time.Time         `json:"expiresAt"`
		Permissions models.Permissions `json:"permissions"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, err := GetValidUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
		return
	}

	device, err := fetchDeviceForViewer(c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if device.OwnerID != userID {
		respondError(c, apperr.Forbidden("only the owner can delegate control"))
		return
	}

	var grantee models.User
	if err := inits.DB.Where("name = ?", input.GranteeName).First(&grantee).Error; err != nil {
		respondError(c, apperr.NotFound("grantee user not found"))
		return
	}

	if grantee.ID == userID {
		respondError(c, apperr.Conflict("you cannot delegate control to yourself"))
		return
	}

	now := time.Now()
	if device.HasActiveDelegation(now) {
		respondError(c, apperr.Conflict("device already has an active delegation, revoke it first"))
		return
	}

	expiresAt := now.Add(defaultDelegationHours * time.Hour)
	if input.ExpiresAt != nil {
		if !input.ExpiresAt.After(now) {
			respondError(c, apperr.Invalid("expiresAt must be in the future"))
			return
		}
		expiresAt = *input.ExpiresAt
	}

	device.ApplyDelegation(grantee.ID, now, expiresAt, input.Permissions)
	if err := inits.DB.Save(device).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save delegation"})
		return
	}

	info := device.DelegationInfo()
	realtime.Publish(realtime.DeviceRoom(device.ID), "control-delegated", info)
	realtime.Publish(realtime.UserRoom(grantee.ID), "control-delegated", info)

	c.JSON(http.StatusOK, gin.H{"delegation": info})
}

// RevokeControl ends a delegation. The owner or the current grantee may
// revoke; revoking with no active delegation fails rather than no-op, and
// an expired-but-unswept delegation counts as already gone.
func RevokeControl(c *gin.Context) {
	userID, err := GetValidUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
		return
	}

	device, err := fetchDeviceForViewer(c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	initiator, err := device.RevokeInitiator(userID, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	granteeID := *device.GranteeID

	// Conditional clear, same guard as the expiry sweep: if the sweep got
	// there first it already notified, so this revoke must not fire again.
	res := inits.DB.Model(&models.Device{}).
		Where("id = ? AND grantee_id IS NOT NULL", device.ID).
		Updates(delegationClearColumns())
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke delegation"})
		return
	}
	if res.RowsAffected == 0 {
		respondError(c, apperr.NotFound("no active delegation"))
		return
	}
	device.ClearDelegation()

	payload := gin.H{
		"deviceId":  device.ID,
		"granteeId": granteeID,
		"initiator": initiator,
	}
	realtime.Publish(realtime.DeviceRoom(device.ID), "control-revoked", payload)
	realtime.Publish(realtime.UserRoom(granteeID), "control-revoked", payload)

	c.JSON(http.StatusOK, gin.H{"device": device})
}

// ExtendControl adds hours to the current delegation's expiry. Owner-only.
// The extension is relative to the current expiry, not to now, so it never
// shortens an already-extended grant.
func ExtendControl(c *gin.Context) {
	var input struct {
		Hours int `json:"hours" binding:"required"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, err := GetValidUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
		return
	}

	if input.Hours <= 0 {
		respondError(c, apperr.Invalid("hours must be positive"))
		return
	}

	device, err := fetchDeviceForViewer(c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if device.OwnerID != userID {
		respondError(c, apperr.Forbidden("only the owner can extend a delegation"))
		return
	}

	if !device.HasActiveDelegation(time.Now()) {
		respondError(c, apperr.NotFound("no active delegation"))
		return
	}

	newExpiry := device.ExtendDelegation(input.Hours)
	if err := inits.DB.Save(device).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to extend delegation"})
		return
	}

	payload := gin.H{
		"deviceId":  device.ID,
		"granteeId": *device.GranteeID,
		"expiresAt": newExpiry,
	}
	realtime.Publish(realtime.DeviceRoom(device.ID), "delegation-extended", payload)
	realtime.Publish(realtime.UserRoom(*device.GranteeID), "delegation-extended", payload)

	c.JSON(http.StatusOK, gin.H{"device": device})
}
