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

func respondError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
}

// fetchDeviceForViewer loads a device, hiding its existence from users with
// no relation to it.
func fetchDeviceForViewer(deviceID string, userID uint) (*models.Device, error) {
	var device models.Device
	if err := inits.DB.First(&device, "id = ?", deviceID).Error; err != nil {
		return nil, apperr.NotFound("device not found")
	}
	if device.RelationTo(userID) == models.RelationNone {
		return nil, apperr.NotFound("device not found")
	}
	return &device, nil
}

// CreateDevice registers a new playback device for the caller.
func CreateDevice(c *gin.Context) {
	var input struct {
		Name      string `json:"name" binding:"required"`
		Type      string `json:"type"`
		ClientTag string `json:"clientTag"`
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

	if input.Type == "" {
		input.Type = models.DeviceTypeOther
	}
	if !models.ValidDeviceType(input.Type) {
		respondError(c, apperr.Invalid("unknown device type"))
		return
	}

	// Device names are unique per owner
	var existing models.Device
	if err := inits.DB.Where("owner_id = ? AND name = ?", userID, input.Name).First(&existing).Error; err == nil {
		respondError(c, apperr.Conflict("you already have a device with this name"))
		return
	}

	device := models.Device{
		Name:      input.Name,
		OwnerID:   userID,
		Type:      input.Type,
		Status:    models.StatusOffline,
		ClientTag: input.ClientTag,
	}

	if err := inits.DB.Create(&device).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"device": device})
}

// GetDevices lists devices the caller owns plus devices delegated to them.
func GetDevices(c *gin.Context) {
	userID, err := GetValidUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
		return
	}

	var devices []models.Device
	if err := inits.DB.
		Where("owner_id = ? OR (grantee_id = ? AND delegation_expires_at > ?)", userID, userID, time.Now()).
		Find(&devices).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch devices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// GetDevice returns a device together with its derived presence stats.
func GetDevice(c *gin.Context) {
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

	now := time.Now()
	sessions := realtime.SessionsFor(device.ID)
	presence := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		presence = append(presence, gin.H{
			"connId":     s.ConnID,
			"userId":     s.UserID,
			"clientTag":  s.ClientTag,
			"lastActive": s.LastActive,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"device":             device,
		"isOnline":           device.Status != models.StatusOffline,
		"isDelegated":        device.HasActiveDelegation(now),
		"delegationTimeLeft": int64(device.DelegationTimeLeft(now).Seconds()),
		"connectionCount":    len(sessions),
		"sessions":           presence,
	})
}

// UpdateDevice lets the owner change device metadata.
func UpdateDevice(c *gin.Context) {
	var input struct {
		Name string `json:"name"`
		Type string `json:"type"`
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
		respondError(c, apperr.Forbidden("only the owner can update a device"))
		return
	}

	if input.Type != "" && !models.ValidDeviceType(input.Type) {
		respondError(c, apperr.Invalid("unknown device type"))
		return
	}
	if input.Name != "" && input.Name != device.Name {
		var existing models.Device
		if err := inits.DB.Where("owner_id = ? AND name = ?", userID, input.Name).First(&existing).Error; err == nil {
			respondError(c, apperr.Conflict("you already have a device with this name"))
			return
		}
		device.Name = input.Name
	}
	if input.Type != "" {
		device.Type = input.Type
	}

	if err := inits.DB.Save(device).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update device"})
		return
	}

	realtime.Publish(realtime.DeviceRoom(device.ID), "device-updated", gin.H{
		"deviceId": device.ID,
		"name":     device.Name,
		"type":     device.Type,
	})

	c.JSON(http.StatusOK, gin.H{"device": device})
}

// DeleteDevice removes a device. Any active delegation is revoked and every
// live session of the device is force-disconnected.
func DeleteDevice(c *gin.Context) {
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
		respondError(c, apperr.Forbidden("only the owner can delete a device"))
		return
	}

	// Clear the delegation before the device goes away so the grantee is
	// told even though the device room is about to close. An expired-but-
	// unswept delegation is already gone and nobody is notified for it.
	if device.HasActiveDelegation(time.Now()) {
		granteeID := *device.GranteeID
		device.ClearDelegation()
		realtime.Publish(realtime.UserRoom(granteeID), "control-revoked", gin.H{
			"deviceId":  device.ID,
			"granteeId": granteeID,
			"initiator": "owner",
		})
	}

	realtime.CloseRoom(realtime.DeviceRoom(device.ID), "forced-disconnect", gin.H{
		"deviceId": device.ID,
		"reason":   "device deleted",
	})
	realtime.DropDevice(device.ID)

	if err := inits.DB.Unscoped().Delete(device).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete device"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Device deleted"})
}
