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

// dispatch authorizes and routes one playback command. No retries: a failed
// dispatch surfaces synchronously and the caller retries at the transport
// layer.
func dispatch(c *gin.Context, action string, value interface{}) {
	userID, err := GetValidUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
		return
	}

	var device models.Device
	if err := inits.DB.First(&device, "id = ?", c.Param("id")).Error; err != nil {
		respondError(c, apperr.NotFound("device not found"))
		return
	}

	now := time.Now()
	if err := device.AuthorizeCommand(userID, action, now); err != nil {
		respondError(c, err)
		return
	}

	// Commands are routed to live sessions, never queued for offline devices.
	if device.Status == models.StatusOffline {
		respondError(c, apperr.Unavailable("device is offline"))
		return
	}

	newStatus := ""
	switch action {
	case models.ActionPlay:
		newStatus = models.StatusPlaying
	case models.ActionPause:
		newStatus = models.StatusPaused
	}
	if newStatus != "" && newStatus != device.Status {
		if err := inits.DB.Model(&device).Update("status", newStatus).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update device status"})
			return
		}
		// Status change goes out before the command so controllers never
		// act on a stale state.
		realtime.Publish(realtime.DeviceRoom(device.ID), "device-status-changed", gin.H{
			"deviceId": device.ID,
			"status":   newStatus,
		})
	}

	cmd := models.PlaybackCommand{
		Action:   action,
		Value:    value,
		IssuedBy: userID,
		IssuedAt: now,
	}
	realtime.Publish(realtime.DeviceRoom(device.ID), "playback-command", cmd)

	c.JSON(http.StatusOK, gin.H{"command": cmd})
}

func Play(c *gin.Context) {
	dispatch(c, models.ActionPlay, nil)
}

func Pause(c *gin.Context) {
	dispatch(c, models.ActionPause, nil)
}

func Skip(c *gin.Context) {
	dispatch(c, models.ActionSkip, nil)
}

func Previous(c *gin.Context) {
	dispatch(c, models.ActionPrevious, nil)
}

// SetVolume routes a volume change. Volume is a percentage.
func SetVolume(c *gin.Context) {
	var input struct {
		Volume *int `json:"volume" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "volume is required"})
		return
	}
	if *input.Volume < 0 || *input.Volume > 100 {
		respondError(c, apperr.Invalid("volume must be between 0 and 100"))
		return
	}
	dispatch(c, models.ActionSetVolume, *input.Volume)
}

// Seek routes a position change, in seconds from the start of the track.
func Seek(c *gin.Context) {
	var input struct {
		Position *int `json:"position" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "position is required"})
		return
	}
	if *input.Position < 0 {
		respondError(c, apperr.Invalid("position must not be negative"))
		return
	}
	dispatch(c, models.ActionSeek, *input.Position)
}

func SetShuffle(c *gin.Context) {
	var input struct {
		Shuffle *bool `json:"shuffle" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "shuffle is required"})
		return
	}
	dispatch(c, models.ActionSetShuffle, *input.Shuffle)
}

func SetRepeat(c *gin.Context) {
	var input struct {
		Repeat string `json:"repeat" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "repeat is required"})
		return
	}
	switch input.Repeat {
	case models.RepeatOff, models.RepeatTrack, models.RepeatPlaylist:
	default:
		respondError(c, apperr.Invalid("repeat must be off, track or playlist"))
		return
	}
	dispatch(c, models.ActionSetRepeat, input.Repeat)
}
