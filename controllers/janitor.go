package controllers

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smiley16479/music-room-sub004/inits"
	"github.com/smiley16479/music-room-sub004/models"
	"github.com/smiley16479/music-room-sub004/realtime"
)

const (
	delegationSweepEvery = time.Minute
	staleSweepEvery      = 5 * time.Minute
	staleThreshold       = 5 * time.Minute
)

// StartJanitor launches the background sweeps. They share state with the
// live handlers and use the same locking, just on a timer.
func StartJanitor() {
	go delegationExpirySweeper()
	go staleSessionSweeper()
}

func delegationExpirySweeper() {
	for {
		time.Sleep(delegationSweepEvery)
		count := sweepExpiredDelegations(time.Now())
		if count > 0 {
			log.Printf("Cleared %d expired delegations", count)
		}
	}
}

// sweepExpiredDelegations clears delegations whose expiry has passed and
// notifies as if the owner had revoked, attributed to "system". A bad row
// is logged and skipped so it cannot halt the sweep.
func sweepExpiredDelegations(now time.Time) int {
	var devices []models.Device
	if err := inits.DB.
		Where("grantee_id IS NOT NULL AND delegation_expires_at < ?", now).
		Find(&devices).Error; err != nil {
		log.Println("Delegation sweep query failed:", err)
		return 0
	}

	count := 0
	for _, device := range devices {
		granteeID := *device.GranteeID

		// Conditional clear: if a concurrent revoke already emptied the
		// fields, zero rows match and the notification must not fire again.
		res := inits.DB.Model(&models.Device{}).
			Where("id = ? AND grantee_id IS NOT NULL AND delegation_expires_at < ?", device.ID, now).
			Updates(delegationClearColumns())
		if res.Error != nil {
			log.Printf("Failed to clear delegation for device %d: %v", device.ID, res.Error)
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}

		payload := gin.H{
			"deviceId":  device.ID,
			"granteeId": granteeID,
			"initiator": "system",
		}
		realtime.Publish(realtime.DeviceRoom(device.ID), "control-revoked", payload)
		realtime.Publish(realtime.UserRoom(granteeID), "control-revoked", payload)
		count++
	}
	return count
}

func staleSessionSweeper() {
	for {
		time.Sleep(staleSweepEvery)
		pruned, emptied := realtime.PruneStale(staleThreshold)
		for _, deviceID := range emptied {
			realtime.DeviceOffline(deviceID)
		}
		if len(pruned) > 0 {
			log.Printf("Pruned %d stale sessions", len(pruned))
		}
	}
}
