package realtime

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/smiley16479/music-room-sub004/apperr"
	"github.com/smiley16479/music-room-sub004/inits"
	"github.com/smiley16479/music-room-sub004/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Shared hub and tracker for the running service. Controllers and the
// janitor publish through the package-level helpers below.
var (
	hub     = NewHub()
	tracker = NewTracker()
)

func Publish(room, event string, payload interface{}) {
	hub.Publish(room, event, payload)
}

func CloseRoom(room, event string, payload interface{}) {
	hub.CloseRoom(room, event, payload)
}

func SessionsFor(deviceID uint) []Session {
	return tracker.SessionsFor(deviceID)
}

func DropDevice(deviceID uint) []Session {
	return tracker.DropDevice(deviceID)
}

// PruneStale drops sessions past the liveness threshold and force-disconnects
// their connections, so a pruned session cannot keep receiving room events.
func PruneStale(threshold time.Duration) ([]Session, []uint) {
	pruned, emptied := tracker.PruneStale(threshold)
	for _, sess := range pruned {
		hub.Disconnect(sess.ConnID, "forced-disconnect", gin.H{
			"deviceId": sess.DeviceID,
			"reason":   "session timed out",
		})
	}
	return pruned, emptied
}

// sendError reports a failed client request over the socket. The code field
// mirrors the HTTP error taxonomy so clients can branch without parsing text.
func sendError(connID string, err error) {
	hub.SendTo(connID, "error", gin.H{
		"code":    apperr.Code(err),
		"message": err.Error(),
	})
}

// clientMessage is the envelope for every client-to-server event.
type clientMessage struct {
	Event     string `json:"event"`
	DeviceID  uint   `json:"deviceId"`
	ClientTag string `json:"clientTag"`
	Status    string `json:"status"`
}

// HandleConnections upgrades an authenticated request to a websocket and
// runs its read loop. The connection joins its user's room immediately so
// personal notifications arrive before any device is bound.
func HandleConnections(c *gin.Context) {
	userIDInterface, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	userIDStr := fmt.Sprintf("%v", userIDInterface)
	userIDUint, err := strconv.ParseUint(userIDStr, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format"})
		return
	}
	userID := uint(userIDUint)

	var user models.User
	if err := inits.DB.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}

	connID := uuid.NewString()
	hub.Register(connID, userID, conn)
	hub.Join(connID, UserRoom(userID))

	defer func() {
		unbindAndNotify(connID)
		hub.Unregister(connID)
		conn.Close()
	}()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break // triggers defer
		}

		switch msg.Event {
		case "bind-device":
			handleBind(connID, userID, msg)
		case "unbind-device":
			unbindAndNotify(connID)
		case "heartbeat":
			tracker.Touch(connID)
		case "status-update":
			handleStatusUpdate(connID, msg)
		default:
			log.Printf("Unknown websocket event %q from user %d", msg.Event, userID)
		}
	}
}

func handleBind(connID string, userID uint, msg clientMessage) {
	var device models.Device
	if err := inits.DB.First(&device, msg.DeviceID).Error; err != nil {
		sendError(connID, apperr.NotFound("device not found"))
		return
	}

	// A user with no relation to the device must not learn it exists.
	switch device.RelationTo(userID) {
	case models.RelationNone:
		sendError(connID, apperr.NotFound("device not found"))
		return
	case models.RelationGrantee:
		if !device.HasActiveDelegation(time.Now()) {
			sendError(connID, apperr.Forbidden("delegation has expired"))
			return
		}
	}

	first, prev, err := tracker.Bind(device.ID, userID, connID, msg.ClientTag)
	if err != nil {
		sendError(connID, apperr.Unavailable("device is busy, try again"))
		return
	}

	if prev != nil {
		hub.Leave(connID, DeviceRoom(prev.DeviceID))
		if prev.Emptied {
			DeviceOffline(prev.DeviceID)
		}
	}
	hub.Join(connID, DeviceRoom(device.ID))

	if first {
		now := time.Now()
		updates := map[string]interface{}{"last_seen_at": now}
		if device.Status == models.StatusOffline {
			updates["status"] = models.StatusOnline
		}
		if err := inits.DB.Model(&device).Updates(updates).Error; err != nil {
			log.Println("Failed to mark device online:", err)
		}
		hub.Publish(DeviceRoom(device.ID), "device-connected", gin.H{
			"deviceId": device.ID,
			"userId":   userID,
		})
	}

	hub.SendTo(connID, "bound", gin.H{"deviceId": device.ID})
}

func handleStatusUpdate(connID string, msg clientMessage) {
	sess, ok := tracker.Session(connID)
	if !ok {
		sendError(connID, apperr.Invalid("not bound to a device"))
		return
	}

	switch msg.Status {
	case models.StatusOnline, models.StatusPlaying, models.StatusPaused:
	default:
		sendError(connID, apperr.Invalid(fmt.Sprintf("unknown status %q", msg.Status)))
		return
	}

	now := time.Now()
	if err := inits.DB.Model(&models.Device{}).Where("id = ?", sess.DeviceID).
		Updates(map[string]interface{}{"status": msg.Status, "last_seen_at": now}).Error; err != nil {
		log.Println("Failed to update device status:", err)
		return
	}
	tracker.Touch(connID)

	hub.Publish(DeviceRoom(sess.DeviceID), "device-status-changed", gin.H{
		"deviceId": sess.DeviceID,
		"status":   msg.Status,
	})
}

// unbindAndNotify removes the connection's device binding and, when it was
// the device's last session, flips the device offline.
func unbindAndNotify(connID string) {
	res, ok := tracker.Unbind(connID)
	if !ok {
		return
	}
	hub.Leave(connID, DeviceRoom(res.DeviceID))
	if res.Emptied {
		DeviceOffline(res.DeviceID)
	}
}

// DeviceOffline marks a device offline and tells its rooms. Also used by the
// janitor's stale-session sweep.
func DeviceOffline(deviceID uint) {
	if err := inits.DB.Model(&models.Device{}).Where("id = ?", deviceID).
		Update("status", models.StatusOffline).Error; err != nil {
		log.Println("Failed to mark device offline:", err)
	}
	hub.Publish(DeviceRoom(deviceID), "device-disconnected", gin.H{
		"deviceId": deviceID,
	})
}
