package realtime

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestPruneStaleDisconnectsTimedOutSessions(t *testing.T) {
	base := time.Now()
	savedNow := tracker.now
	tracker.now = func() time.Time { return base }
	defer func() { tracker.now = savedNow }()

	conn := &fakeConn{}
	hub.Register("sweep-conn", 70, conn)
	hub.Join("sweep-conn", UserRoom(70))
	if _, _, err := tracker.Bind(700, 70, "sweep-conn", "tab-1"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	hub.Join("sweep-conn", DeviceRoom(700))
	defer tracker.DropDevice(700)

	tracker.now = func() time.Time { return base.Add(10 * time.Minute) }
	pruned, emptied := PruneStale(5 * time.Minute)

	if len(pruned) != 1 || pruned[0].ConnID != "sweep-conn" {
		t.Fatalf("pruned = %v, want the timed-out session", pruned)
	}
	if len(emptied) != 1 || emptied[0] != 700 {
		t.Errorf("emptied = %v, want device 700", emptied)
	}
	if !conn.closed {
		t.Error("pruned session's connection was left open")
	}
	evs := conn.received()
	if len(evs) != 1 || evs[0].Event != "forced-disconnect" {
		t.Fatalf("events = %v, want a single forced-disconnect", evs)
	}

	// The connection must be out of both rooms, not just out of the tracker.
	hub.Publish(DeviceRoom(700), "playback-command", nil)
	hub.Publish(UserRoom(70), "control-delegated", nil)
	if got := conn.received(); len(got) != 1 {
		t.Errorf("pruned session still receives room events: %v", got[1:])
	}
}

func TestStatusUpdateErrorsCarryCode(t *testing.T) {
	conn := &fakeConn{}
	hub.Register("status-conn", 71, conn)
	defer hub.Unregister("status-conn")

	handleStatusUpdate("status-conn", clientMessage{Event: "status-update", Status: "playing"})

	evs := conn.received()
	if len(evs) != 1 || evs[0].Event != "error" {
		t.Fatalf("events = %v, want one error for an unbound connection", evs)
	}
	payload, ok := evs[0].Payload.(gin.H)
	if !ok {
		t.Fatalf("payload type = %T, want gin.H", evs[0].Payload)
	}
	if payload["code"] != "invalid_argument" {
		t.Errorf("code = %v, want invalid_argument", payload["code"])
	}

	if _, _, err := tracker.Bind(710, 71, "status-conn", ""); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	defer tracker.DropDevice(710)

	handleStatusUpdate("status-conn", clientMessage{Event: "status-update", Status: "sleeping"})

	evs = conn.received()
	if len(evs) != 2 || evs[1].Event != "error" {
		t.Fatalf("events = %v, want a second error for a bad status", evs)
	}
	payload = evs[1].Payload.(gin.H)
	if payload["code"] != "invalid_argument" {
		t.Errorf("code = %v, want invalid_argument", payload["code"])
	}
	if payload["message"] != `unknown status "sleeping"` {
		t.Errorf("message = %v", payload["message"])
	}
}
