package realtime

import (
	"testing"
	"time"
)

func TestBindFirstSession(t *testing.T) {
	tr := NewTracker()

	first, prev, err := tr.Bind(1, 10, "conn-a", "tab-1")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if !first {
		t.Error("first = false for the device's only session")
	}
	if prev != nil {
		t.Errorf("prev = %+v, want nil", prev)
	}
	if got := tr.ConnectionCount(1); got != 1 {
		t.Errorf("ConnectionCount = %d, want 1", got)
	}
}

func TestSecondSessionIsNotFirst(t *testing.T) {
	tr := NewTracker()
	tr.Bind(1, 10, "conn-a", "")

	first, _, err := tr.Bind(1, 11, "conn-b", "")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if first {
		t.Error("first = true for a device that already had a session")
	}
	if got := tr.ConnectionCount(1); got != 2 {
		t.Errorf("ConnectionCount = %d, want 2", got)
	}
}

func TestRebindSameDeviceIsIdempotent(t *testing.T) {
	tr := NewTracker()
	tr.Bind(1, 10, "conn-a", "")

	first, prev, err := tr.Bind(1, 10, "conn-a", "")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if !first {
		t.Error("re-bound only session should still be first")
	}
	if prev != nil {
		t.Errorf("prev = %+v, want nil for same-device rebind", prev)
	}
	if got := tr.ConnectionCount(1); got != 1 {
		t.Errorf("ConnectionCount = %d, want 1", got)
	}
}

func TestDoubleBindImplicitlyUnbinds(t *testing.T) {
	tr := NewTracker()
	tr.Bind(1, 10, "conn-a", "")

	first, prev, err := tr.Bind(2, 10, "conn-a", "")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if !first {
		t.Error("first = false on the new device")
	}
	if prev == nil {
		t.Fatal("prev = nil, want unbind result for device 1")
	}
	if prev.DeviceID != 1 || !prev.Emptied {
		t.Errorf("prev = %+v, want device 1 emptied", prev)
	}
	if got := tr.ConnectionCount(1); got != 0 {
		t.Errorf("device 1 ConnectionCount = %d, want 0", got)
	}
	if got := tr.ConnectionCount(2); got != 1 {
		t.Errorf("device 2 ConnectionCount = %d, want 1", got)
	}
}

func TestUnbind(t *testing.T) {
	tr := NewTracker()
	tr.Bind(1, 10, "conn-a", "")
	tr.Bind(1, 11, "conn-b", "")

	res, ok := tr.Unbind("conn-a")
	if !ok {
		t.Fatal("Unbind returned false for a bound connection")
	}
	if res.Emptied {
		t.Error("Emptied = true while another session remains")
	}

	res, ok = tr.Unbind("conn-b")
	if !ok {
		t.Fatal("Unbind returned false for a bound connection")
	}
	if !res.Emptied {
		t.Error("Emptied = false after the last session left")
	}

	if _, ok := tr.Unbind("conn-b"); ok {
		t.Error("Unbind returned true for an already-removed connection")
	}
}

func TestTouchUpdatesLastActive(t *testing.T) {
	tr := NewTracker()
	base := time.Now()
	tr.now = func() time.Time { return base }
	tr.Bind(1, 10, "conn-a", "")

	tr.now = func() time.Time { return base.Add(time.Minute) }
	tr.Touch("conn-a")
	tr.Touch("conn-a") // idempotent
	tr.Touch("unknown")

	sess, ok := tr.Session("conn-a")
	if !ok {
		t.Fatal("Session not found")
	}
	if !sess.LastActive.Equal(base.Add(time.Minute)) {
		t.Errorf("LastActive = %v, want %v", sess.LastActive, base.Add(time.Minute))
	}
}

func TestPruneStale(t *testing.T) {
	tr := NewTracker()
	base := time.Now()
	tr.now = func() time.Time { return base }
	tr.Bind(1, 10, "conn-a", "")
	tr.Bind(1, 11, "conn-b", "")
	tr.Bind(2, 12, "conn-c", "")

	// conn-b stays fresh, the others go stale
	tr.now = func() time.Time { return base.Add(4 * time.Minute) }
	tr.Touch("conn-b")

	tr.now = func() time.Time { return base.Add(6 * time.Minute) }
	pruned, emptied := tr.PruneStale(5 * time.Minute)

	if len(pruned) != 2 {
		t.Errorf("pruned %d sessions, want 2", len(pruned))
	}
	if len(emptied) != 1 || emptied[0] != 2 {
		t.Errorf("emptied = %v, want [2]", emptied)
	}
	if got := tr.ConnectionCount(1); got != 1 {
		t.Errorf("device 1 ConnectionCount = %d, want 1", got)
	}
	if _, ok := tr.Session("conn-c"); ok {
		t.Error("stale session still tracked after prune")
	}
}

func TestDropDevice(t *testing.T) {
	tr := NewTracker()
	tr.Bind(1, 10, "conn-a", "tab-1")
	tr.Bind(1, 11, "conn-b", "tab-2")

	dropped := tr.DropDevice(1)
	if len(dropped) != 2 {
		t.Fatalf("dropped %d sessions, want 2", len(dropped))
	}
	if got := tr.ConnectionCount(1); got != 0 {
		t.Errorf("ConnectionCount = %d, want 0", got)
	}
	if _, ok := tr.Session("conn-a"); ok {
		t.Error("session survived DropDevice")
	}
	if tr.DropDevice(1) != nil {
		t.Error("second DropDevice should find nothing")
	}
}

func TestBindFailsWhenLockHeld(t *testing.T) {
	tr := NewTracker()
	tr.lockWait = 10 * time.Millisecond

	e := tr.entry(1)
	e.sem <- struct{}{} // hold the device lock
	defer func() { <-e.sem }()

	if _, _, err := tr.Bind(1, 10, "conn-a", ""); err != ErrLockWait {
		t.Errorf("Bind under held lock: got %v, want ErrLockWait", err)
	}
}

func TestSessionsForReturnsCopies(t *testing.T) {
	tr := NewTracker()
	tr.Bind(1, 10, "conn-a", "tab-1")

	sessions := tr.SessionsFor(1)
	if len(sessions) != 1 {
		t.Fatalf("SessionsFor returned %d sessions, want 1", len(sessions))
	}
	sessions[0].ClientTag = "mutated"

	again := tr.SessionsFor(1)
	if again[0].ClientTag != "tab-1" {
		t.Error("caller mutation leaked into tracker state")
	}
}
