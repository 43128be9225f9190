package realtime

import (
	"errors"
	"sync"
	"time"
)

// ErrLockWait is returned when a bind cannot acquire its per-device lock
// within the bounded wait. Callers retry at the transport layer.
var ErrLockWait = errors.New("timed out waiting for device lock")

const defaultLockWait = 250 * time.Millisecond

// Session is a live connection's binding to a device. Records are owned by
// the Tracker; callers only ever see copies.
type Session struct {
	ConnID      string
	UserID      uint
	DeviceID    uint
	ClientTag   string
	ConnectedAt time.Time
	LastActive  time.Time
}

// UnbindResult tells the caller which device lost a session and whether the
// device's session set emptied (so it should be marked offline).
type UnbindResult struct {
	DeviceID uint
	UserID   uint
	Emptied  bool
}

// Tracker keeps the device-id to session-set map. Mutations for one device
// are serialized through a per-device semaphore; the map itself is guarded
// by a short-lived mutex.
type Tracker struct {
	mu       sync.Mutex
	devices  map[uint]*deviceEntry
	byConn   map[string]uint
	lockWait time.Duration
	now      func() time.Time
}

type deviceEntry struct {
	sem      chan struct{}
	sessions map[string]*Session
}

func NewTracker() *Tracker {
	return &Tracker{
		devices:  make(map[uint]*deviceEntry),
		byConn:   make(map[string]uint),
		lockWait: defaultLockWait,
		now:      time.Now,
	}
}

func (t *Tracker) entry(deviceID uint) *deviceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.devices[deviceID]
	if !ok {
		e = &deviceEntry{
			sem:      make(chan struct{}, 1),
			sessions: make(map[string]*Session),
		}
		t.devices[deviceID] = e
	}
	return e
}

// acquire takes the per-device lock with a bounded wait. This is a
// control-plane path: failing beats queueing indefinitely.
func (t *Tracker) acquire(e *deviceEntry) error {
	timer := time.NewTimer(t.lockWait)
	defer timer.Stop()
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockWait
	}
}

func (t *Tracker) release(e *deviceEntry) {
	<-e.sem
}

// Bind registers connID as a live session of deviceID. A connection binds to
// one device at a time: re-binding implicitly unbinds the previous device
// first, and prev reports what that unbind did. first is true when this is
// the device's only session, i.e. the device just came online.
func (t *Tracker) Bind(deviceID, userID uint, connID, clientTag string) (first bool, prev *UnbindResult, err error) {
	t.mu.Lock()
	prevDevice, bound := t.byConn[connID]
	t.mu.Unlock()
	if bound && prevDevice != deviceID {
		if res, ok := t.Unbind(connID); ok {
			prev = res
		}
	}

	e := t.entry(deviceID)
	if err := t.acquire(e); err != nil {
		return false, prev, err
	}
	defer t.release(e)

	now := t.now()
	t.mu.Lock()
	e.sessions[connID] = &Session{
		ConnID:      connID,
		UserID:      userID,
		DeviceID:    deviceID,
		ClientTag:   clientTag,
		ConnectedAt: now,
		LastActive:  now,
	}
	t.byConn[connID] = deviceID
	first = len(e.sessions) == 1
	t.mu.Unlock()
	return first, prev, nil
}

// Unbind removes the session for connID, if any. It blocks on the device
// lock: teardown must not leave a dead session behind.
func (t *Tracker) Unbind(connID string) (*UnbindResult, bool) {
	t.mu.Lock()
	deviceID, ok := t.byConn[connID]
	if !ok {
		t.mu.Unlock()
		return nil, false
	}
	e := t.devices[deviceID]
	t.mu.Unlock()

	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := e.sessions[connID]
	if !ok {
		return nil, false
	}
	delete(e.sessions, connID)
	delete(t.byConn, connID)
	return &UnbindResult{
		DeviceID: deviceID,
		UserID:   sess.UserID,
		Emptied:  len(e.sessions) == 0,
	}, true
}

// Touch updates the liveness timestamp for connID. Cheap and idempotent,
// called on every heartbeat.
func (t *Tracker) Touch(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	deviceID, ok := t.byConn[connID]
	if !ok {
		return
	}
	if e := t.devices[deviceID]; e != nil {
		if s := e.sessions[connID]; s != nil {
			s.LastActive = t.now()
		}
	}
}

// Session returns a copy of the session bound to connID.
func (t *Tracker) Session(connID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	deviceID, ok := t.byConn[connID]
	if !ok {
		return Session{}, false
	}
	if e := t.devices[deviceID]; e != nil {
		if s := e.sessions[connID]; s != nil {
			return *s, true
		}
	}
	return Session{}, false
}

// SessionsFor returns copies of the live sessions bound to deviceID.
func (t *Tracker) SessionsFor(deviceID uint) []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.devices[deviceID]
	if e == nil {
		return nil
	}
	out := make([]Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, *s)
	}
	return out
}

func (t *Tracker) ConnectionCount(deviceID uint) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.devices[deviceID]; e != nil {
		return len(e.sessions)
	}
	return 0
}

// DropDevice removes every session of a deleted device and forgets it.
func (t *Tracker) DropDevice(deviceID uint) []Session {
	t.mu.Lock()
	e := t.devices[deviceID]
	t.mu.Unlock()
	if e == nil {
		return nil
	}

	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Session, 0, len(e.sessions))
	for connID, s := range e.sessions {
		out = append(out, *s)
		delete(e.sessions, connID)
		delete(t.byConn, connID)
	}
	delete(t.devices, deviceID)
	return out
}

// PruneStale drops sessions whose last activity is older than threshold.
// It returns the pruned sessions and the devices whose session set emptied.
// Devices whose lock cannot be acquired are skipped; the next sweep gets
// them.
func (t *Tracker) PruneStale(threshold time.Duration) (pruned []Session, emptied []uint) {
	t.mu.Lock()
	ids := make([]uint, 0, len(t.devices))
	for id := range t.devices {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	cutoff := t.now().Add(-threshold)
	for _, deviceID := range ids {
		t.mu.Lock()
		e := t.devices[deviceID]
		t.mu.Unlock()
		if e == nil {
			continue
		}
		if err := t.acquire(e); err != nil {
			continue
		}

		t.mu.Lock()
		removed := 0
		for connID, s := range e.sessions {
			if s.LastActive.Before(cutoff) {
				pruned = append(pruned, *s)
				delete(e.sessions, connID)
				delete(t.byConn, connID)
				removed++
			}
		}
		if removed > 0 && len(e.sessions) == 0 {
			emptied = append(emptied, deviceID)
		}
		t.mu.Unlock()
		t.release(e)
	}
	return pruned, emptied
}
