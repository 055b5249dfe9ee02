// Package activity implements C5: a per-(session,user) idle-timeout
// watchdog that invokes Leave on expiry. Grounded directly on the
// teacher's pkg/operator session type — touch()/idleTimer/cleanupOnce —
// generalized from operator hand-off liveness into participant liveness
// (§4.5).
package activity

import (
	"sync"
	"time"
)

type key struct {
	code   string
	userID uint32
}

type watchdog struct {
	mu         sync.Mutex
	timer      *time.Timer
	lastActive time.Time
}

// LeaveFunc is invoked on idle expiry; it is the orchestrator's Leave
// operation (§4.1, §4.5).
type LeaveFunc func(code string, userID uint32)

// Tracker owns one watchdog per (session, user) and fires LeaveFunc when
// T_idle elapses without a Touch (§4.5).
type Tracker struct {
	idle    time.Duration
	onLeave LeaveFunc

	mu   sync.Mutex
	dogs map[key]*watchdog
}

func New(idle time.Duration, onLeave LeaveFunc) *Tracker {
	return &Tracker{
		idle:    idle,
		onLeave: onLeave,
		dogs:    make(map[key]*watchdog),
	}
}

// Touch arms (or re-arms) the watchdog for (code,userID), resetting its
// idle countdown (§4.1 TouchActivity, §4.5).
func (t *Tracker) Touch(code string, userID uint32) {
	k := key{code, userID}

	t.mu.Lock()
	w, ok := t.dogs[k]
	if !ok {
		w = &watchdog{}
		t.dogs[k] = w
	}
	t.mu.Unlock()

	w.mu.Lock()
	w.lastActive = time.Now()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(t.idle, func() {
		t.expire(k)
	})
	w.mu.Unlock()
}

func (t *Tracker) expire(k key) {
	t.mu.Lock()
	w, ok := t.dogs[k]
	if ok {
		delete(t.dogs, k)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	w.mu.Lock()
	w.mu.Unlock()

	if t.onLeave != nil {
		t.onLeave(k.code, k.userID)
	}
}

// Remove cancels and forgets the watchdog for (code,userID), called on
// Leave and on session end (§4.5 "keys are removed on Leave and on
// session end").
func (t *Tracker) Remove(code string, userID uint32) {
	k := key{code, userID}
	t.mu.Lock()
	w, ok := t.dogs[k]
	if ok {
		delete(t.dogs, k)
	}
	t.mu.Unlock()
	if ok {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	}
}

// RemoveSession removes every watchdog for a session, called on session
// end.
func (t *Tracker) RemoveSession(code string) {
	t.mu.Lock()
	var victims []key
	for k := range t.dogs {
		if k.code == code {
			victims = append(victims, k)
		}
	}
	t.mu.Unlock()

	for _, k := range victims {
		t.Remove(k.code, k.userID)
	}
}
