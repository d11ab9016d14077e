package pollsession

import (
	"sync"
	"time"
)

// TickFunc receives the owning session id and whether this is the final
// scheduled tick of the session.
type TickFunc func(sessionID uint64, isLast bool)

// Session schedules a sequence of callbacks at fixed delay offsets and
// supports idempotent cancellation. Each call to Start supersedes the
// previous schedule; a superseded or stopped session's ticks never fire,
// even if their timers had already elapsed when Stop was observed.
type Session struct {
	mutex     sync.Mutex
	sessionID uint64
	active    bool
	timers    []*time.Timer
}

// New returns an idle Session.
func New() *Session {
	return &Session{}
}

// Start schedules one tick per delay, relative to now, and returns the new
// session id. A session already in flight is stopped first, so at most one
// session is live at a time. Negative delays are clamped to zero. Panics
// inside onTick are swallowed so remaining ticks still fire.
func (session *Session) Start(delays []time.Duration, onTick TickFunc) uint64 {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	session.stopLocked()
	session.sessionID++
	session.active = true
	startedID := session.sessionID

	for index, delay := range delays {
		if delay < 0 {
			delay = 0
		}
		isLast := index == len(delays)-1
		timer := time.AfterFunc(delay, func() {
			if !session.IsActive(startedID) {
				return
			}
			if onTick == nil {
				return
			}
			defer func() {
				_ = recover()
			}()
			onTick(startedID, isLast)
		})
		session.timers = append(session.timers, timer)
	}
	return startedID
}

// Stop invalidates every pending timer of the current session. Safe to call
// repeatedly and safe to call when no session is live. Timers whose
// callbacks are already mid-flight become no-ops through the id check in
// IsActive; the session does not rely on the timer cancel succeeding.
func (session *Session) Stop() {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.stopLocked()
	session.sessionID++
}

// IsActive reports whether id identifies the current session and that
// session has not been stopped.
func (session *Session) IsActive(id uint64) bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.active && session.sessionID == id
}

func (session *Session) stopLocked() {
	session.active = false
	for _, timer := range session.timers {
		timer.Stop()
	}
	session.timers = nil
}
