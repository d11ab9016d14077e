package pollsession

import (
	"sync"
	"testing"
	"time"
)

type tickRecorder struct {
	mutex sync.Mutex
	ticks []uint64
	lasts []bool
}

func (recorder *tickRecorder) record(sessionID uint64, isLast bool) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.ticks = append(recorder.ticks, sessionID)
	recorder.lasts = append(recorder.lasts, isLast)
}

func (recorder *tickRecorder) count() int {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return len(recorder.ticks)
}

func TestStartFiresTicksInScheduleOrder(test *testing.T) {
	test.Parallel()
	session := New()
	recorder := &tickRecorder{}
	done := make(chan struct{})

	sessionID := session.Start([]time.Duration{0, 5 * time.Millisecond, 10 * time.Millisecond}, func(id uint64, isLast bool) {
		recorder.record(id, isLast)
		if isLast {
			close(done)
		}
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		test.Fatalf("timed out waiting for last tick")
	}
	if got := recorder.count(); got != 3 {
		test.Fatalf("expected 3 ticks, got %d", got)
	}
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	for index, id := range recorder.ticks {
		if id != sessionID {
			test.Fatalf("tick %d carried session id %d, want %d", index, id, sessionID)
		}
	}
	if recorder.lasts[0] || recorder.lasts[1] || !recorder.lasts[2] {
		test.Fatalf("isLast flags wrong: %v", recorder.lasts)
	}
}

func TestStopBeforeDelaysElapseSuppressesAllTicks(test *testing.T) {
	test.Parallel()
	session := New()
	recorder := &tickRecorder{}

	session.Start([]time.Duration{0, 2 * time.Millisecond, 5 * time.Millisecond}, recorder.record)
	session.Stop()

	time.Sleep(50 * time.Millisecond)
	if got := recorder.count(); got != 0 {
		test.Fatalf("expected zero ticks after stop, got %d", got)
	}
}

func TestStartSupersedesPreviousSession(test *testing.T) {
	test.Parallel()
	session := New()
	recorder := &tickRecorder{}
	done := make(chan struct{})

	firstID := session.Start([]time.Duration{20 * time.Millisecond}, recorder.record)
	secondID := session.Start([]time.Duration{5 * time.Millisecond}, func(id uint64, isLast bool) {
		recorder.record(id, isLast)
		close(done)
	})
	if firstID == secondID {
		test.Fatalf("expected a fresh session id on restart")
	}
	if session.IsActive(firstID) {
		test.Fatalf("superseded session still reported active")
	}
	if !session.IsActive(secondID) {
		test.Fatalf("current session reported inactive")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		test.Fatalf("timed out waiting for second session tick")
	}
	time.Sleep(50 * time.Millisecond)
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	if len(recorder.ticks) != 1 || recorder.ticks[0] != secondID {
		test.Fatalf("expected exactly one tick from the second session, got %v", recorder.ticks)
	}
}

func TestStopIsIdempotent(test *testing.T) {
	test.Parallel()
	session := New()
	session.Stop()
	session.Stop()
	id := session.Start([]time.Duration{time.Millisecond}, nil)
	session.Stop()
	session.Stop()
	if session.IsActive(id) {
		test.Fatalf("stopped session reported active")
	}
}

func TestTickPanicDoesNotSuppressRemainingTicks(test *testing.T) {
	test.Parallel()
	session := New()
	recorder := &tickRecorder{}
	done := make(chan struct{})

	session.Start([]time.Duration{0, 5 * time.Millisecond}, func(id uint64, isLast bool) {
		recorder.record(id, isLast)
		if isLast {
			close(done)
			return
		}
		panic("tick failure")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		test.Fatalf("timed out waiting for tick after panic")
	}
	if got := recorder.count(); got != 2 {
		test.Fatalf("expected both ticks despite panic, got %d", got)
	}
}

func TestIsActiveRejectsUnknownID(test *testing.T) {
	test.Parallel()
	session := New()
	id := session.Start([]time.Duration{time.Millisecond}, nil)
	if session.IsActive(id + 1) {
		test.Fatalf("unknown id reported active")
	}
}
