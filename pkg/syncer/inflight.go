package syncer

import "sync"

// inflightGroup coalesces concurrent fetch-by-id calls: the first caller
// for a key performs the fetch, later callers for the same key block on the
// pending result instead of issuing duplicate network calls. The entry is
// removed when the fetch settles, regardless of success or failure.
type inflightGroup struct {
	mutex sync.Mutex
	calls map[string]*inflightCall
}

type inflightCall struct {
	done    chan struct{}
	message *Message
	err     error
}

func newInflightGroup() *inflightGroup {
	return &inflightGroup{calls: make(map[string]*inflightCall)}
}

func (group *inflightGroup) Do(key string, fetch func() (*Message, error)) (*Message, error) {
	group.mutex.Lock()
	if pending, inFlight := group.calls[key]; inFlight {
		group.mutex.Unlock()
		<-pending.done
		return pending.message, pending.err
	}
	call := &inflightCall{done: make(chan struct{})}
	group.calls[key] = call
	group.mutex.Unlock()

	defer func() {
		group.mutex.Lock()
		delete(group.calls, key)
		group.mutex.Unlock()
		close(call.done)
	}()
	call.message, call.err = fetch()
	return call.message, call.err
}
