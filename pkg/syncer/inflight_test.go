package syncer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestInflightCoalescesConcurrentCalls(test *testing.T) {
	test.Parallel()
	group := newInflightGroup()
	fetches := atomic.Int64{}
	fetch := func() (*Message, error) {
		fetches.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &Message{ID: "message-1"}, nil
	}

	var waitGroup sync.WaitGroup
	for index := 0; index < 4; index++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			message, err := group.Do("message-1", fetch)
			if err != nil || message == nil || message.ID != "message-1" {
				test.Errorf("unexpected result: %v %v", message, err)
			}
		}()
	}
	waitGroup.Wait()
	if got := fetches.Load(); got != 1 {
		test.Fatalf("expected one fetch for concurrent callers, got %d", got)
	}
}

func TestInflightEntryRemovedAfterSettlement(test *testing.T) {
	test.Parallel()
	group := newInflightGroup()
	fetches := atomic.Int64{}
	fetch := func() (*Message, error) {
		fetches.Add(1)
		return &Message{ID: "message-1"}, nil
	}
	if _, err := group.Do("message-1", fetch); err != nil {
		test.Fatalf("first do: %v", err)
	}
	if _, err := group.Do("message-1", fetch); err != nil {
		test.Fatalf("second do: %v", err)
	}
	if got := fetches.Load(); got != 2 {
		test.Fatalf("expected a fresh fetch after settlement, got %d", got)
	}
}

func TestInflightDistinctKeysDoNotCoalesce(test *testing.T) {
	test.Parallel()
	group := newInflightGroup()
	fetches := atomic.Int64{}
	var waitGroup sync.WaitGroup
	for _, key := range []string{"message-1", "message-2"} {
		waitGroup.Add(1)
		go func(key string) {
			defer waitGroup.Done()
			_, _ = group.Do(key, func() (*Message, error) {
				fetches.Add(1)
				time.Sleep(10 * time.Millisecond)
				return &Message{ID: key}, nil
			})
		}(key)
	}
	waitGroup.Wait()
	if got := fetches.Load(); got != 2 {
		test.Fatalf("expected independent fetches per key, got %d", got)
	}
}
