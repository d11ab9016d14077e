package syncer

import "time"

// Option configures a Coordinator instance.
type Option func(*Coordinator)

// WithOperationLogger wires a logger that receives every coordinator
// operation.
func WithOperationLogger(logger OperationLogger) Option {
	return func(coordinator *Coordinator) {
		coordinator.logger = logger
	}
}

// WithCredentialValidator wires the check Enable runs before opening the
// live channel.
func WithCredentialValidator(validator CredentialValidator) Option {
	return func(coordinator *Coordinator) {
		coordinator.validator = validator
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(coordinator *Coordinator) {
		if now != nil {
			coordinator.nowFn = now
		}
	}
}

// WithSeenEventKeys pre-seeds the dedupe store, typically from the
// persisted journal, so events already processed before a restart are not
// processed again.
func WithSeenEventKeys(keys []string) Option {
	return func(coordinator *Coordinator) {
		for _, key := range keys {
			coordinator.seen.Add(key)
		}
	}
}
