// Package syncer owns the live-vs-poll synchronization state machine: it
// reads envelopes from a realtime channel while connected, falls back to a
// scheduled poll session whenever live delivery is not usable, filters
// redelivered events through a bounded dedupe store, and coalesces
// concurrent message hydrations by id.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/paysync/pkg/dedupe"
	"github.com/MarkoPoloResearchLab/paysync/pkg/pollsession"
)

// State is the coordinator's connection mode.
type State string

const (
	StateDisconnected    State = "disconnected"
	StateConnecting      State = "connecting"
	StateLiveConnected   State = "live_connected"
	StatePollingFallback State = "polling_fallback"
)

// AppStateActive is the foreground value reported by the platform; any
// other value counts as backgrounded.
const AppStateActive = "active"

const (
	defaultPollInterval   = 30 * time.Second
	defaultDedupeCapacity = 512
)

// RealtimeChannel is the contract the coordinator requires from the live
// transport. Connect returns a channel of normalized envelopes; transport
// failures surface only as status envelopes, never as reader errors.
// Disconnect must be idempotent.
type RealtimeChannel interface {
	Connect(ctx context.Context, credential string) (<-chan Envelope, error)
	Disconnect() error
}

// MessageFetcher hydrates a message by id. A nil message with nil error
// means the message does not exist; the coordinator degrades to a full
// resync in that case.
type MessageFetcher interface {
	FetchMessageByID(ctx context.Context, id string) (*Message, error)
}

// MessageSink receives hydrated messages.
type MessageSink interface {
	HandleMessage(message Message)
}

// CredentialValidator gates Enable on a usable credential.
type CredentialValidator interface {
	Validate(credential string, now time.Time) error
}

// PollFunc performs one full synchronization pass. Errors are recorded and
// swallowed; the next scheduled tick retries.
type PollFunc func(ctx context.Context) error

// ForegroundStateFunc reports the platform foreground state ("active" or
// anything else).
type ForegroundStateFunc func() string

// Capabilities is detected once at startup and injected, rather than
// cached in package state. Without realtime push the coordinator runs
// poll-only.
type Capabilities struct {
	RealtimePush bool
}

// Config wires a Coordinator's collaborators.
type Config struct {
	Channel         RealtimeChannel
	Poll            PollFunc
	Fetcher         MessageFetcher
	Sink            MessageSink
	ForegroundState ForegroundStateFunc
	Capabilities    Capabilities
	PollInterval    time.Duration
	DedupeCapacity  int
}

// Coordinator is the top-level synchronization state machine. All state is
// guarded by one mutex; envelope reading happens on a dedicated goroutine
// per connection, and a connection epoch makes envelopes from a superseded
// reader no-ops.
type Coordinator struct {
	mutex        sync.Mutex
	state        State
	enabled      bool
	foregrounded bool
	credential   string
	epoch        uint64
	pollID       uint64
	runCtx       context.Context
	runCancel    context.CancelFunc

	channel      RealtimeChannel
	pollFn       PollFunc
	fetcher      MessageFetcher
	sink         MessageSink
	foregroundFn ForegroundStateFunc
	capabilities Capabilities
	pollInterval time.Duration

	poll     *pollsession.Session
	seen     *dedupe.Store
	inflight *inflightGroup

	validator CredentialValidator
	logger    OperationLogger
	nowFn     func() time.Time
}

// NewCoordinator validates the config and wires a Coordinator.
func NewCoordinator(config Config, options ...Option) (*Coordinator, error) {
	if config.Poll == nil {
		return nil, fmt.Errorf("%w: poll dependency is nil", ErrInvalidCoordinatorConfig)
	}
	if config.Capabilities.RealtimePush {
		if config.Channel == nil {
			return nil, fmt.Errorf("%w: channel dependency is nil", ErrInvalidCoordinatorConfig)
		}
		if config.Fetcher == nil {
			return nil, fmt.Errorf("%w: fetcher dependency is nil", ErrInvalidCoordinatorConfig)
		}
	}
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	dedupeCapacity := config.DedupeCapacity
	if dedupeCapacity <= 0 {
		dedupeCapacity = defaultDedupeCapacity
	}
	seen, err := dedupe.NewStore(dedupeCapacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCoordinatorConfig, err)
	}
	foregroundFn := config.ForegroundState
	if foregroundFn == nil {
		foregroundFn = func() string { return AppStateActive }
	}
	coordinator := &Coordinator{
		state:        StateDisconnected,
		channel:      config.Channel,
		pollFn:       config.Poll,
		fetcher:      config.Fetcher,
		sink:         config.Sink,
		foregroundFn: foregroundFn,
		capabilities: config.Capabilities,
		pollInterval: pollInterval,
		poll:         pollsession.New(),
		seen:         seen,
		inflight:     newInflightGroup(),
		nowFn:        time.Now,
	}
	for _, option := range options {
		if option != nil {
			option(coordinator)
		}
	}
	return coordinator, nil
}

// State returns the current connection mode.
func (coordinator *Coordinator) State() State {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	return coordinator.state
}

// Enable starts synchronization with the given credential: it opens the
// live channel, triggers one eager poll, and arms the poll session as a
// safety net in case the live channel degrades silently. Enabling an
// already-enabled coordinator is a no-op.
func (coordinator *Coordinator) Enable(ctx context.Context, credential string) error {
	if coordinator.validator != nil {
		if err := coordinator.validator.Validate(credential, coordinator.nowFn()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		}
	}
	coordinator.mutex.Lock()
	if coordinator.enabled {
		coordinator.mutex.Unlock()
		return nil
	}
	coordinator.enabled = true
	coordinator.credential = credential
	coordinator.foregrounded = coordinator.foregroundFn() == AppStateActive
	runCtx, runCancel := context.WithCancel(ctx)
	coordinator.runCtx = runCtx
	coordinator.runCancel = runCancel
	coordinator.mutex.Unlock()

	go coordinator.pollOnce(runCtx)
	coordinator.connect()

	coordinator.mutex.Lock()
	coordinator.evaluatePollingLocked()
	coordinator.mutex.Unlock()
	return nil
}

// Disable stops polling, tears down the live channel, and cancels the
// run context. When revoked is true all locally cached synchronization
// state is reset as well. Safe to call repeatedly.
func (coordinator *Coordinator) Disable(revoked bool) {
	coordinator.mutex.Lock()
	if !coordinator.enabled {
		coordinator.mutex.Unlock()
		return
	}
	coordinator.enabled = false
	coordinator.credential = ""
	coordinator.stopPollingLocked()
	channel := coordinator.teardownChannelLocked("disable")
	runCancel := coordinator.runCancel
	coordinator.runCancel = nil
	if revoked {
		coordinator.seen.Reset()
	}
	coordinator.mutex.Unlock()

	if runCancel != nil {
		runCancel()
	}
	if channel != nil {
		_ = channel.Disconnect()
	}
}

// SetAppState applies a platform foreground/background signal. A
// background-to-foreground transition forces one immediate poll regardless
// of state, because push delivery may have been suspended; a transition to
// background stops polling and disconnects the live channel.
func (coordinator *Coordinator) SetAppState(appState string) {
	nowForegrounded := appState == AppStateActive
	coordinator.mutex.Lock()
	wasForegrounded := coordinator.foregrounded
	coordinator.foregrounded = nowForegrounded
	if !coordinator.enabled {
		coordinator.mutex.Unlock()
		return
	}
	runCtx := coordinator.runCtx

	if nowForegrounded && !wasForegrounded {
		coordinator.mutex.Unlock()
		go coordinator.pollOnce(runCtx)
		coordinator.connect()
		coordinator.mutex.Lock()
		coordinator.evaluatePollingLocked()
		coordinator.mutex.Unlock()
		return
	}
	if !nowForegrounded && wasForegrounded {
		coordinator.stopPollingLocked()
		channel := coordinator.teardownChannelLocked("background")
		coordinator.mutex.Unlock()
		if channel != nil {
			_ = channel.Disconnect()
		}
		return
	}
	coordinator.evaluatePollingLocked()
	coordinator.mutex.Unlock()
}

// connect opens the live channel on a fresh connection epoch. Connection
// failure is not fatal: the coordinator falls back to polling and the next
// relevant transition retries.
func (coordinator *Coordinator) connect() {
	coordinator.mutex.Lock()
	if !coordinator.enabled || !coordinator.capabilities.RealtimePush || coordinator.channel == nil {
		coordinator.evaluatePollingLocked()
		coordinator.mutex.Unlock()
		return
	}
	if coordinator.state == StateConnecting || coordinator.state == StateLiveConnected {
		coordinator.mutex.Unlock()
		return
	}
	coordinator.epoch++
	epoch := coordinator.epoch
	coordinator.setStateLocked(StateConnecting, "connect")
	credential := coordinator.credential
	runCtx := coordinator.runCtx
	coordinator.mutex.Unlock()

	events, err := coordinator.channel.Connect(runCtx, credential)
	if err != nil {
		coordinator.logOperation(OperationLog{Operation: operationConnect, Error: err})
		coordinator.mutex.Lock()
		if epoch == coordinator.epoch {
			coordinator.setStateLocked(StatePollingFallback, "connect_failed")
			coordinator.evaluatePollingLocked()
		}
		coordinator.mutex.Unlock()
		return
	}
	go coordinator.readEnvelopes(runCtx, events, epoch)
}

func (coordinator *Coordinator) readEnvelopes(ctx context.Context, events <-chan Envelope, epoch uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case envelope, open := <-events:
			if !open {
				return
			}
			coordinator.handleEnvelope(ctx, envelope, epoch)
		}
	}
}

func (coordinator *Coordinator) handleEnvelope(ctx context.Context, envelope Envelope, epoch uint64) {
	coordinator.mutex.Lock()
	if epoch != coordinator.epoch || !coordinator.enabled {
		coordinator.mutex.Unlock()
		return
	}
	switch envelope.Type {
	case EnvelopeTypeStatus:
		coordinator.applyStatusLocked(envelope.Status)
		coordinator.mutex.Unlock()
	case EnvelopeTypeMessage:
		coordinator.mutex.Unlock()
		coordinator.handleMessageEnvelope(ctx, envelope)
	default:
		// Typing and unrecognized events are accepted no-ops here.
		coordinator.mutex.Unlock()
	}
}

// applyStatusLocked is the mode switch. It is level-triggered: every
// branch re-evaluates the polling condition rather than toggling it.
func (coordinator *Coordinator) applyStatusLocked(status string) {
	switch status {
	case ChannelStatusOpen:
		// Live delivery is authoritative while connected.
		coordinator.setStateLocked(StateLiveConnected, "channel_open")
		coordinator.evaluatePollingLocked()
	case ChannelStatusClosed:
		coordinator.setStateLocked(StatePollingFallback, "channel_closed")
		coordinator.evaluatePollingLocked()
	case ChannelStatusConnecting:
		coordinator.setStateLocked(StateConnecting, "channel_connecting")
		coordinator.evaluatePollingLocked()
	}
}

func (coordinator *Coordinator) handleMessageEnvelope(ctx context.Context, envelope Envelope) {
	if !coordinator.seen.Add(envelope.EventKey()) {
		return
	}
	if message, inline := messageFromFields(envelope.Fields); inline {
		coordinator.deliver(message)
		return
	}
	messageID := envelope.StringField("id")
	if messageID == "" {
		coordinator.pollOnce(ctx)
		return
	}
	go coordinator.hydrate(ctx, messageID)
}

// hydrate fetches a message by id through the in-flight map, so a burst of
// duplicate notifications for one id issues a single outbound call. Fetch
// failure and a missing message both degrade to a full resync.
func (coordinator *Coordinator) hydrate(ctx context.Context, messageID string) {
	message, err := coordinator.inflight.Do(messageID, func() (*Message, error) {
		return coordinator.fetcher.FetchMessageByID(ctx, messageID)
	})
	if err != nil {
		coordinator.logOperation(OperationLog{Operation: operationHydrate, MessageID: messageID, Error: err})
	}
	if err != nil || message == nil {
		coordinator.pollOnce(ctx)
		return
	}
	coordinator.deliver(*message)
}

func (coordinator *Coordinator) deliver(message Message) {
	if coordinator.sink != nil {
		coordinator.sink.HandleMessage(message)
	}
}

// pollOnce runs one synchronization pass. Errors are recorded and
// swallowed; the scheduled session retries on its next tick.
func (coordinator *Coordinator) pollOnce(ctx context.Context) {
	coordinator.mutex.Lock()
	enabled := coordinator.enabled
	coordinator.mutex.Unlock()
	if !enabled || ctx == nil || ctx.Err() != nil {
		return
	}
	if err := coordinator.pollFn(ctx); err != nil {
		coordinator.logOperation(OperationLog{Operation: operationPoll, Error: err})
	}
}

// shouldPollLocked is the single polling condition: enabled AND
// foregrounded AND live delivery not currently usable.
func (coordinator *Coordinator) shouldPollLocked() bool {
	return coordinator.enabled && coordinator.foregrounded && coordinator.state != StateLiveConnected
}

func (coordinator *Coordinator) evaluatePollingLocked() {
	if coordinator.shouldPollLocked() {
		coordinator.armPollingLocked()
	} else {
		coordinator.stopPollingLocked()
	}
}

func (coordinator *Coordinator) armPollingLocked() {
	if coordinator.poll.IsActive(coordinator.pollID) {
		return
	}
	coordinator.startPollSessionLocked()
}

func (coordinator *Coordinator) startPollSessionLocked() {
	runCtx := coordinator.runCtx
	coordinator.pollID = coordinator.poll.Start([]time.Duration{coordinator.pollInterval}, func(sessionID uint64, isLast bool) {
		coordinator.pollOnce(runCtx)
		if isLast {
			coordinator.rearmPolling(sessionID)
		}
	})
}

// rearmPolling extends the fixed-interval safety net after the session's
// final tick, provided the session was not superseded meanwhile and the
// polling condition still holds.
func (coordinator *Coordinator) rearmPolling(previousID uint64) {
	coordinator.mutex.Lock()
	defer coordinator.mutex.Unlock()
	if coordinator.pollID != previousID || !coordinator.poll.IsActive(previousID) {
		return
	}
	if !coordinator.shouldPollLocked() {
		coordinator.stopPollingLocked()
		return
	}
	coordinator.startPollSessionLocked()
}

func (coordinator *Coordinator) stopPollingLocked() {
	coordinator.poll.Stop()
}

// teardownChannelLocked bumps the connection epoch so the reader for the
// old connection goes quiet, and hands the channel back for the caller to
// disconnect outside the lock.
func (coordinator *Coordinator) teardownChannelLocked(cause string) RealtimeChannel {
	coordinator.epoch++
	coordinator.setStateLocked(StateDisconnected, cause)
	return coordinator.channel
}

func (coordinator *Coordinator) setStateLocked(to State, cause string) {
	if coordinator.state == to {
		return
	}
	from := coordinator.state
	coordinator.state = to
	coordinator.logOperation(OperationLog{Operation: operationTransition, From: from, To: to, Cause: cause})
}

func (coordinator *Coordinator) logOperation(entry OperationLog) {
	if coordinator.logger == nil {
		return
	}
	coordinator.logger.LogOperation(entry)
}
