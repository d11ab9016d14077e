// Package realtime adapts a NATS connection to the coordinator's
// RealtimeChannel contract. Transport trouble never surfaces as an error
// on the event stream: connection lifecycle callbacks are translated into
// status envelopes and the coordinator decides what to do with them.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/paysync/pkg/channelset"
	"github.com/MarkoPoloResearchLab/paysync/pkg/syncer"
)

const (
	defaultEventBuffer   = 64
	defaultReconnectWait = 2 * time.Second
	connectionName       = "paysync"
)

// ErrAlreadyConnected rejects a second Connect without a Disconnect in
// between.
var ErrAlreadyConnected = errors.New("realtime channel already connected")

// Channel is a NATS-backed live event source. Topic changes are applied as
// channelset deltas so an unchanged topic list costs nothing and a changed
// one only touches the difference.
type Channel struct {
	mutex         sync.Mutex
	natsURL       string
	topics        []string
	conn          *nats.Conn
	subscriptions map[string]*nats.Subscription
	events        chan syncer.Envelope
	closed        bool
	logger        *zap.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger wires a logger for dropped-event and decode diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(channel *Channel) {
		if logger != nil {
			channel.logger = logger
		}
	}
}

// New returns a Channel that will subscribe to the given topics once
// connected. The topic list is normalized up front.
func New(natsURL string, topics []string, options ...Option) *Channel {
	channel := &Channel{
		natsURL:       natsURL,
		topics:        channelset.BuildChannelList(topics),
		subscriptions: make(map[string]*nats.Subscription),
		logger:        zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(channel)
		}
	}
	return channel
}

// Connect dials NATS with the credential as the connection token and
// subscribes to the configured topics. It returns the envelope stream the
// coordinator reads; the stream stays open across reconnects, with
// status envelopes marking each transition.
func (channel *Channel) Connect(ctx context.Context, credential string) (<-chan syncer.Envelope, error) {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	if channel.conn != nil {
		return nil, ErrAlreadyConnected
	}

	events := make(chan syncer.Envelope, defaultEventBuffer)
	channel.events = events
	channel.closed = false

	conn, err := nats.Connect(channel.natsURL,
		nats.Name(connectionName),
		nats.Token(credential),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(defaultReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, disconnectErr error) {
			channel.pushStatus(syncer.ChannelStatusClosed)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			channel.pushStatus(syncer.ChannelStatusOpen)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			channel.pushStatus(syncer.ChannelStatusClosed)
		}),
	)
	if err != nil {
		channel.events = nil
		return nil, fmt.Errorf("connect realtime: %w", err)
	}
	channel.conn = conn

	for _, topic := range channel.topics {
		subscription, subscribeErr := conn.Subscribe(topic, channel.handleMessage)
		if subscribeErr != nil {
			conn.Close()
			channel.conn = nil
			channel.events = nil
			channel.subscriptions = make(map[string]*nats.Subscription)
			return nil, fmt.Errorf("subscribe %s: %w", topic, subscribeErr)
		}
		channel.subscriptions[topic] = subscription
	}

	channel.pushStatusLocked(syncer.ChannelStatusOpen)
	return events, nil
}

// SetTopics reconciles the live subscriptions with the desired topic list.
// When the normalized lists are positionally equal nothing is touched;
// otherwise only the delta is subscribed or unsubscribed.
func (channel *Channel) SetTopics(topics []string) error {
	next := channelset.BuildChannelList(topics)
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	if channelset.Equal(channel.topics, next) {
		return nil
	}
	diff := channelset.DiffChannelSets(channel.topics, next)
	if channel.conn != nil {
		for _, topic := range diff.Removed {
			if subscription, subscribed := channel.subscriptions[topic]; subscribed {
				if err := subscription.Unsubscribe(); err != nil {
					channel.logger.Warn("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
				}
				delete(channel.subscriptions, topic)
			}
		}
		for _, topic := range diff.Added {
			subscription, err := channel.conn.Subscribe(topic, channel.handleMessage)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", topic, err)
			}
			channel.subscriptions[topic] = subscription
		}
	}
	channel.topics = next
	return nil
}

// Disconnect tears the connection down. Safe to call repeatedly and safe
// to call before Connect.
func (channel *Channel) Disconnect() error {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	channel.closed = true
	if channel.conn == nil {
		return nil
	}
	channel.conn.Close()
	channel.conn = nil
	channel.subscriptions = make(map[string]*nats.Subscription)
	channel.events = nil
	return nil
}

func (channel *Channel) handleMessage(message *nats.Msg) {
	var raw map[string]any
	if err := json.Unmarshal(message.Data, &raw); err != nil {
		// Malformed frames are dropped; the poll fallback covers gaps.
		channel.logger.Debug("dropping undecodable frame", zap.String("topic", message.Subject), zap.Error(err))
		return
	}
	channel.push(syncer.NormalizeEnvelope(raw))
}

func (channel *Channel) pushStatus(status string) {
	channel.push(syncer.Envelope{Type: syncer.EnvelopeTypeStatus, Status: status})
}

func (channel *Channel) push(envelope syncer.Envelope) {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()
	channel.pushLocked(envelope)
}

func (channel *Channel) pushStatusLocked(status string) {
	channel.pushLocked(syncer.Envelope{Type: syncer.EnvelopeTypeStatus, Status: status})
}

func (channel *Channel) pushLocked(envelope syncer.Envelope) {
	if channel.closed || channel.events == nil {
		return
	}
	select {
	case channel.events <- envelope:
	default:
		// The consumer is behind; dropping is safe because polling is the
		// delivery guarantee, the live stream is an optimization.
		channel.logger.Warn("event buffer full, dropping envelope", zap.String("type", envelope.Type))
	}
}
