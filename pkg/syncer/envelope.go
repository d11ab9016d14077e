package syncer

import (
	"strconv"
	"time"
)

// Envelope is a normalized live-channel event. Transport adapters may
// deliver the event fields nested one level under a "payload" key;
// NormalizeEnvelope unwraps that before the coordinator classifies the
// event by its type tag.
type Envelope struct {
	Type   string
	Status string
	Fields map[string]any
}

// Envelope type tags the coordinator understands. Anything else is
// accepted as a no-op.
const (
	EnvelopeTypeStatus  = "status"
	EnvelopeTypeMessage = "message"
	EnvelopeTypeTyping  = "typing"
)

// Live-channel status values carried by status envelopes.
const (
	ChannelStatusOpen       = "open"
	ChannelStatusClosed     = "closed"
	ChannelStatusConnecting = "connecting"
)

// NormalizeEnvelope unwraps a single level of payload nesting and extracts
// the type and status tags. The inner payload's type wins when both levels
// carry one.
func NormalizeEnvelope(raw map[string]any) Envelope {
	typeTag, _ := raw["type"].(string)
	fields := raw
	if payload, nested := raw["payload"].(map[string]any); nested {
		fields = payload
		if innerType, present := payload["type"].(string); present && innerType != "" {
			typeTag = innerType
		}
	}
	status, _ := fields["status"].(string)
	if status == "" {
		status, _ = raw["status"].(string)
	}
	return Envelope{Type: typeTag, Status: status, Fields: fields}
}

// StringField returns the named field when it is a string.
func (envelope Envelope) StringField(key string) string {
	value, _ := envelope.Fields[key].(string)
	return value
}

// identifierField returns the named field as a string. Numeric
// identifiers, which JSON decoding hands over as float64, are stringified
// so they keep their dedup identity instead of reading as absent.
func (envelope Envelope) identifierField(key string) string {
	switch value := envelope.Fields[key].(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(value, 10)
	case int:
		return strconv.Itoa(value)
	}
	return ""
}

// EventKey identifies the event for dedup purposes: the explicit event id
// when present, else the message id. An empty key never dedupes.
func (envelope Envelope) EventKey() string {
	if eventID := envelope.identifierField("event_id"); eventID != "" {
		return eventID
	}
	return envelope.identifierField("id")
}

// Message is a hydrated live message delivered to the sink.
type Message struct {
	ID         string
	SenderID   string
	SenderName string
	Body       string
	SentAt     time.Time
}

// messageFromFields builds a Message from an inline payload, succeeding
// only when the payload carries full sender detail. Without that the
// coordinator must hydrate by id instead.
func messageFromFields(fields map[string]any) (Message, bool) {
	id, _ := fields["id"].(string)
	if id == "" {
		return Message{}, false
	}
	sender, hasSender := fields["sender"].(map[string]any)
	if !hasSender {
		return Message{}, false
	}
	senderID, _ := sender["id"].(string)
	senderName, _ := sender["name"].(string)
	if senderID == "" || senderName == "" {
		return Message{}, false
	}
	message := Message{ID: id, SenderID: senderID, SenderName: senderName}
	message.Body, _ = fields["body"].(string)
	if sentAt, present := fields["sent_at"].(string); present {
		if parsed, err := time.Parse(time.RFC3339, sentAt); err == nil {
			message.SentAt = parsed
		}
	}
	return message, true
}
