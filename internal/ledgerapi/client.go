// Package ledgerapi is the REST collaborator the reconciliation core polls:
// point-in-time ledger snapshots, message hydration by id, and the
// incremental message feed behind the coordinator's full resync.
package ledgerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/paysync/pkg/reconcile"
	"github.com/MarkoPoloResearchLab/paysync/pkg/syncer"
)

const (
	defaultRequestTimeout = 10 * time.Second

	pathLedgerEntries = "/v1/ledger/entries"
	pathMessageByID   = "/v1/messages/{id}"
	pathMessages      = "/v1/messages"
	pathWalletBalance = "/v1/wallet/balance"
)

// ErrRequestFailed wraps non-2xx responses.
var ErrRequestFailed = errors.New("ledger api request failed")

// Client talks to the ledger/message API. All methods return transient
// failures as plain errors; callers retry on their poll schedule.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAuthToken sets the bearer token attached to every request.
func WithAuthToken(token string) Option {
	return func(client *Client) {
		client.http.SetAuthToken(token)
	}
}

// WithLogger wires a logger for skipped-entry diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(client *Client) {
		if timeout > 0 {
			client.http.SetTimeout(timeout)
		}
	}
}

// New returns a Client rooted at baseURL.
func New(baseURL string, options ...Option) *Client {
	client := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultRequestTimeout).
			SetHeader("Accept", "application/json"),
		logger: zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client
}

type entriesResponse struct {
	Entries []json.RawMessage `json:"entries"`
}

// FetchLedgerEntries returns a point-in-time snapshot of ledger entries.
// The snapshot may be empty. Entries that fail to decode are skipped, not
// fatal: a malformed record must read as "does not match", never as an
// error that stops the polling loop.
func (client *Client) FetchLedgerEntries(ctx context.Context) ([]reconcile.LedgerEntry, error) {
	response, err := client.http.R().SetContext(ctx).Get(pathLedgerEntries)
	if err != nil {
		return nil, fmt.Errorf("fetch ledger entries: %w", err)
	}
	if response.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, response.StatusCode())
	}
	var body entriesResponse
	if err := json.Unmarshal(response.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode ledger entries: %w", err)
	}
	entries := make([]reconcile.LedgerEntry, 0, len(body.Entries))
	for _, raw := range body.Entries {
		var entry reconcile.LedgerEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			client.logger.Debug("skipping malformed ledger entry", zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type wireSender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireMessage struct {
	ID     string     `json:"id"`
	Body   string     `json:"body"`
	SentAt string     `json:"sent_at"`
	Sender wireSender `json:"sender"`
}

func (message wireMessage) toMessage() syncer.Message {
	converted := syncer.Message{
		ID:         message.ID,
		SenderID:   message.Sender.ID,
		SenderName: message.Sender.Name,
		Body:       message.Body,
	}
	if message.SentAt != "" {
		if parsed, err := time.Parse(time.RFC3339, message.SentAt); err == nil {
			converted.SentAt = parsed
		}
	}
	return converted
}

// FetchMessageByID hydrates one message. A missing message is nil, nil so
// the coordinator can degrade to a full resync instead of treating absence
// as an error.
func (client *Client) FetchMessageByID(ctx context.Context, id string) (*syncer.Message, error) {
	response, err := client.http.R().SetContext(ctx).SetPathParam("id", id).Get(pathMessageByID)
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", id, err)
	}
	if response.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if response.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, response.StatusCode())
	}
	var body wireMessage
	if err := json.Unmarshal(response.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", id, err)
	}
	message := body.toMessage()
	return &message, nil
}

type balanceResponse struct {
	BalanceCents int64 `json:"balance_cents"`
}

// FetchBalance returns the current wallet balance in minor units. iPay
// confirmation polls this instead of a ledger snapshot.
func (client *Client) FetchBalance(ctx context.Context) (int64, error) {
	response, err := client.http.R().SetContext(ctx).Get(pathWalletBalance)
	if err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}
	if response.IsError() {
		return 0, fmt.Errorf("%w: status %d", ErrRequestFailed, response.StatusCode())
	}
	var body balanceResponse
	if err := json.Unmarshal(response.Body(), &body); err != nil {
		return 0, fmt.Errorf("decode balance: %w", err)
	}
	return body.BalanceCents, nil
}

type messagesResponse struct {
	Messages []wireMessage `json:"messages"`
}

// FetchMessagesSince returns messages created at or after the cursor, used
// by the coordinator's full resync pass. A zero cursor fetches the default
// server window.
func (client *Client) FetchMessagesSince(ctx context.Context, since time.Time) ([]syncer.Message, error) {
	request := client.http.R().SetContext(ctx)
	if !since.IsZero() {
		request.SetQueryParam("since", since.UTC().Format(time.RFC3339))
	}
	response, err := request.Get(pathMessages)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	if response.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrRequestFailed, response.StatusCode())
	}
	var body messagesResponse
	if err := json.Unmarshal(response.Body(), &body); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	messages := make([]syncer.Message, 0, len(body.Messages))
	for _, wire := range body.Messages {
		messages = append(messages, wire.toMessage())
	}
	return messages, nil
}
