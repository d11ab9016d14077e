package ledgerapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchLedgerEntriesSkipsMalformedEntries(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v1/ledger/entries" {
			http.NotFound(writer, request)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"entries": [
			{"event_type":"mint","direction":"CREDIT","amount_cents":499,"occurred_at":"2024-03-01T00:01:00Z","event_metadata":{"provider":"stripe"}},
			{"event_type":"mint","amount_cents":"not-a-number"},
			{"event_type":"transfer","amount_cents":200}
		]}`))
	}))
	test.Cleanup(server.Close)

	client := New(server.URL)
	entries, err := client.FetchLedgerEntries(context.Background())
	if err != nil {
		test.Fatalf("fetch: %v", err)
	}
	if len(entries) != 2 {
		test.Fatalf("expected malformed entry to be skipped, got %d entries", len(entries))
	}
	if entries[0].AmountCents != 499 || !entries[0].IsMintCredit() {
		test.Fatalf("first entry decoded wrong: %+v", entries[0])
	}
}

func TestFetchLedgerEntriesSurfacesServerErrors(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		http.Error(writer, "boom", http.StatusInternalServerError)
	}))
	test.Cleanup(server.Close)

	client := New(server.URL)
	if _, err := client.FetchLedgerEntries(context.Background()); !errors.Is(err, ErrRequestFailed) {
		test.Fatalf("expected ErrRequestFailed, got %v", err)
	}
}

func TestFetchMessageByIDReturnsNilOnNotFound(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		http.NotFound(writer, request)
	}))
	test.Cleanup(server.Close)

	client := New(server.URL)
	message, err := client.FetchMessageByID(context.Background(), "missing")
	if err != nil {
		test.Fatalf("expected soft miss, got error %v", err)
	}
	if message != nil {
		test.Fatalf("expected nil message for 404, got %+v", message)
	}
}

func TestFetchMessageByIDDecodesSender(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v1/messages/message-1" {
			http.NotFound(writer, request)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"id":"message-1","body":"hello","sent_at":"2024-03-01T00:00:00Z","sender":{"id":"sender-1","name":"Sender One"}}`))
	}))
	test.Cleanup(server.Close)

	client := New(server.URL)
	message, err := client.FetchMessageByID(context.Background(), "message-1")
	if err != nil {
		test.Fatalf("fetch: %v", err)
	}
	if message == nil || message.SenderName != "Sender One" || message.SentAt.IsZero() {
		test.Fatalf("message decoded wrong: %+v", message)
	}
}

func TestFetchBalanceDecodesCents(test *testing.T) {
	test.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v1/wallet/balance" {
			http.NotFound(writer, request)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"balance_cents":1250}`))
	}))
	test.Cleanup(server.Close)

	client := New(server.URL)
	balance, err := client.FetchBalance(context.Background())
	if err != nil {
		test.Fatalf("fetch balance: %v", err)
	}
	if balance != 1250 {
		test.Fatalf("expected 1250, got %d", balance)
	}
}

func TestFetchMessagesSincePassesCursor(test *testing.T) {
	test.Parallel()
	var observedSince string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		observedSince = request.URL.Query().Get("since")
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"messages":[{"id":"message-1","sender":{"id":"s","name":"n"}}]}`))
	}))
	test.Cleanup(server.Close)

	client := New(server.URL)
	cursor := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	messages, err := client.FetchMessagesSince(context.Background(), cursor)
	if err != nil {
		test.Fatalf("fetch: %v", err)
	}
	if observedSince != "2024-03-01T00:00:00Z" {
		test.Fatalf("cursor not forwarded, got %q", observedSince)
	}
	if len(messages) != 1 || messages[0].ID != "message-1" {
		test.Fatalf("messages decoded wrong: %+v", messages)
	}
}
