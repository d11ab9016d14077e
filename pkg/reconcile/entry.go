package reconcile

import "time"

const (
	eventTypeMint   = "mint"
	directionCredit = "CREDIT"

	metadataKeyProvider   = "provider"
	metadataKeyReference  = "reference"
	metadataKeyExternalID = "external_id"
	metadataKeyProductID  = "product_id"
)

// LedgerEntry is a read-only snapshot of a server-reported accounting
// record. Metadata keys live in EventMetadata, with Metadata as the legacy
// top-level mirror consulted only when EventMetadata lacks the key. EventID
// is present for in-app-purchase entries only.
type LedgerEntry struct {
	EventType     string            `json:"event_type"`
	Direction     string            `json:"direction,omitempty"`
	AmountCents   int64             `json:"amount_cents"`
	OccurredAt    string            `json:"occurred_at,omitempty"`
	CreatedAt     string            `json:"created_at,omitempty"`
	EventMetadata map[string]string `json:"event_metadata,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	EventID       *int64            `json:"event_id,omitempty"`
}

// IsMintCredit reports whether the entry represents newly minted balance.
// An absent direction defaults to credit-eligible; transfers and debits
// never qualify regardless of amount.
func (entry LedgerEntry) IsMintCredit() bool {
	if entry.EventType != eventTypeMint {
		return false
	}
	return entry.Direction == "" || entry.Direction == directionCredit
}

// MetadataValue looks key up in EventMetadata first, then in the legacy
// Metadata mirror. The boolean distinguishes "metadata present but field
// absent" from a present value.
func (entry LedgerEntry) MetadataValue(key string) (string, bool) {
	if value, ok := entry.EventMetadata[key]; ok {
		return value, true
	}
	if value, ok := entry.Metadata[key]; ok {
		return value, true
	}
	return "", false
}

// Timestamp parses occurred_at, falling back to created_at. Unparsable or
// absent timestamps yield ok == false, which fails every time-gated rule.
func (entry LedgerEntry) Timestamp() (time.Time, bool) {
	if entry.OccurredAt != "" {
		if parsed, err := time.Parse(time.RFC3339, entry.OccurredAt); err == nil {
			return parsed, true
		}
	}
	if entry.CreatedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, entry.CreatedAt); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func entryMatchesProvider(entry LedgerEntry, provider Provider) bool {
	tag, present := entry.MetadataValue(metadataKeyProvider)
	if !present || tag == "" {
		// Legacy entries omit the tag; absence never blocks a match.
		return true
	}
	return tag == string(provider)
}
