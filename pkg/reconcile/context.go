package reconcile

import (
	"fmt"
	"time"
)

// Provider tags the payment rail a purchase attempt went through.
type Provider string

const (
	ProviderIPay   Provider = "ipay"
	ProviderStripe Provider = "stripe"
	ProviderBTCPay Provider = "btcpay"
	ProviderIAP    Provider = "iap"
)

func validProvider(provider Provider) bool {
	switch provider {
	case ProviderIPay, ProviderStripe, ProviderBTCPay, ProviderIAP:
		return true
	}
	return false
}

// PurchaseContext is the immutable record of one payment attempt: the rail
// it went through, the amount the caller expects to see minted, the
// correlation identifiers the provider handed back, and the wall-clock
// instant the checkout flow began.
type PurchaseContext struct {
	provider            Provider
	expectedAmountCents int64
	reference           string
	providerEventID     string
	transactionID       string
	coinEventID         int64
	productID           string
	startedAt           time.Time
}

// ContextOption attaches optional correlation identifiers to a context.
type ContextOption func(*PurchaseContext)

// WithReference sets the caller-supplied checkout reference.
func WithReference(reference string) ContextOption {
	return func(context *PurchaseContext) { context.reference = reference }
}

// WithProviderEventID sets the provider-issued event identifier. It takes
// precedence over the transaction id when matching external_id.
func WithProviderEventID(providerEventID string) ContextOption {
	return func(context *PurchaseContext) { context.providerEventID = providerEventID }
}

// WithTransactionID sets the provider transaction identifier.
func WithTransactionID(transactionID string) ContextOption {
	return func(context *PurchaseContext) { context.transactionID = transactionID }
}

// WithCoinEventID sets the in-app-purchase coin event identifier.
func WithCoinEventID(coinEventID int64) ContextOption {
	return func(context *PurchaseContext) { context.coinEventID = coinEventID }
}

// WithProductID sets the in-app-purchase product identifier used by the
// amount-or-product fallback.
func WithProductID(productID string) ContextOption {
	return func(context *PurchaseContext) { context.productID = productID }
}

// NewPurchaseContext validates and builds a purchase context. The amount is
// in minor currency units and must be strictly positive; startedAt anchors
// the lower bound of every time-gated heuristic match.
func NewPurchaseContext(provider Provider, expectedAmountCents int64, startedAt time.Time, options ...ContextOption) (PurchaseContext, error) {
	if !validProvider(provider) {
		return PurchaseContext{}, fmt.Errorf("%w: %q", ErrInvalidProvider, provider)
	}
	if expectedAmountCents <= 0 {
		return PurchaseContext{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	if startedAt.IsZero() {
		return PurchaseContext{}, fmt.Errorf("%w: zero instant", ErrInvalidStartTime)
	}
	context := PurchaseContext{
		provider:            provider,
		expectedAmountCents: expectedAmountCents,
		startedAt:           startedAt,
	}
	for _, option := range options {
		if option != nil {
			option(&context)
		}
	}
	return context, nil
}

// Provider returns the payment rail tag.
func (context PurchaseContext) Provider() Provider { return context.provider }

// ExpectedAmountCents returns the amount the caller expects to be minted.
func (context PurchaseContext) ExpectedAmountCents() int64 { return context.expectedAmountCents }

// StartedAt returns the instant the purchase flow began.
func (context PurchaseContext) StartedAt() time.Time { return context.startedAt }

// externalCorrelationID prefers the provider event id over the transaction
// id when matching an entry's external_id.
func (context PurchaseContext) externalCorrelationID() string {
	if context.providerEventID != "" {
		return context.providerEventID
	}
	return context.transactionID
}
