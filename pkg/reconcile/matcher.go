package reconcile

// Matcher decides whether a purchase attempt has been confirmed against a
// ledger snapshot. All four provider matchers share one implementation,
// parametrized by the provider tag, the correlation identifiers it honors,
// and whether a product-id equality may stand in for the expected amount.
//
// Matching runs in priority order:
//
//  1. Exact correlation: an entry carrying the context's correlation key
//     (checkout reference, external id, or the IAP coin event id)
//     confirms the purchase if it is a mint credit. A correlation id is
//     authoritative, so no amount or time constraint applies.
//  2. Heuristic fallback, consulted only when NO entry carries the expected
//     correlation key: a mint credit with a matching (or absent) provider
//     tag, the expected amount (or, for IAP, the expected product id), and
//     a timestamp at or after the instant checkout began.
//
// Malformed entries never match; the matcher fails closed rather than
// confirming on bad data. Callers re-invoke Matches on a poll schedule
// against fresh snapshots until it returns true or they give up.
type Matcher struct {
	provider          Provider
	coinEventID       bool
	productIDFallback bool
}

// NewIPayMatcher matches iPay mint credits against a ledger snapshot. Most
// iPay confirmations instead use ShouldCompleteIPayPolling, which needs no
// ledger at all.
func NewIPayMatcher() Matcher {
	return Matcher{provider: ProviderIPay}
}

// NewStripeMatcher matches Stripe mint credits.
func NewStripeMatcher() Matcher {
	return Matcher{provider: ProviderStripe}
}

// NewBTCPayMatcher matches BTCPay mint credits.
func NewBTCPayMatcher() Matcher {
	return Matcher{provider: ProviderBTCPay}
}

// NewIAPMatcher matches native in-app-purchase mint credits. IAP entries
// may correlate by coin event id and may fall back to product-id equality
// when the minted amount differs from the expected one.
func NewIAPMatcher() Matcher {
	return Matcher{provider: ProviderIAP, coinEventID: true, productIDFallback: true}
}

// Provider returns the tag this matcher was built for.
func (matcher Matcher) Provider() Provider { return matcher.provider }

// Matches reports whether the purchase described by context is confirmed by
// the given snapshot. Entries are read-only; the snapshot may be empty.
func (matcher Matcher) Matches(context PurchaseContext, entries []LedgerEntry) bool {
	correlationKeySeen := false
	for _, entry := range entries {
		if !matcher.entryCarriesCorrelationKey(context, entry) {
			continue
		}
		correlationKeySeen = true
		if entry.IsMintCredit() {
			return true
		}
	}
	if correlationKeySeen {
		// The authoritative key is present on some entry but never on a
		// usable mint credit; the heuristic must not override it.
		return false
	}
	for _, entry := range entries {
		if matcher.heuristicMatch(context, entry) {
			return true
		}
	}
	return false
}

func (matcher Matcher) entryCarriesCorrelationKey(context PurchaseContext, entry LedgerEntry) bool {
	if context.reference != "" {
		if reference, present := entry.MetadataValue(metadataKeyReference); present && reference == context.reference {
			return true
		}
	}
	if external := context.externalCorrelationID(); external != "" {
		if externalID, present := entry.MetadataValue(metadataKeyExternalID); present && externalID == external {
			return true
		}
	}
	if matcher.coinEventID && context.coinEventID != 0 && entry.EventID != nil && *entry.EventID == context.coinEventID {
		return true
	}
	return false
}

func (matcher Matcher) heuristicMatch(context PurchaseContext, entry LedgerEntry) bool {
	if !entry.IsMintCredit() {
		return false
	}
	if !entryMatchesProvider(entry, matcher.provider) {
		return false
	}
	amountMatches := entry.AmountCents == context.expectedAmountCents
	if !amountMatches && matcher.productIDFallback && context.productID != "" {
		if productID, present := entry.MetadataValue(metadataKeyProductID); present && productID == context.productID {
			amountMatches = true
		}
	}
	if !amountMatches {
		return false
	}
	timestamp, hasTimestamp := entry.Timestamp()
	if !hasTimestamp {
		return false
	}
	// A mint predating the attempt is a stale, unrelated top-up.
	return !timestamp.Before(context.startedAt)
}
