package reconcile

// ShouldCompleteIPayPolling reports whether an iPay purchase is confirmed.
// iPay exposes no per-entry ledger to the client, so confirmation compares
// the balance captured before checkout against the latest polled balance:
// any observation strictly above the baseline completes the flow. Once
// true, a later dip back to the baseline is irrelevant.
func ShouldCompleteIPayPolling(baselineBalanceCents int64, currentBalanceCents int64) bool {
	return currentBalanceCents > baselineBalanceCents
}
