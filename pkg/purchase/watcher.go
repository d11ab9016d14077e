// Package purchase drives confirmation of a payment attempt: it re-checks
// a provider matcher against fresh ledger snapshots on a scheduled poll
// session until the purchase confirms or the schedule is exhausted.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/paysync/pkg/pollsession"
	"github.com/MarkoPoloResearchLab/paysync/pkg/reconcile"
)

// DefaultSchedule is the retry offsets a confirmation check runs at,
// relative to the moment watching starts.
var DefaultSchedule = []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second}

// ErrInvalidWatcherConfig rejects a watcher with missing dependencies.
var ErrInvalidWatcherConfig = errors.New("invalid watcher config")

// LedgerFetcher returns a point-in-time ledger snapshot.
type LedgerFetcher interface {
	FetchLedgerEntries(ctx context.Context) ([]reconcile.LedgerEntry, error)
}

// BalanceFetcher returns the current wallet balance in minor units.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context) (int64, error)
}

// ResultFunc receives the terminal outcome of one watch: confirmed or
// exhausted. It is called exactly once per watch unless the watch is
// cancelled first.
type ResultFunc func(confirmed bool)

// Option configures a watcher.
type Option func(*scheduleHolder)

type scheduleHolder struct {
	schedule []time.Duration
}

// WithSchedule overrides the retry offsets.
func WithSchedule(schedule []time.Duration) Option {
	return func(holder *scheduleHolder) {
		if len(schedule) > 0 {
			holder.schedule = schedule
		}
	}
}

// Watcher polls ledger snapshots until a provider matcher confirms the
// purchase. Transient fetch failures count as "unmatched this round"; the
// next scheduled tick retries.
type Watcher struct {
	fetcher  LedgerFetcher
	matcher  reconcile.Matcher
	onResult ResultFunc
	schedule []time.Duration
	session  *pollsession.Session
}

// NewWatcher wires a Watcher.
func NewWatcher(fetcher LedgerFetcher, matcher reconcile.Matcher, onResult ResultFunc, options ...Option) (*Watcher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher dependency is nil", ErrInvalidWatcherConfig)
	}
	if onResult == nil {
		return nil, fmt.Errorf("%w: result callback is nil", ErrInvalidWatcherConfig)
	}
	holder := scheduleHolder{schedule: DefaultSchedule}
	for _, option := range options {
		if option != nil {
			option(&holder)
		}
	}
	return &Watcher{
		fetcher:  fetcher,
		matcher:  matcher,
		onResult: onResult,
		schedule: holder.schedule,
		session:  pollsession.New(),
	}, nil
}

// Watch starts checking the purchase on the schedule. A previous watch on
// the same Watcher is superseded.
func (watcher *Watcher) Watch(ctx context.Context, purchaseContext reconcile.PurchaseContext) {
	watcher.session.Start(watcher.schedule, func(sessionID uint64, isLast bool) {
		entries, err := watcher.fetcher.FetchLedgerEntries(ctx)
		if err == nil && watcher.matcher.Matches(purchaseContext, entries) {
			if watcher.session.IsActive(sessionID) {
				watcher.session.Stop()
				watcher.onResult(true)
			}
			return
		}
		// The session may have been cancelled or superseded while the
		// fetch was in flight; a dead session reports nothing.
		if isLast && watcher.session.IsActive(sessionID) {
			watcher.onResult(false)
		}
	})
}

// Cancel stops the current watch without reporting a result.
func (watcher *Watcher) Cancel() {
	watcher.session.Stop()
}

// BalanceWatcher is the iPay confirmation path: no per-entry ledger is
// available, so it polls the wallet balance and completes once an
// observation rises strictly above the baseline captured before checkout.
type BalanceWatcher struct {
	fetcher       BalanceFetcher
	baselineCents int64
	onResult      ResultFunc
	schedule      []time.Duration
	session       *pollsession.Session
}

// NewBalanceWatcher wires a BalanceWatcher around the pre-checkout
// baseline balance.
func NewBalanceWatcher(fetcher BalanceFetcher, baselineCents int64, onResult ResultFunc, options ...Option) (*BalanceWatcher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher dependency is nil", ErrInvalidWatcherConfig)
	}
	if onResult == nil {
		return nil, fmt.Errorf("%w: result callback is nil", ErrInvalidWatcherConfig)
	}
	holder := scheduleHolder{schedule: DefaultSchedule}
	for _, option := range options {
		if option != nil {
			option(&holder)
		}
	}
	return &BalanceWatcher{
		fetcher:       fetcher,
		baselineCents: baselineCents,
		onResult:      onResult,
		schedule:      holder.schedule,
		session:       pollsession.New(),
	}, nil
}

// Watch polls the balance on the schedule.
func (watcher *BalanceWatcher) Watch(ctx context.Context) {
	watcher.session.Start(watcher.schedule, func(sessionID uint64, isLast bool) {
		currentCents, err := watcher.fetcher.FetchBalance(ctx)
		if err == nil && reconcile.ShouldCompleteIPayPolling(watcher.baselineCents, currentCents) {
			if watcher.session.IsActive(sessionID) {
				watcher.session.Stop()
				watcher.onResult(true)
			}
			return
		}
		if isLast && watcher.session.IsActive(sessionID) {
			watcher.onResult(false)
		}
	})
}

// Cancel stops the current watch without reporting a result.
func (watcher *BalanceWatcher) Cancel() {
	watcher.session.Stop()
}
