// Package crowdfund implements the contribution ledger: contributions above a
// USD minimum are accepted and tracked per contributor, and the owner can
// withdraw the whole balance, which resets every record.
package crowdfund

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/crowdfund/internal/logging"
	"github.com/congo-pay/crowdfund/internal/oracle"
)

const (
	// DefaultNativeDecimals is the scale of native amounts (wei precision).
	DefaultNativeDecimals int32 = 18
)

// DefaultMinimumUSD is the contribution threshold used when none is configured.
var DefaultMinimumUSD = decimal.NewFromInt(50)

// Identity is an opaque participant identifier.
type Identity string

// PriceOracle is the read-only price source the ledger converts with.
type PriceOracle interface {
	LatestPrice(ctx context.Context) (oracle.Price, error)
	Address() string
}

// Treasury moves native funds in and out of the ledger's custody.
// Collect must not call back into the Ledger; Disburse may. Collect returns a
// reference for the posting it made.
type Treasury interface {
	Collect(ctx context.Context, from Identity, amount decimal.Decimal) (string, error)
	Disburse(ctx context.Context, to Identity, amount decimal.Decimal) error
}

// Notifier is told about every recorded contribution. It runs after the ledger
// lock is released, so slow delivery never blocks other callers.
type Notifier interface {
	ContributionSettled(ctx context.Context, from Identity, amount decimal.Decimal, reference string)
}

// Recorder observes ledger outcomes (metrics).
type Recorder interface {
	ContributionRecorded(amount, usd decimal.Decimal)
	ContributionRejected(err error)
	Withdrawn(amount decimal.Decimal)
	WithdrawFailed(err error)
	BalanceChanged(balance decimal.Decimal)
}

// Config holds construction-time parameters.
type Config struct {
	Owner          Identity
	MinimumUSD     decimal.Decimal
	NativeDecimals int32
}

// Contribution is one contributor's cumulative amount.
type Contribution struct {
	Contributor Identity
	Amount      decimal.Decimal
}

// Ledger owns all contribution state. Owner and oracle never change after New.
type Ledger struct {
	owner          Identity
	oracle         PriceOracle
	treasury       Treasury
	minimumUSD     decimal.Decimal
	nativeDecimals int32
	logger         *slog.Logger
	recorder       Recorder
	notifier       Notifier
	opening        []Contribution

	mu            sync.RWMutex
	contributions map[Identity]decimal.Decimal
	contributors  []Identity
	balance       decimal.Decimal
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logging.Component(logger, "crowdfund") }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Ledger) { l.recorder = r }
}

// WithNotifier announces recorded contributions.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithOpeningRecords starts the ledger with records already held by the
// treasury, in first-contribution order.
func WithOpeningRecords(records []Contribution) Option {
	return func(l *Ledger) { l.opening = records }
}

// New constructs a ledger for owner, converting with priceOracle and holding
// funds through treasury.
func New(cfg Config, priceOracle PriceOracle, treasury Treasury, opts ...Option) (*Ledger, error) {
	if cfg.Owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidIdentity)
	}
	if priceOracle == nil {
		return nil, fmt.Errorf("price oracle is required")
	}
	if treasury == nil {
		return nil, fmt.Errorf("treasury is required")
	}
	if cfg.MinimumUSD.IsZero() {
		cfg.MinimumUSD = DefaultMinimumUSD
	}
	if cfg.MinimumUSD.IsNegative() {
		return nil, fmt.Errorf("minimum usd must not be negative")
	}
	if cfg.NativeDecimals <= 0 {
		cfg.NativeDecimals = DefaultNativeDecimals
	}

	l := &Ledger{
		owner:          cfg.Owner,
		oracle:         priceOracle,
		treasury:       treasury,
		minimumUSD:     cfg.MinimumUSD,
		nativeDecimals: cfg.NativeDecimals,
		logger:         logging.Discard(),
		recorder:       nopRecorder{},
		contributions:  make(map[Identity]decimal.Decimal),
		balance:        decimal.Zero,
	}
	for _, opt := range opts {
		opt(l)
	}
	for _, c := range l.opening {
		if c.Contributor == "" {
			return nil, ErrInvalidIdentity
		}
		if !c.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: opening record %s has %s", ErrInvalidAmount, c.Contributor, c.Amount)
		}
		if _, dup := l.contributions[c.Contributor]; dup {
			return nil, fmt.Errorf("opening record %s listed twice", c.Contributor)
		}
		l.contributions[c.Contributor] = c.Amount
		l.contributors = append(l.contributors, c.Contributor)
		l.balance = l.balance.Add(c.Amount)
	}
	l.opening = nil
	l.recorder.BalanceChanged(l.balance)
	return l, nil
}

// Fund records a contribution of amount from caller. Funds are collected only
// when the USD value meets the minimum.
func (l *Ledger) Fund(ctx context.Context, caller Identity, amount decimal.Decimal) error {
	if err := l.fund(ctx, caller, amount); err != nil {
		l.recorder.ContributionRejected(err)
		return err
	}
	return nil
}

func (l *Ledger) fund(ctx context.Context, caller Identity, amount decimal.Decimal) error {
	if caller == "" {
		return ErrInvalidIdentity
	}
	if amount.IsNegative() || !representable(amount, l.nativeDecimals) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	price, err := l.oracle.LatestPrice(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if err := price.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	usd := ToUSD(amount, price)
	if usd.LessThan(l.minimumUSD) {
		return fmt.Errorf("%w: %s USD is below the %s USD minimum", ErrInsufficientAmount, usd.StringFixed(2), l.minimumUSD)
	}

	l.mu.Lock()
	reference, err := l.treasury.Collect(ctx, caller, amount)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrPaymentRejected, err)
	}

	prev, seen := l.contributions[caller]
	if !seen {
		l.contributors = append(l.contributors, caller)
	}
	l.contributions[caller] = prev.Add(amount)
	l.balance = l.balance.Add(amount)
	l.recorder.BalanceChanged(l.balance)
	l.mu.Unlock()

	l.recorder.ContributionRecorded(amount, usd)
	if l.notifier != nil {
		l.notifier.ContributionSettled(ctx, caller, amount, reference)
	}
	l.logger.Info("contribution recorded",
		slog.String("contributor", string(caller)),
		slog.String("amount", amount.String()),
		slog.String("usd", usd.StringFixed(2)),
		slog.String("reference", reference),
		slog.Bool("first", !seen),
	)
	return nil
}

// staged is the bookkeeping removed by a withdrawal, kept until the payout settles.
type staged struct {
	amount        decimal.Decimal
	contributions map[Identity]decimal.Decimal
	contributors  []Identity
}

// Withdraw pays the whole balance to the owner, clears every record and
// returns the amount paid. Records are cleared before the payout starts so
// reentrant calls observe an empty ledger; a failed payout restores them.
func (l *Ledger) Withdraw(ctx context.Context, caller Identity) (decimal.Decimal, error) {
	if caller != l.owner {
		err := fmt.Errorf("%w: %s", ErrNotOwner, caller)
		l.recorder.WithdrawFailed(err)
		return decimal.Zero, err
	}

	l.mu.Lock()
	s := l.stage()
	l.recorder.BalanceChanged(l.balance)
	l.mu.Unlock()

	if s.amount.IsZero() {
		l.logger.Info("withdraw with empty balance", slog.String("owner", string(l.owner)))
		return decimal.Zero, nil
	}

	if err := l.treasury.Disburse(ctx, l.owner, s.amount); err != nil {
		l.mu.Lock()
		l.restore(s)
		l.recorder.BalanceChanged(l.balance)
		l.mu.Unlock()

		err = fmt.Errorf("%w: %v", ErrTransferFailed, err)
		l.recorder.WithdrawFailed(err)
		l.logger.Error("withdraw rolled back",
			slog.String("owner", string(l.owner)),
			slog.String("amount", s.amount.String()),
			slog.Any("error", err),
		)
		return decimal.Zero, err
	}

	l.recorder.Withdrawn(s.amount)
	l.logger.Info("withdraw completed",
		slog.String("owner", string(l.owner)),
		slog.String("amount", s.amount.String()),
		slog.Int("contributors", len(s.contributors)),
	)
	return s.amount, nil
}

// stage must be called with l.mu held.
func (l *Ledger) stage() staged {
	s := staged{
		amount:        l.balance,
		contributions: l.contributions,
		contributors:  l.contributors,
	}
	l.contributions = make(map[Identity]decimal.Decimal)
	l.contributors = nil
	l.balance = decimal.Zero
	return s
}

// restore merges staged records back in front of anything recorded while the
// payout was in flight. Must be called with l.mu held.
func (l *Ledger) restore(s staged) {
	order := make([]Identity, 0, len(s.contributors)+len(l.contributors))
	order = append(order, s.contributors...)
	for _, id := range l.contributors {
		if _, ok := s.contributions[id]; !ok {
			order = append(order, id)
		}
	}
	for id, amount := range l.contributions {
		s.contributions[id] = s.contributions[id].Add(amount)
	}
	l.contributors = order
	l.contributions = s.contributions
	l.balance = l.balance.Add(s.amount)
}

// Owner returns the identity allowed to withdraw.
func (l *Ledger) Owner() Identity {
	return l.owner
}

// PriceOracleAddress identifies the configured price feed.
func (l *Ledger) PriceOracleAddress() string {
	return l.oracle.Address()
}

// MinimumUSD returns the contribution threshold.
func (l *Ledger) MinimumUSD() decimal.Decimal {
	return l.minimumUSD
}

// MinimumContribution returns the smallest native amount accepted at the current price.
func (l *Ledger) MinimumContribution(ctx context.Context) (decimal.Decimal, error) {
	price, err := l.oracle.LatestPrice(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	if err := price.Validate(); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	return MinimumNative(l.minimumUSD, price, l.nativeDecimals), nil
}

// NativeDecimals returns the native amount scale.
func (l *Ledger) NativeDecimals() int32 {
	return l.nativeDecimals
}

// ContributionOf returns the cumulative amount for id, zero if absent.
func (l *Ledger) ContributionOf(id Identity) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	amount, ok := l.contributions[id]
	if !ok {
		return decimal.Zero
	}
	return amount
}

// ContributorAt returns the index-th contributor in first-contribution order.
func (l *Ledger) ContributorAt(index int) (Identity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.contributors) {
		return "", fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return l.contributors[index], nil
}

// ContributorCount returns the number of distinct contributors.
func (l *Ledger) ContributorCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.contributors)
}

// Balance returns the amount currently held.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// Snapshot returns every contribution in first-contribution order.
func (l *Ledger) Snapshot() []Contribution {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Contribution, 0, len(l.contributors))
	for _, id := range l.contributors {
		out = append(out, Contribution{Contributor: id, Amount: l.contributions[id]})
	}
	return out
}

type nopRecorder struct{}

func (nopRecorder) ContributionRecorded(decimal.Decimal, decimal.Decimal) {}
func (nopRecorder) ContributionRejected(error)                            {}
func (nopRecorder) Withdrawn(decimal.Decimal)                             {}
func (nopRecorder) WithdrawFailed(error)                                  {}
func (nopRecorder) BalanceChanged(decimal.Decimal)                        {}
