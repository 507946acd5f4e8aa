package crowdfund

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/crowdfund/internal/oracle"
)

const owner Identity = "owner"

type fakeTreasury struct {
	mu          sync.Mutex
	held        decimal.Decimal
	paid        map[Identity]decimal.Decimal
	collects    int
	disburses   int
	collectErr  error
	disburseErr error
	onDisburse  func(ctx context.Context) error
}

func newFakeTreasury() *fakeTreasury {
	return &fakeTreasury{paid: make(map[Identity]decimal.Decimal)}
}

func (f *fakeTreasury) Collect(_ context.Context, _ Identity, amount decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collectErr != nil {
		return "", f.collectErr
	}
	f.collects++
	f.held = f.held.Add(amount)
	return fmt.Sprintf("collect-%d", f.collects), nil
}

func (f *fakeTreasury) Disburse(ctx context.Context, to Identity, amount decimal.Decimal) error {
	f.mu.Lock()
	if f.disburseErr != nil {
		f.mu.Unlock()
		return f.disburseErr
	}
	f.disburses++
	f.held = f.held.Sub(amount)
	f.paid[to] = f.paid[to].Add(amount)
	hook := f.onDisburse
	f.mu.Unlock()

	// recipient code runs without the treasury lock, like an external call
	if hook != nil {
		if err := hook(ctx); err != nil {
			f.mu.Lock()
			f.held = f.held.Add(amount)
			f.paid[to] = f.paid[to].Sub(amount)
			f.mu.Unlock()
			return err
		}
	}
	return nil
}

func (f *fakeTreasury) heldAmount() decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

func (f *fakeTreasury) paidTo(id Identity) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paid[id]
}

// 2000 USD per unit with 8 decimals, like the development mock aggregator.
func testOracle() *oracle.Static {
	return oracle.NewStatic("ETH/USD", 8, decimal.NewFromInt(2000_00000000))
}

func newTestLedger(t *testing.T) (*Ledger, *fakeTreasury, *oracle.Static) {
	t.Helper()
	feed := testOracle()
	tr := newFakeTreasury()
	l, err := New(Config{Owner: owner}, feed, tr)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l, tr, feed
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertBalanced(t *testing.T, l *Ledger) {
	t.Helper()
	sum := decimal.Zero
	seen := make(map[Identity]bool)
	for _, c := range l.Snapshot() {
		if seen[c.Contributor] {
			t.Fatalf("contributor %s listed twice", c.Contributor)
		}
		seen[c.Contributor] = true
		if !c.Amount.IsPositive() {
			t.Fatalf("contributor %s has non-positive amount %s", c.Contributor, c.Amount)
		}
		sum = sum.Add(c.Amount)
	}
	if !sum.Equal(l.Balance()) {
		t.Fatalf("balance %s != sum of contributions %s", l.Balance(), sum)
	}
}

func sameSnapshot(a, b []Contribution) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Contributor != b[i].Contributor || !a[i].Amount.Equal(b[i].Amount) {
			return false
		}
	}
	return true
}

func TestNewValidatesDependencies(t *testing.T) {
	if _, err := New(Config{}, testOracle(), newFakeTreasury()); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity for empty owner, got %v", err)
	}
	if _, err := New(Config{Owner: owner}, nil, newFakeTreasury()); err == nil {
		t.Fatal("expected error for missing oracle")
	}
	if _, err := New(Config{Owner: owner}, testOracle(), nil); err == nil {
		t.Fatal("expected error for missing treasury")
	}

	l, err := New(Config{Owner: owner}, testOracle(), newFakeTreasury())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !l.MinimumUSD().Equal(DefaultMinimumUSD) || l.NativeDecimals() != DefaultNativeDecimals {
		t.Fatalf("expected defaults, got min=%s decimals=%d", l.MinimumUSD(), l.NativeDecimals())
	}
	if l.Owner() != owner {
		t.Fatalf("expected owner %s, got %s", owner, l.Owner())
	}
	if l.PriceOracleAddress() != "static:ETH/USD" {
		t.Fatalf("unexpected oracle address %s", l.PriceOracleAddress())
	}
}

func TestFundRejectsAmountsBelowMinimum(t *testing.T) {
	l, tr, _ := newTestLedger(t)
	ctx := context.Background()

	for _, a := range []string{"0", "0.000000000000000001", "0.0001", "0.024999999999999999"} {
		err := l.Fund(ctx, "alice", amt(a))
		if !errors.Is(err, ErrInsufficientAmount) {
			t.Fatalf("amount %s: expected insufficient amount, got %v", a, err)
		}
	}
	if !l.Balance().IsZero() || l.ContributorCount() != 0 || !l.ContributionOf("alice").IsZero() {
		t.Fatalf("rejected contributions mutated state: balance=%s count=%d", l.Balance(), l.ContributorCount())
	}
	if tr.collects != 0 || !tr.heldAmount().IsZero() {
		t.Fatalf("rejected contributions must not be collected, collects=%d", tr.collects)
	}
}

func TestFundAcceptsExactMinimum(t *testing.T) {
	l, _, _ := newTestLedger(t)
	// 0.025 * 2000 = 50 USD
	if err := l.Fund(context.Background(), "alice", amt("0.025")); err != nil {
		t.Fatalf("expected exact minimum to be accepted, got %v", err)
	}
}

func TestFundScenarioWithDevelopmentPrice(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	if err := l.Fund(ctx, "alice", amt("0.03")); err != nil {
		t.Fatalf("0.03 units (60 USD) should be accepted: %v", err)
	}
	if err := l.Fund(ctx, "bob", amt("0.0001")); !errors.Is(err, ErrInsufficientAmount) {
		t.Fatalf("0.0001 units (0.2 USD) should be rejected, got %v", err)
	}
	if !l.ContributionOf("alice").Equal(amt("0.03")) {
		t.Fatalf("expected alice to have 0.03, got %s", l.ContributionOf("alice"))
	}
	if l.ContributorCount() != 1 {
		t.Fatalf("expected one contributor, got %d", l.ContributorCount())
	}
}

func TestFundRejectsInvalidInput(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	if err := l.Fund(ctx, "alice", amt("-1")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for negative, got %v", err)
	}
	if err := l.Fund(ctx, "alice", amt("1.0000000000000000001")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount below native scale, got %v", err)
	}
	if err := l.Fund(ctx, "", amt("1")); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity, got %v", err)
	}
}

func TestFundOracleUnavailable(t *testing.T) {
	l, tr, feed := newTestLedger(t)
	ctx := context.Background()

	feed.Fail(errors.New("feed down"))
	if err := l.Fund(ctx, "alice", amt("1")); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected oracle unavailable, got %v", err)
	}

	feed.Fail(nil)
	feed.UpdateAnswer(decimal.Zero)
	if err := l.Fund(ctx, "alice", amt("1")); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected oracle unavailable for zero answer, got %v", err)
	}
	if tr.collects != 0 || !l.Balance().IsZero() {
		t.Fatal("oracle failures must not mutate state")
	}
}

func TestFundUsesCurrentPrice(t *testing.T) {
	l, _, feed := newTestLedger(t)
	ctx := context.Background()

	feed.UpdateAnswer(decimal.NewFromInt(1000_00000000))
	if err := l.Fund(ctx, "alice", amt("0.03")); !errors.Is(err, ErrInsufficientAmount) {
		t.Fatalf("0.03 at 1000 USD is 30 USD, expected rejection, got %v", err)
	}
	feed.UpdateAnswer(decimal.NewFromInt(4000_00000000))
	if err := l.Fund(ctx, "alice", amt("0.02")); err != nil {
		t.Fatalf("0.02 at 4000 USD is 80 USD, expected acceptance, got %v", err)
	}
}

func TestFundCollectFailureRecordsNothing(t *testing.T) {
	l, tr, _ := newTestLedger(t)
	tr.collectErr = errors.New("wallet empty")

	if err := l.Fund(context.Background(), "alice", amt("1")); !errors.Is(err, ErrPaymentRejected) {
		t.Fatalf("expected payment rejected, got %v", err)
	}
	if l.ContributorCount() != 0 || !l.Balance().IsZero() {
		t.Fatal("failed collection must not be recorded")
	}
}

func TestFundKeepsBalanceEqualToContributions(t *testing.T) {
	l, tr, _ := newTestLedger(t)
	ctx := context.Background()

	seq := []struct {
		who    Identity
		amount string
	}{
		{"alice", "0.03"}, {"bob", "1"}, {"alice", "0.5"}, {"carol", "0.025"}, {"bob", "2.000000000000000001"},
	}
	for _, s := range seq {
		if err := l.Fund(ctx, s.who, amt(s.amount)); err != nil {
			t.Fatalf("fund %s %s: %v", s.who, s.amount, err)
		}
		assertBalanced(t, l)
		if !tr.heldAmount().Equal(l.Balance()) {
			t.Fatalf("treasury holds %s but ledger balance is %s", tr.heldAmount(), l.Balance())
		}
	}

	want := []Identity{"alice", "bob", "carol"}
	for i, id := range want {
		got, err := l.ContributorAt(i)
		if err != nil || got != id {
			t.Fatalf("contributor %d: expected %s, got %s (%v)", i, id, got, err)
		}
	}
}

func TestFundTwiceTracksOneContributor(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	if err := l.Fund(ctx, "alice", amt("1")); err != nil {
		t.Fatalf("first fund: %v", err)
	}
	if err := l.Fund(ctx, "alice", amt("0.5")); err != nil {
		t.Fatalf("second fund: %v", err)
	}
	if l.ContributorCount() != 1 {
		t.Fatalf("expected one contributor entry, got %d", l.ContributorCount())
	}
	if !l.ContributionOf("alice").Equal(amt("1.5")) {
		t.Fatalf("expected 1.5, got %s", l.ContributionOf("alice"))
	}
}

func TestConcurrentFundsStayConsistent(t *testing.T) {
	l, tr, _ := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := Identity(fmt.Sprintf("funder-%d", i%5))
			if err := l.Fund(ctx, who, amt("0.1")); err != nil {
				t.Errorf("fund %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	assertBalanced(t, l)
	if l.ContributorCount() != 5 {
		t.Fatalf("expected 5 contributors, got %d", l.ContributorCount())
	}
	if !l.Balance().Equal(amt("2")) || !tr.heldAmount().Equal(amt("2")) {
		t.Fatalf("expected 2 held, ledger=%s treasury=%s", l.Balance(), tr.heldAmount())
	}
}

func TestWithdrawOnlyOwner(t *testing.T) {
	l, tr, _ := newTestLedger(t)
	ctx := context.Background()
	l.Fund(ctx, "alice", amt("1"))
	l.Fund(ctx, "bob", amt("2"))
	before := l.Snapshot()

	if _, err := l.Withdraw(ctx, "alice"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if !sameSnapshot(before, l.Snapshot()) || !l.Balance().Equal(amt("3")) {
		t.Fatal("non-owner withdraw changed state")
	}
	if tr.disburses != 0 {
		t.Fatal("non-owner withdraw moved funds")
	}
}

func TestWithdrawFromMultipleFunders(t *testing.T) {
	l, tr, _ := newTestLedger(t)
	ctx := context.Background()

	funders := []Identity{"f1", "f2", "f3", "f4", "f5"}
	for _, f := range funders {
		if err := l.Fund(ctx, f, amt("1")); err != nil {
			t.Fatalf("fund %s: %v", f, err)
		}
	}

	paid, err := l.Withdraw(ctx, owner)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !paid.Equal(amt("5")) {
		t.Fatalf("expected withdraw to report 5, got %s", paid)
	}
	if !tr.paidTo(owner).Equal(amt("5")) {
		t.Fatalf("expected owner paid 5, got %s", tr.paidTo(owner))
	}
	if !l.Balance().IsZero() || l.ContributorCount() != 0 || !tr.heldAmount().IsZero() {
		t.Fatalf("expected empty ledger, balance=%s count=%d", l.Balance(), l.ContributorCount())
	}
	if _, err := l.ContributorAt(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected index error after withdraw, got %v", err)
	}
	for _, f := range funders {
		if !l.ContributionOf(f).IsZero() {
			t.Fatalf("expected %s reset to zero", f)
		}
		if err := l.Fund(ctx, f, amt("1")); err != nil {
			t.Fatalf("re-fund %s: %v", f, err)
		}
	}
	assertBalanced(t, l)
}

func TestWithdrawEmptyLedgerIsNoop(t *testing.T) {
	l, tr, _ := newTestLedger(t)
	paid, err := l.Withdraw(context.Background(), owner)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !paid.IsZero() || tr.disburses != 0 {
		t.Fatalf("expected no disbursement, got %d", tr.disburses)
	}
}

func TestWithdrawTransferFailureRestoresState(t *testing.T) {
	l, tr, _ := newTestLedger(t)
	ctx := context.Background()
	l.Fund(ctx, "alice", amt("1"))
	l.Fund(ctx, "bob", amt("0.5"))
	l.Fund(ctx, "alice", amt("0.25"))
	before := l.Snapshot()

	tr.disburseErr = errors.New("recipient rejected")
	if _, err := l.Withdraw(ctx, owner); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failed, got %v", err)
	}
	if !sameSnapshot(before, l.Snapshot()) {
		t.Fatalf("expected records restored, got %+v", l.Snapshot())
	}
	if !l.Balance().Equal(amt("1.75")) || !tr.heldAmount().Equal(amt("1.75")) {
		t.Fatalf("expected 1.75 still held, ledger=%s treasury=%s", l.Balance(), tr.heldAmount())
	}

	tr.disburseErr = nil
	if _, err := l.Withdraw(ctx, owner); err != nil {
		t.Fatalf("retry withdraw: %v", err)
	}
	if !tr.paidTo(owner).Equal(amt("1.75")) {
		t.Fatalf("expected owner paid 1.75, got %s", tr.paidTo(owner))
	}
}

func TestWithdrawReentrantFundSeesEmptyLedger(t *testing.T) {
	l, tr, _ := newTestLedger(t)
	ctx := context.Background()
	l.Fund(ctx, "alice", amt("1"))
	l.Fund(ctx, "bob", amt("2"))

	var (
		observedCount   = -1
		observedAlice   decimal.Decimal
		observedBalance decimal.Decimal
		reentrantErr    error
		secondWithdraw  error
		entered         bool
	)
	tr.onDisburse = func(ctx context.Context) error {
		if entered {
			return nil
		}
		entered = true
		observedCount = l.ContributorCount()
		observedAlice = l.ContributionOf("alice")
		observedBalance = l.Balance()
		reentrantErr = l.Fund(ctx, "mallory", amt("0.5"))
		_, secondWithdraw = l.Withdraw(ctx, owner)
		return nil
	}

	paid, err := l.Withdraw(ctx, owner)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !paid.Equal(amt("3")) {
		t.Fatalf("expected the outer withdraw to report 3, got %s", paid)
	}

	if observedCount != 0 || !observedAlice.IsZero() || !observedBalance.IsZero() {
		t.Fatalf("reentrant call saw stale state: count=%d alice=%s balance=%s", observedCount, observedAlice, observedBalance)
	}
	if reentrantErr != nil {
		t.Fatalf("reentrant fund: %v", reentrantErr)
	}
	if secondWithdraw != nil {
		t.Fatalf("reentrant withdraw: %v", secondWithdraw)
	}

	// the first withdraw paid 3 once; the nested withdraw paid mallory's 0.5
	if tr.disburses != 2 {
		t.Fatalf("expected 2 disbursements, got %d", tr.disburses)
	}
	if !tr.paidTo(owner).Equal(amt("3.5")) {
		t.Fatalf("expected 3.5 paid in total, got %s", tr.paidTo(owner))
	}
	if !l.Balance().IsZero() || l.ContributorCount() != 0 {
		t.Fatalf("expected empty ledger, balance=%s count=%d", l.Balance(), l.ContributorCount())
	}
}

func TestWithdrawRollbackKeepsReentrantContribution(t *testing.T) {
	l, tr, _ := newTestLedger(t)
	ctx := context.Background()
	l.Fund(ctx, "alice", amt("1"))
	l.Fund(ctx, "bob", amt("2"))

	tr.onDisburse = func(ctx context.Context) error {
		if err := l.Fund(ctx, "mallory", amt("0.5")); err != nil {
			t.Errorf("reentrant fund: %v", err)
		}
		if err := l.Fund(ctx, "alice", amt("0.5")); err != nil {
			t.Errorf("reentrant fund: %v", err)
		}
		return errors.New("revert")
	}

	if _, err := l.Withdraw(ctx, owner); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failed, got %v", err)
	}

	want := []Contribution{
		{Contributor: "alice", Amount: amt("1.5")},
		{Contributor: "bob", Amount: amt("2")},
		{Contributor: "mallory", Amount: amt("0.5")},
	}
	if !sameSnapshot(want, l.Snapshot()) {
		t.Fatalf("unexpected records after rollback: %+v", l.Snapshot())
	}
	assertBalanced(t, l)
	if !tr.heldAmount().Equal(l.Balance()) {
		t.Fatalf("treasury holds %s, ledger balance %s", tr.heldAmount(), l.Balance())
	}
}

func TestContributorAtBounds(t *testing.T) {
	l, _, _ := newTestLedger(t)
	l.Fund(context.Background(), "alice", amt("1"))

	if _, err := l.ContributorAt(-1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected index error for -1, got %v", err)
	}
	if _, err := l.ContributorAt(1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected index error for 1, got %v", err)
	}
	if id, err := l.ContributorAt(0); err != nil || id != "alice" {
		t.Fatalf("expected alice, got %s (%v)", id, err)
	}
}

func TestOpeningRecordsAreWithdrawable(t *testing.T) {
	tr := newFakeTreasury()
	tr.held = amt("3.5")
	opening := []Contribution{
		{Contributor: "alice", Amount: amt("1.5")},
		{Contributor: "bob", Amount: amt("2")},
	}
	l, err := New(Config{Owner: owner}, testOracle(), tr, WithOpeningRecords(opening))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !sameSnapshot(opening, l.Snapshot()) || !l.Balance().Equal(amt("3.5")) {
		t.Fatalf("unexpected opening state %+v balance=%s", l.Snapshot(), l.Balance())
	}

	if err := l.Fund(context.Background(), "alice", amt("1")); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if l.ContributorCount() != 2 || !l.ContributionOf("alice").Equal(amt("2.5")) {
		t.Fatalf("expected alice topped up in place, got %+v", l.Snapshot())
	}

	paid, err := l.Withdraw(context.Background(), owner)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !paid.Equal(amt("4.5")) || !tr.heldAmount().IsZero() {
		t.Fatalf("expected 4.5 paid out, got %s with %s left", paid, tr.heldAmount())
	}
}

func TestOpeningRecordsAreValidated(t *testing.T) {
	cases := []struct {
		name    string
		records []Contribution
	}{
		{"empty identity", []Contribution{{Amount: amt("1")}}},
		{"zero amount", []Contribution{{Contributor: "alice", Amount: decimal.Zero}}},
		{"duplicate", []Contribution{{Contributor: "alice", Amount: amt("1")}, {Contributor: "alice", Amount: amt("1")}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(Config{Owner: owner}, testOracle(), newFakeTreasury(), WithOpeningRecords(tc.records)); err == nil {
				t.Fatal("expected opening records to be rejected")
			}
		})
	}
}

type blockingNotifier struct {
	entered chan struct{}
	release chan struct{}
	refs    []string
}

func (n *blockingNotifier) ContributionSettled(_ context.Context, _ Identity, _ decimal.Decimal, reference string) {
	n.refs = append(n.refs, reference)
	n.entered <- struct{}{}
	<-n.release
}

func TestSlowNotifierDoesNotBlockReaders(t *testing.T) {
	n := &blockingNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	l, err := New(Config{Owner: owner}, testOracle(), newFakeTreasury(), WithNotifier(n))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	funded := make(chan error, 1)
	go func() { funded <- l.Fund(context.Background(), "alice", amt("1")) }()
	<-n.entered

	read := make(chan decimal.Decimal, 1)
	go func() {
		l.ContributionOf("bob")
		read <- l.Balance()
	}()
	select {
	case bal := <-read:
		if !bal.Equal(amt("1")) {
			t.Fatalf("expected recorded balance 1 during delivery, got %s", bal)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("readers blocked while a notification was being delivered")
	}

	close(n.release)
	if err := <-funded; err != nil {
		t.Fatalf("fund: %v", err)
	}
	if len(n.refs) != 1 || n.refs[0] != "collect-1" {
		t.Fatalf("expected the collect reference to be announced, got %v", n.refs)
	}
}
