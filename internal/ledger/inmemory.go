package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

type inMemoryLedger struct {
	mu           sync.RWMutex
	balances     map[string]decimal.Decimal
	transactions map[string]TransactionResult
	journal      []journalEntry
}

type journalEntry struct {
	id         string
	clientTxID string
	kind       string
	from, to   string
	amount     decimal.Decimal
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and development environments.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		balances:     map[string]decimal.Decimal{GenesisAccountCode: decimal.Zero},
		transactions: make(map[string]TransactionResult),
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[code]; !exists {
		l.balances[code] = decimal.Zero
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, code string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[code]
	if !exists {
		return decimal.Zero, ErrAccountNotFound
	}
	return balance, nil
}

func (l *inMemoryLedger) Transfer(_ context.Context, fromCode, toCode, kind, clientTxID string, amount decimal.Decimal) (TransactionResult, error) {
	if !amount.IsPositive() {
		return TransactionResult{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.post(fromCode, toCode, kind, clientTxID, amount)
}

func (l *inMemoryLedger) Mint(_ context.Context, toCode, clientTxID string, amount decimal.Decimal) (TransactionResult, error) {
	if !amount.IsPositive() {
		return TransactionResult{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.post(GenesisAccountCode, toCode, KindMint, clientTxID, amount)
}

// post must be called with l.mu held.
func (l *inMemoryLedger) post(fromCode, toCode, kind, clientTxID string, amount decimal.Decimal) (TransactionResult, error) {
	key := kind + ":" + clientTxID
	if res, exists := l.transactions[key]; exists {
		return res, ErrDuplicateTransaction
	}

	fromBalance, ok := l.balances[fromCode]
	if !ok {
		return TransactionResult{}, ErrAccountNotFound
	}
	toBalance, ok := l.balances[toCode]
	if !ok {
		return TransactionResult{}, ErrAccountNotFound
	}

	if fromCode != GenesisAccountCode && fromBalance.LessThan(amount) {
		return TransactionResult{}, ErrInsufficientFunds
	}

	fromBalance = fromBalance.Sub(amount)
	toBalance = toBalance.Add(amount)

	l.balances[fromCode] = fromBalance
	l.balances[toCode] = toBalance

	res := TransactionResult{
		TransactionID: key,
		FromBalance:   fromBalance,
		ToBalance:     toBalance,
	}

	l.transactions[key] = res
	l.journal = append(l.journal, journalEntry{id: key, clientTxID: clientTxID, kind: kind, from: fromCode, to: toCode, amount: amount})
	return res, nil
}

func (l *inMemoryLedger) Postings(_ context.Context, code string) ([]Posting, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, exists := l.balances[code]; !exists {
		return nil, ErrAccountNotFound
	}
	var out []Posting
	for _, e := range l.journal {
		p := Posting{TransactionID: e.id, ClientTxID: e.clientTxID, Kind: e.kind}
		switch code {
		case e.to:
			p.Counterparty, p.Amount = e.from, e.amount
		case e.from:
			p.Counterparty, p.Amount = e.to, e.amount.Neg()
		default:
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
