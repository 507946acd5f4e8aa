package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that seeds the balance for an account when using the in-memory ledger.
// The genesis account is debited so the ledger stays balanced.
func SeedBalance(l Ledger, code string, amount decimal.Decimal) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		prev := mem.balances[code]
		mem.balances[code] = amount
		mem.balances[GenesisAccountCode] = mem.balances[GenesisAccountCode].Sub(amount.Sub(prev))
	}
}
