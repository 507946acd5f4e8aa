package payments

import (
	"github.com/shopspring/decimal"

	"github.com/congo-pay/crowdfund/internal/crowdfund"
)

// records accumulates contributions in first-contribution order.
type records struct {
	order   []crowdfund.Identity
	amounts map[crowdfund.Identity]decimal.Decimal
}

func (r *records) add(id crowdfund.Identity, amount decimal.Decimal) {
	if r.amounts == nil {
		r.amounts = make(map[crowdfund.Identity]decimal.Decimal)
	}
	prev, seen := r.amounts[id]
	if !seen {
		r.order = append(r.order, id)
	}
	r.amounts[id] = prev.Add(amount)
}

// merge returns r followed by anything in later that r does not already hold.
func (r records) merge(later records) records {
	var out records
	for _, id := range r.order {
		out.add(id, r.amounts[id])
	}
	for _, id := range later.order {
		out.add(id, later.amounts[id])
	}
	return out
}

func (r records) total() decimal.Decimal {
	sum := decimal.Zero
	for _, amount := range r.amounts {
		sum = sum.Add(amount)
	}
	return sum
}

func (r records) list() []crowdfund.Contribution {
	out := make([]crowdfund.Contribution, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, crowdfund.Contribution{Contributor: id, Amount: r.amounts[id]})
	}
	return out
}
