package promo

import (
	"cmp"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// StackingMode controls how stackable discounts combine.
type StackingMode string

const (
	// StackIndependent computes every stackable discount against the
	// original eligible amount.
	StackIndependent StackingMode = "independent"
	// StackSequential applies stackable discounts in priority order, each
	// against what the previous ones left.
	StackSequential StackingMode = "sequential"
)

// Candidate is a policy that passed targeting and eligibility gates. Base is
// the subtotal of the cart lines it applies to.
type Candidate struct {
	Policy *Policy
	Base   decimal.Decimal
}

// Selection is the final applied set.
type Selection struct {
	Applied      []Result
	Rejected     []Result
	Discount     decimal.Decimal
	FreeShipping bool
}

// Selector picks the applied set among evaluated candidates.
type Selector struct {
	Mode StackingMode
}

// rank orders policies by priority, then newest first, then by code so the
// outcome never depends on load order.
func rank(a, b *Policy) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Code, b.Code)
}

// SelectExplicit evaluates a customer-supplied code alone.
func (s Selector) SelectExplicit(subtotal decimal.Decimal, c Candidate, now time.Time) Selection {
	res := Calculate(c.Policy, c.Base, now)
	sel := Selection{Discount: decimal.Zero}
	if !res.Valid {
		sel.Rejected = append(sel.Rejected, res)
		return sel
	}
	sel.Applied = []Result{res}
	sel.finish(subtotal)
	return sel
}

// SelectAuto chooses among auto-apply candidates. The best non-stackable
// policy competes with the group of stackable ones; the side with the higher
// priority wins, with ties going to the larger discount and then to the
// non-stackable policy.
func (s Selector) SelectAuto(subtotal decimal.Decimal, cands []Candidate, now time.Time) Selection {
	sel := Selection{Discount: decimal.Zero}

	var single, stack []Candidate
	results := make(map[*Policy]Result, len(cands))
	for _, c := range cands {
		res := Calculate(c.Policy, c.Base, now)
		if !res.Valid {
			sel.Rejected = append(sel.Rejected, res)
			continue
		}
		results[c.Policy] = res
		if c.Policy.Stackable {
			stack = append(stack, c)
		} else {
			single = append(single, c)
		}
	}
	byRank := func(a, b Candidate) int { return rank(a.Policy, b.Policy) }
	slices.SortFunc(single, byRank)
	slices.SortFunc(stack, byRank)

	var stacked []Result
	if len(stack) > 0 {
		stacked = s.stack(stack, results)
	}

	useSingle := len(single) > 0
	if useSingle && len(stack) > 0 {
		top, best := stack[0].Policy, single[0].Policy
		switch {
		case best.Priority != top.Priority:
			useSingle = best.Priority > top.Priority
		default:
			useSingle = !sum(stacked).GreaterThan(results[best].Amount)
		}
	}

	if useSingle {
		sel.Applied = []Result{results[single[0].Policy]}
		sel.Rejected = append(sel.Rejected, outranked(single[1:], results)...)
		sel.Rejected = append(sel.Rejected, outranked(stack, results)...)
	} else {
		sel.Applied = stacked
		sel.Rejected = append(sel.Rejected, outranked(single, results)...)
	}
	sel.finish(subtotal)
	return sel
}

// stack computes the stackable group in rank order.
func (s Selector) stack(cands []Candidate, results map[*Policy]Result) []Result {
	out := make([]Result, 0, len(cands))
	spent := decimal.Zero
	for _, c := range cands {
		res := results[c.Policy]
		if s.Mode == StackSequential {
			left := c.Base.Sub(spent)
			if left.IsNegative() {
				left = decimal.Zero
			}
			res.Amount = c.Policy.amountFor(left).Round(2)
			spent = spent.Add(res.Amount)
		}
		out = append(out, res)
	}
	return out
}

func outranked(cands []Candidate, results map[*Policy]Result) []Result {
	out := make([]Result, 0, len(cands))
	for _, c := range cands {
		res := results[c.Policy]
		res.Valid = false
		res.Amount = decimal.Zero
		res.Reason = ReasonOutranked
		res.FreeShipping = false
		out = append(out, res)
	}
	return out
}

func sum(rs []Result) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rs {
		total = total.Add(r.Amount)
	}
	return total
}

// finish clamps the aggregate discount to subtotal by trimming the lowest
// ranked applied results first.
func (sel *Selection) finish(subtotal decimal.Decimal) {
	excess := sum(sel.Applied).Sub(subtotal)
	for i := len(sel.Applied) - 1; i >= 0 && excess.IsPositive(); i-- {
		cut := decimal.Min(excess, sel.Applied[i].Amount)
		sel.Applied[i].Amount = sel.Applied[i].Amount.Sub(cut)
		excess = excess.Sub(cut)
	}
	sel.Discount = sum(sel.Applied)
	for _, r := range sel.Applied {
		if r.FreeShipping {
			sel.FreeShipping = true
		}
	}
}
