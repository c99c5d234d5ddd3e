package promo

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func autoPolicy(id, code string, priority int, stackable bool, value string) *Policy {
	p := activePolicy(id, code)
	p.AutoApply = true
	p.Priority = priority
	p.Stackable = stackable
	p.Value = dec(value)
	return p
}

func resultCodes(rs []Result) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Code
	}
	return out
}

func candidates(base string, ps ...*Policy) []Candidate {
	out := make([]Candidate, len(ps))
	for i, p := range ps {
		out[i] = Candidate{Policy: p, Base: dec(base)}
	}
	return out
}

func TestSelector_SelectExplicit(t *testing.T) {
	s := Selector{}

	p := activePolicy("p1", "SAVE10")
	sel := s.SelectExplicit(dec("200"), Candidate{Policy: p, Base: dec("200")}, fixedNow)
	require.Len(t, sel.Applied, 1)
	assert.True(t, dec("20").Equal(sel.Discount))
	assert.Empty(t, sel.Rejected)

	p.MinimumOrderAmount = dec("500")
	sel = s.SelectExplicit(dec("200"), Candidate{Policy: p, Base: dec("200")}, fixedNow)
	assert.Empty(t, sel.Applied)
	require.Len(t, sel.Rejected, 1)
	assert.Equal(t, ReasonBelowMinimum, sel.Rejected[0].Reason)
	assert.True(t, sel.Discount.IsZero())
}

func TestSelector_SelectAuto(t *testing.T) {
	older := fixedNow.Add(-72 * time.Hour)
	newer := fixedNow.Add(-time.Hour)

	tests := []struct {
		name         string
		policies     func() []*Policy
		mode         StackingMode
		wantApplied  []string
		wantDiscount string
	}{
		{
			name: "highest priority non-stackable wins",
			policies: func() []*Policy {
				return []*Policy{
					autoPolicy("a", "LOW", 1, false, "30"),
					autoPolicy("b", "HIGH", 5, false, "10"),
				}
			},
			wantApplied:  []string{"HIGH"},
			wantDiscount: "10",
		},
		{
			name: "equal priority goes to newest",
			policies: func() []*Policy {
				a := autoPolicy("a", "OLDER", 3, false, "30")
				a.CreatedAt = older
				b := autoPolicy("b", "NEWER", 3, false, "10")
				b.CreatedAt = newer
				return []*Policy{a, b}
			},
			wantApplied:  []string{"NEWER"},
			wantDiscount: "10",
		},
		{
			name: "full tie goes to code order",
			policies: func() []*Policy {
				return []*Policy{
					autoPolicy("a", "ZULU", 3, false, "30"),
					autoPolicy("b", "ALPHA", 3, false, "10"),
				}
			},
			wantApplied:  []string{"ALPHA"},
			wantDiscount: "10",
		},
		{
			name: "stackables apply together against the original amount",
			policies: func() []*Policy {
				return []*Policy{
					autoPolicy("a", "TEN", 2, true, "10"),
					autoPolicy("b", "TWENTY", 1, true, "20"),
				}
			},
			wantApplied:  []string{"TEN", "TWENTY"},
			wantDiscount: "30",
		},
		{
			name: "stackables compound in sequential mode",
			policies: func() []*Policy {
				return []*Policy{
					autoPolicy("a", "TEN", 2, true, "10"),
					autoPolicy("b", "TWENTY", 1, true, "20"),
				}
			},
			mode:         StackSequential,
			wantApplied:  []string{"TEN", "TWENTY"},
			wantDiscount: "28",
		},
		{
			name: "higher priority non-stackable beats stack",
			policies: func() []*Policy {
				return []*Policy{
					autoPolicy("a", "SOLO", 9, false, "5"),
					autoPolicy("b", "TEN", 2, true, "10"),
					autoPolicy("c", "TWENTY", 1, true, "20"),
				}
			},
			wantApplied:  []string{"SOLO"},
			wantDiscount: "5",
		},
		{
			name: "higher priority stack beats non-stackable",
			policies: func() []*Policy {
				return []*Policy{
					autoPolicy("a", "SOLO", 1, false, "50"),
					autoPolicy("b", "TEN", 4, true, "10"),
					autoPolicy("c", "TWENTY", 2, true, "20"),
				}
			},
			wantApplied:  []string{"TEN", "TWENTY"},
			wantDiscount: "30",
		},
		{
			name: "equal priority goes to the larger discount",
			policies: func() []*Policy {
				return []*Policy{
					autoPolicy("a", "SOLO", 3, false, "25"),
					autoPolicy("b", "TEN", 3, true, "10"),
					autoPolicy("c", "TWENTY", 1, true, "20"),
				}
			},
			wantApplied:  []string{"TEN", "TWENTY"},
			wantDiscount: "30",
		},
		{
			name: "equal priority and discount goes to non-stackable",
			policies: func() []*Policy {
				return []*Policy{
					autoPolicy("a", "SOLO", 3, false, "30"),
					autoPolicy("b", "TEN", 3, true, "10"),
					autoPolicy("c", "TWENTY", 1, true, "20"),
				}
			},
			wantApplied:  []string{"SOLO"},
			wantDiscount: "30",
		},
		{
			name: "aggregate is clamped to subtotal",
			policies: func() []*Policy {
				return []*Policy{
					autoPolicy("a", "SEVENTY", 2, true, "70"),
					autoPolicy("b", "SIXTY", 1, true, "60"),
				}
			},
			wantApplied:  []string{"SEVENTY", "SIXTY"},
			wantDiscount: "100",
		},
		{
			name: "invalid candidates are skipped",
			policies: func() []*Policy {
				a := autoPolicy("a", "OFF", 9, false, "50")
				a.Status = StatusInactive
				return []*Policy{a, autoPolicy("b", "ON", 1, false, "10")}
			},
			wantApplied:  []string{"ON"},
			wantDiscount: "10",
		},
		{
			name:         "no candidates",
			policies:     func() []*Policy { return nil },
			wantApplied:  []string{},
			wantDiscount: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Selector{Mode: tt.mode}
			sel := s.SelectAuto(dec("100"), candidates("100", tt.policies()...), fixedNow)

			assert.Equal(t, tt.wantApplied, resultCodes(sel.Applied))
			assert.True(t, dec(tt.wantDiscount).Equal(sel.Discount),
				"expected discount %s, got %s", tt.wantDiscount, sel.Discount)
			for _, r := range sel.Rejected {
				assert.False(t, r.Valid)
				assert.True(t, r.Amount.IsZero())
			}
			assert.Len(t, append(sel.Applied, sel.Rejected...), len(tt.policies()))
		})
	}
}

func TestSelector_SelectAuto_OutrankedReason(t *testing.T) {
	sel := Selector{}.SelectAuto(dec("100"), candidates("100",
		autoPolicy("a", "WIN", 5, false, "10"),
		autoPolicy("b", "LOSE", 1, false, "50"),
	), fixedNow)

	require.Len(t, sel.Rejected, 1)
	assert.Equal(t, "LOSE", sel.Rejected[0].Code)
	assert.Equal(t, ReasonOutranked, sel.Rejected[0].Reason)
}

func TestSelector_SelectAuto_FreeShipping(t *testing.T) {
	ship := autoPolicy("a", "SHIP", 1, true, "0")
	ship.Kind = KindFreeShipping

	sel := Selector{}.SelectAuto(dec("100"), candidates("100",
		ship,
		autoPolicy("b", "TEN", 1, true, "10"),
	), fixedNow)

	assert.True(t, sel.FreeShipping)
	assert.True(t, dec("10").Equal(sel.Discount))
}

func TestSelector_SelectAuto_UsesEligibleBase(t *testing.T) {
	p := autoPolicy("a", "SHOES", 1, false, "10")
	sel := Selector{}.SelectAuto(dec("500"), []Candidate{{Policy: p, Base: dec("120")}}, fixedNow)

	require.Len(t, sel.Applied, 1)
	assert.True(t, dec("12").Equal(sel.Discount))
}

func TestSelection_FinishTrimsLowestRankedFirst(t *testing.T) {
	sel := Selection{Applied: []Result{
		{Code: "A", Valid: true, Amount: dec("60")},
		{Code: "B", Valid: true, Amount: dec("30")},
		{Code: "C", Valid: true, Amount: dec("30")},
	}}
	sel.finish(dec("70"))

	assert.True(t, dec("60").Equal(sel.Applied[0].Amount))
	assert.True(t, dec("10").Equal(sel.Applied[1].Amount))
	assert.True(t, decimal.Zero.Equal(sel.Applied[2].Amount))
	assert.True(t, dec("70").Equal(sel.Discount))
}
