package promo

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/customer"
)

// Subject names the dimension values to check. Blank fields are not checked.
type Subject struct {
	ProductID  string
	CategoryID string
	BrandID    string
	UserID     string
}

// allows is the per-dimension rule: an excluded value never matches, an
// empty inclusion set matches everything else, otherwise the value must be
// included.
func allows(include, exclude IDSet, id string) bool {
	if exclude.Has(id) {
		return false
	}
	if len(include) == 0 {
		return true
	}
	return include.Has(id)
}

// AllowsProduct reports whether product id passes the targeting.
func (t Targeting) AllowsProduct(id string) bool {
	return allows(t.Products, t.ExcludedProducts, id)
}

// AllowsCategory reports whether category id passes the targeting.
func (t Targeting) AllowsCategory(id string) bool {
	return allows(t.Categories, t.ExcludedCategories, id)
}

// AllowsBrand reports whether brand id passes the targeting.
func (t Targeting) AllowsBrand(id string) bool {
	return allows(t.Brands, t.ExcludedBrands, id)
}

// AllowsUser reports whether customer id passes the targeting.
func (t Targeting) AllowsUser(id string) bool {
	return allows(t.Users, t.ExcludedUsers, id)
}

// AppliesTo reports whether every non-blank dimension of s passes.
func (p *Policy) AppliesTo(s Subject) bool {
	t := p.Targeting
	if s.ProductID != "" && !t.AllowsProduct(s.ProductID) {
		return false
	}
	if s.CategoryID != "" && !t.AllowsCategory(s.CategoryID) {
		return false
	}
	if s.BrandID != "" && !t.AllowsBrand(s.BrandID) {
		return false
	}
	if s.UserID != "" && !t.AllowsUser(s.UserID) {
		return false
	}
	return true
}

// Line is a priced cart line with its catalog dimensions resolved.
type Line struct {
	ProductID  string
	CategoryID string
	BrandID    string
	Price      decimal.Decimal
	Quantity   int
}

// Amount returns price times quantity.
func (l Line) Amount() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// EligibleLines returns the lines of userID's cart that p applies to.
func (p *Policy) EligibleLines(userID string, lines []Line) []Line {
	var out []Line
	for _, l := range lines {
		if p.AppliesTo(Subject{
			ProductID:  l.ProductID,
			CategoryID: l.CategoryID,
			BrandID:    l.BrandID,
			UserID:     userID,
		}) {
			out = append(out, l)
		}
	}
	return out
}

// Subtotal sums the amount of lines.
func Subtotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount())
	}
	return total
}

// ItemCount sums line quantities.
func ItemCount(lines []Line) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// Admits applies the user dimension and the new-user and first-purchase
// gates to a customer profile.
func (p *Policy) Admits(c customer.Profile) bool {
	if !p.Targeting.AllowsUser(c.ID) {
		return false
	}
	if p.NewUsersOnly && !c.IsNewUser {
		return false
	}
	if p.FirstTimePurchaseOnly && c.HasPriorPurchase {
		return false
	}
	return true
}

// autoApplyMet checks the cart against the auto-apply conditions.
func (p *Policy) autoApplyMet(lines []Line) bool {
	c := p.AutoApplyConditions
	if c.MinItems > 0 && ItemCount(lines) < c.MinItems {
		return false
	}
	if c.MinSubtotal != nil && Subtotal(lines).LessThan(*c.MinSubtotal) {
		return false
	}
	return true
}
