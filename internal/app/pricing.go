/**
 * @description
 * The order total calculator: pure, deterministic functions deriving the
 * payable amount and the promised Robux quantity from the selected package,
 * the add-on catalog and the current selection.
 *
 * The payable amount is always the fixed processing fee plus selected add-on
 * prices. A package's display price is decorative and never charged.
 */

package app

import "github.com/rbxrewards/funnel-service/internal/domain"

// Pricer computes totals for a funnel session.
type Pricer struct {
	Catalog         domain.Catalog
	BaseFeeCentavos int64
}

// TotalPayable returns the charge amount in centavos for the selection.
func (p Pricer) TotalPayable(sel *domain.Selection) int64 {
	total := p.BaseFeeCentavos
	if sel == nil {
		return total
	}
	for _, id := range sel.IDs() {
		if addon, ok := p.Catalog.AddOnByID(id); ok {
			total += addon.PriceCentavos
		}
	}
	return total
}

// TotalRobux returns the promised quantity: the package plus each selected
// add-on's quantity and bonus.
func (p Pricer) TotalRobux(pkg domain.Package, sel *domain.Selection) int {
	total := pkg.Robux
	if sel == nil {
		return total
	}
	for _, id := range sel.IDs() {
		if addon, ok := p.Catalog.AddOnByID(id); ok {
			total += addon.Robux + addon.Bonus
		}
	}
	return total
}
