/**
 * @description
 * This file defines the promotional catalog: the base Robux packages shown on
 * the package-selection screen and the optional add-on offers presented on the
 * payment screen, together with the user's add-on selection.
 *
 * @notes
 * - Prices are held as `int64` centavos (smallest currency unit) to avoid
 *   floating-point drift with money values.
 * - A Package's display price is informational only. The charged amount is
 *   always the fixed processing fee plus selected add-on prices.
 */

package domain

import "sort"

// Package is a base Robux quantity tier.
type Package struct {
	Robux        int    `json:"robux"`
	DisplayPrice string `json:"display_price"` // decorative, never charged
}

// AddOn is an optional supplemental Robux offer.
type AddOn struct {
	ID                     string `json:"id"`
	Robux                  int    `json:"robux"`
	Bonus                  int    `json:"bonus,omitempty"` // extra Robux granted on top, 0 if none
	PriceCentavos          int64  `json:"price_centavos"`
	ReferencePriceCentavos int64  `json:"reference_price_centavos"` // struck-through comparison price
	Label                  string `json:"label"`
}

// Catalog groups the static package and add-on configuration.
type Catalog struct {
	Packages []Package
	AddOns   []AddOn
}

// DefaultCatalog returns the promotional catalog the funnel ships with.
func DefaultCatalog() Catalog {
	return Catalog{
		Packages: []Package{
			{Robux: 800, DisplayPrice: "R$ 59,90"},
			{Robux: 1700, DisplayPrice: "R$ 117,90"},
			{Robux: 4500, DisplayPrice: "R$ 294,90"},
			{Robux: 10000, DisplayPrice: "R$ 589,90"},
			{Robux: 22500, DisplayPrice: "R$ 1.179,90"},
		},
		AddOns: []AddOn{
			{ID: "upsell1", Robux: 800, PriceCentavos: 1990, ReferencePriceCentavos: 3990, Label: "+800 Robux"},
			{ID: "upsell2", Robux: 1700, Bonus: 300, PriceCentavos: 2990, ReferencePriceCentavos: 5990, Label: "+1.700 Robux"},
			{ID: "upsell3", Robux: 4500, Bonus: 700, PriceCentavos: 6990, ReferencePriceCentavos: 12990, Label: "+5.200 Robux"},
		},
	}
}

// AddOnByID looks up an add-on in the catalog.
func (c Catalog) AddOnByID(id string) (AddOn, bool) {
	for _, a := range c.AddOns {
		if a.ID == id {
			return a, true
		}
	}
	return AddOn{}, false
}

// PackageByRobux looks up a package by its Robux quantity.
func (c Catalog) PackageByRobux(robux int) (Package, bool) {
	for _, p := range c.Packages {
		if p.Robux == robux {
			return p, true
		}
	}
	return Package{}, false
}

// Selection is the set of add-on ids the user has chosen. Each add-on can be
// selected at most once.
type Selection struct {
	ids map[string]struct{}
}

// NewSelection returns an empty selection.
func NewSelection() *Selection {
	return &Selection{ids: make(map[string]struct{})}
}

// SelectionFromIDs builds a selection holding exactly the given ids.
func SelectionFromIDs(ids []string) *Selection {
	s := NewSelection()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Toggle flips the selection state of an add-on id and reports whether the
// add-on is selected afterwards.
func (s *Selection) Toggle(id string) bool {
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Has reports whether the add-on id is currently selected.
func (s *Selection) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// IDs returns the selected add-on ids in stable order.
func (s *Selection) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
