// Package pricing holds the credit-package price table.
package pricing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCouponTolerance is the largest discount an amount may carry and still
// match a package by tolerance.
var DefaultCouponTolerance = decimal.RequireFromString("0.30")

// Package is a purchasable bundle of credits.
type Package struct {
	Credits int
	Price   decimal.Decimal // major units
}

// MinorUnits returns the package price in cents.
func (p Package) MinorUnits() int64 {
	return p.Price.Shift(2).Round(0).IntPart()
}

type MatchKind string

const (
	MatchNone      MatchKind = "none"
	MatchExact     MatchKind = "exact"
	MatchTolerance MatchKind = "tolerance"
)

// Table maps lowercase ISO currency codes to their packages.
type Table struct {
	packages  map[string][]Package
	tolerance decimal.Decimal
}

// NewTable builds a table. Packages are sorted by price.
func NewTable(packages map[string][]Package, tolerance decimal.Decimal) *Table {
	t := &Table{packages: make(map[string][]Package, len(packages)), tolerance: tolerance}
	for cur, pkgs := range packages {
		sorted := append([]Package(nil), pkgs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price.LessThan(sorted[j].Price) })
		t.packages[normalizeCurrency(cur)] = sorted
	}
	return t
}

// Default is the production price table.
func Default() *Table {
	return NewTable(map[string][]Package{
		"brl": {
			{Credits: 20, Price: decimal.RequireFromString("20.00")},
			{Credits: 50, Price: decimal.RequireFromString("50.00")},
			{Credits: 100, Price: decimal.RequireFromString("90.00")},
			{Credits: 500, Price: decimal.RequireFromString("400.00")},
		},
		"usd": {
			{Credits: 20, Price: decimal.RequireFromString("5.00")},
			{Credits: 50, Price: decimal.RequireFromString("10.00")},
			{Credits: 100, Price: decimal.RequireFromString("18.00")},
			{Credits: 500, Price: decimal.RequireFromString("80.00")},
		},
	}, DefaultCouponTolerance)
}

// CreditsForAmount maps a paid amount (minor units) to a package's credits.
// An exact price match wins; otherwise the cheapest package the amount could
// be a coupon-discounted price of is used.
func (t *Table) CreditsForAmount(amount int64, currency string) (int, MatchKind) {
	if amount <= 0 {
		return 0, MatchNone
	}
	pkgs := t.packages[normalizeCurrency(currency)]
	for _, p := range pkgs {
		if p.MinorUnits() == amount {
			return p.Credits, MatchExact
		}
	}
	paid := decimal.NewFromInt(amount)
	floorFactor := decimal.NewFromInt(1).Sub(t.tolerance)
	for _, p := range pkgs {
		price := decimal.NewFromInt(p.MinorUnits())
		if paid.GreaterThan(price) {
			continue
		}
		if paid.GreaterThanOrEqual(price.Mul(floorFactor)) {
			return p.Credits, MatchTolerance
		}
	}
	return 0, MatchNone
}

// PriceForCredits returns the list price (minor units) of the package with the
// given credit count.
func (t *Table) PriceForCredits(credits int, currency string) (int64, bool) {
	for _, p := range t.packages[normalizeCurrency(currency)] {
		if p.Credits == credits {
			return p.MinorUnits(), true
		}
	}
	return 0, false
}

func normalizeCurrency(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
