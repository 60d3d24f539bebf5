package domain

import "github.com/shopspring/decimal"

// InventoryItem is one tire in a customer's stock.
type InventoryItem struct {
	ID         string
	CustomerID string
	Brand      string
	Size       string
	Price      decimal.Decimal
	Condition  string
	Location   string
	Available  bool
}

// SizeCompatibility maps an original size to an alternative that fits the
// same vehicle. Lower Priority values are tried first.
type SizeCompatibility struct {
	OriginalSize    string
	AlternativeSize string
	Priority        int
}
