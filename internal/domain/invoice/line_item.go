package invoice

import (
	"github.com/shopspring/decimal"
)

type LineItemKind string

const (
	LineItemKindSubscription LineItemKind = "subscription"
	LineItemKindLateFee      LineItemKind = "late_fee"
)

// LineItem is one charge on an invoice. Line items are stored with the
// invoice and only ever appended.
type LineItem struct {
	Kind        LineItemKind    `json:"kind"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Total sums the amounts of items.
func Total(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}
