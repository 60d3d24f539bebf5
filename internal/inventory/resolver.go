// Package inventory answers "what do we have in this size" for one shop,
// falling back to compatible sizes when the exact size is out of stock.
package inventory

import (
	"context"
	"fmt"
	"strings"

	"tire-assistant/internal/domain"
	"tire-assistant/internal/logging"
	"tire-assistant/internal/tiresize"
)

// Store is the read side of the inventory the resolver needs.
type Store interface {
	SearchInventory(ctx context.Context, size, customerID string) ([]domain.InventoryItem, error)
	CompatibleSizes(ctx context.Context, size string) ([]string, error)
}

// Result is the outcome of one resolution.
type Result struct {
	Size            string
	Items           []domain.InventoryItem
	UsedAlternative bool
	AlternativeSize string
}

// Found reports whether any stock was located.
func (r Result) Found() bool { return len(r.Items) > 0 }

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks up exact stock for size and, when there is none, walks the
// compatible sizes in priority order returning the first one with stock.
// Store errors are logged and treated as an empty step.
func (r *Resolver) Resolve(ctx context.Context, size, customerID string) Result {
	logger := logging.FromContext(ctx)
	res := Result{Size: size}
	if !tiresize.Valid(size) {
		logger.Warn("inventory lookup skipped for non-normalized size", "size", size)
		return res
	}

	items, err := r.store.SearchInventory(ctx, size, customerID)
	if err != nil {
		logger.Error("inventory search failed", "size", size, "customerId", customerID, "err", err)
	}
	if len(items) > 0 {
		res.Items = items
		return res
	}

	alternatives, err := r.store.CompatibleSizes(ctx, size)
	if err != nil {
		logger.Error("compatible size lookup failed", "size", size, "err", err)
		return res
	}
	for _, alt := range alternatives {
		if !tiresize.Valid(alt) {
			logger.Warn("skipping malformed compatible size", "size", size, "alternative", alt)
			continue
		}
		items, err := r.store.SearchInventory(ctx, alt, customerID)
		if err != nil {
			logger.Error("inventory search failed", "size", alt, "customerId", customerID, "err", err)
			continue
		}
		if len(items) > 0 {
			res.Items = items
			res.UsedAlternative = true
			res.AlternativeSize = alt
			return res
		}
	}
	return res
}

// Format renders the result as the tool-result text handed back to the LLM.
func (r Result) Format() string {
	if !r.Found() {
		return fmt.Sprintf("Por ahora no tenemos la medida %s, ni una compatible en este momento.", r.Size)
	}
	list := FormatItems(r.Items)
	if r.UsedAlternative {
		return fmt.Sprintf("No tenemos la medida %s, pero esta medida compatible también le queda a tu vehículo:\n\n%s", r.Size, list)
	}
	return list
}

// FormatItems renders one bullet per item separated by a blank line.
func FormatItems(items []domain.InventoryItem) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("• %s %s – %s – %s pesos",
			item.Brand, item.Size, item.Condition, item.Price.String()))
	}
	return strings.Join(lines, "\n\n")
}
