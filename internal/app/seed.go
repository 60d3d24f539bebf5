package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"tire-assistant/internal/domain"
	"tire-assistant/internal/tiresize"
)

type Seeder interface {
	PutCustomer(ctx context.Context, customer domain.Customer) error
	PutInventoryItem(ctx context.Context, item domain.InventoryItem) error
	PutCompatibility(ctx context.Context, row domain.SizeCompatibility) error
}

// SeedFile mirrors the shop tables so fixtures can be exported from an
// existing database.
type SeedFile struct {
	Customers       []seedCustomer      `json:"clientes"`
	Inventory       []seedTire          `json:"llantas"`
	Compatibilities []seedCompatibility `json:"medidas_compatibles"`
}

type seedCustomer struct {
	ID       string   `json:"id"`
	PageID   string   `json:"page_id"`
	Name     string   `json:"nombre"`
	Address  string   `json:"direccion"`
	Hours    string   `json:"horarios"`
	Services []string `json:"servicios"`
}

type seedTire struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"cliente_id"`
	Brand      string          `json:"marca"`
	Size       string          `json:"medida"`
	Price      decimal.Decimal `json:"precio"`
	Condition  string          `json:"estado"`
	Location   string          `json:"ubicacion"`
	Available  *bool           `json:"disponible"`
}

type seedCompatibility struct {
	OriginalSize    string `json:"medida_original"`
	AlternativeSize string `json:"medida_alternativa"`
	Priority        int    `json:"prioridad"`
}

type SeedStats struct {
	Customers       int
	Inventory       int
	Compatibilities int
}

// Seed loads fixtures from r into s. Sizes are normalized on the way in.
func Seed(ctx context.Context, s Seeder, r io.Reader) (SeedStats, error) {
	var file SeedFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return SeedStats{}, fmt.Errorf("app: decode seed: %w", err)
	}

	var stats SeedStats
	for _, c := range file.Customers {
		if err := s.PutCustomer(ctx, domain.Customer{
			ID:       c.ID,
			PageID:   c.PageID,
			Name:     c.Name,
			Address:  c.Address,
			Hours:    c.Hours,
			Services: c.Services,
		}); err != nil {
			return stats, fmt.Errorf("app: seed customer %q: %w", c.ID, err)
		}
		stats.Customers++
	}
	for _, t := range file.Inventory {
		size, ok := tiresize.Parse(t.Size)
		if !ok {
			return stats, fmt.Errorf("app: seed tire %q: invalid size %q", t.ID, t.Size)
		}
		available := true
		if t.Available != nil {
			available = *t.Available
		}
		if err := s.PutInventoryItem(ctx, domain.InventoryItem{
			ID:         t.ID,
			CustomerID: t.CustomerID,
			Brand:      t.Brand,
			Size:       size,
			Price:      t.Price,
			Condition:  t.Condition,
			Location:   t.Location,
			Available:  available,
		}); err != nil {
			return stats, fmt.Errorf("app: seed tire %q: %w", t.ID, err)
		}
		stats.Inventory++
	}
	for _, c := range file.Compatibilities {
		original, ok := tiresize.Parse(c.OriginalSize)
		if !ok {
			return stats, fmt.Errorf("app: seed compatibility: invalid size %q", c.OriginalSize)
		}
		alternative, ok := tiresize.Parse(c.AlternativeSize)
		if !ok {
			return stats, fmt.Errorf("app: seed compatibility: invalid size %q", c.AlternativeSize)
		}
		if err := s.PutCompatibility(ctx, domain.SizeCompatibility{
			OriginalSize:    original,
			AlternativeSize: alternative,
			Priority:        c.Priority,
		}); err != nil {
			return stats, fmt.Errorf("app: seed compatibility %s -> %s: %w", original, alternative, err)
		}
		stats.Compatibilities++
	}
	return stats, nil
}
