package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"merch-svc/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SessionStore persists the product id → quantity map of one session.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) (map[int64]int, error)
	Save(ctx context.Context, sessionID string, items map[int64]int) error
	Delete(ctx context.Context, sessionID string) error
}

type ProductSource interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

type Line struct {
	Product   models.Product  `json:"product"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// Cart is the shopping cart of a single session. Concurrent writes to the same
// session are last-write-wins.
type Cart struct {
	sessionID string
	sessions  SessionStore
	products  ProductSource
	logger    *zap.Logger
}

func New(sessionID string, sessions SessionStore, products ProductSource, logger *zap.Logger) *Cart {
	return &Cart{sessionID: sessionID, sessions: sessions, products: products, logger: logger}
}

func (c *Cart) SessionID() string { return c.sessionID }

// Add puts one more unit of the product in the cart and returns the new quantity.
func (c *Cart) Add(ctx context.Context, productID int64) (int, error) {
	if _, err := c.products.GetProduct(ctx, productID); err != nil {
		return 0, err
	}
	items, err := c.sessions.Load(ctx, c.sessionID)
	if err != nil {
		return 0, err
	}
	items[productID]++
	if err := c.sessions.Save(ctx, c.sessionID, items); err != nil {
		return 0, err
	}
	return items[productID], nil
}

// Remove deletes the product's entry. It returns models.ErrNotFound when the
// product is not in the cart.
func (c *Cart) Remove(ctx context.Context, productID int64) error {
	items, err := c.sessions.Load(ctx, c.sessionID)
	if err != nil {
		return err
	}
	if _, ok := items[productID]; !ok {
		return fmt.Errorf("product %d not in cart: %w", productID, models.ErrNotFound)
	}
	delete(items, productID)
	return c.sessions.Save(ctx, c.sessionID, items)
}

// List resolves every entry against the catalog, ordered by product id.
// Entries whose product no longer exists are dropped from the cart.
func (c *Cart) List(ctx context.Context) ([]Line, error) {
	items, err := c.sessions.Load(ctx, c.sessionID)
	if err != nil {
		return nil, err
	}

	lines := make([]Line, 0, len(items))
	var evicted []int64
	for _, id := range sortedIDs(items) {
		p, err := c.products.GetProduct(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			evicted = append(evicted, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		qty := items[id]
		lines = append(lines, Line{
			Product:   *p,
			Quantity:  qty,
			LineTotal: p.Price.Mul(decimal.NewFromInt(int64(qty))),
		})
	}

	if len(evicted) > 0 {
		for _, id := range evicted {
			delete(items, id)
		}
		if err := c.sessions.Save(ctx, c.sessionID, items); err != nil {
			c.logger.Warn("Failed to evict missing products from cart", zap.String("session", c.sessionID), zap.Error(err))
		} else {
			c.logger.Info("Evicted missing products from cart", zap.String("session", c.sessionID), zap.Int64s("product_ids", evicted))
		}
	}
	return lines, nil
}

// TotalWeight is Σ weight × quantity in kilograms over products that still exist.
func (c *Cart) TotalWeight(ctx context.Context) (decimal.Decimal, error) {
	items, err := c.sessions.Load(ctx, c.sessionID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for id, qty := range items {
		p, err := c.products.GetProduct(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(p.Weight.Mul(decimal.NewFromInt(int64(qty))))
	}
	return total, nil
}

// Snapshot returns a copy of the raw entries.
func (c *Cart) Snapshot(ctx context.Context) (map[int64]int, error) {
	return c.sessions.Load(ctx, c.sessionID)
}

func (c *Cart) Clear(ctx context.Context) error {
	return c.sessions.Delete(ctx, c.sessionID)
}

// Totals sums line totals and quantities.
func Totals(lines []Line) (decimal.Decimal, int) {
	price := decimal.Zero
	qty := 0
	for _, l := range lines {
		price = price.Add(l.LineTotal)
		qty += l.Quantity
	}
	return price, qty
}

func sortedIDs(items map[int64]int) []int64 {
	ids := make([]int64, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
