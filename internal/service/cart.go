package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"kasirlite/backend/internal/domain"
)

// Cart is the uncommitted working sale. It lives in memory only and is not
// safe for concurrent use on its own; Engine serializes access.
type Cart struct {
	inventory *Inventory
	policy    string
	lines     map[int64]domain.CartLine
}

func NewCart(inventory *Inventory, policy string) *Cart {
	if policy != domain.CartStockPolicyReserved {
		policy = domain.CartStockPolicyLive
	}
	return &Cart{
		inventory: inventory,
		policy:    policy,
		lines:     make(map[int64]domain.CartLine),
	}
}

// AddItem resolves term to one product and adds qty of it. With the live
// policy only qty is checked against persisted stock, so repeated adds can
// exceed it until finalize. The reserved policy also counts what is already
// in the cart.
func (c *Cart) AddItem(ctx context.Context, term string, qty int) (domain.CartLine, error) {
	if qty <= 0 {
		return domain.CartLine{}, ErrInvalidQuantity
	}
	product, err := c.inventory.Resolve(ctx, term)
	if err != nil {
		return domain.CartLine{}, err
	}

	line, exists := c.lines[product.ID]
	requested := qty
	if c.policy == domain.CartStockPolicyReserved && exists {
		requested += line.Quantity
	}
	if requested > product.Stock {
		return domain.CartLine{}, fmt.Errorf("%w: %s has %d in stock, requested %d", ErrInsufficientStock, product.Name, product.Stock, requested)
	}

	if exists {
		line.Quantity += qty
	} else {
		line = domain.CartLine{
			ProductID:      product.ID,
			Name:           product.Name,
			UnitPriceCents: product.PriceCents,
			Quantity:       qty,
		}
	}
	c.lines[product.ID] = line
	return line, nil
}

func (c *Cart) Remove(productID int64) error {
	if _, ok := c.lines[productID]; !ok {
		return fmt.Errorf("cart line for product %d: %w", productID, ErrNotFound)
	}
	delete(c.lines, productID)
	return nil
}

// Lines returns a copy ordered by product id.
func (c *Cart) Lines() []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(c.lines))
	for _, line := range c.lines {
		lines = append(lines, line)
	}
	slices.SortFunc(lines, func(a, b domain.CartLine) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return lines
}

func (c *Cart) Total() int64 {
	var total int64
	for _, line := range c.lines {
		total += line.SubtotalCents()
	}
	return total
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

func (c *Cart) Clear() {
	clear(c.lines)
}

func (c *Cart) View() domain.CartView {
	view := domain.CartView{Lines: c.Lines(), TotalCents: c.Total()}
	for _, line := range view.Lines {
		view.ItemCount += line.Quantity
	}
	return view
}
