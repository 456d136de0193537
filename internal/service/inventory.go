package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kasirlite/backend/internal/domain"
	"kasirlite/backend/internal/store"
)

const DefaultLowStockThreshold = 5

// Inventory owns the catalog and stock levels. Every mutation goes straight
// to the repository it is bound to.
type Inventory struct {
	repo              store.Repository
	lowStockThreshold int
}

func NewInventory(repo store.Repository, lowStockThreshold int) *Inventory {
	if lowStockThreshold < 0 {
		lowStockThreshold = DefaultLowStockThreshold
	}
	return &Inventory{repo: repo, lowStockThreshold: lowStockThreshold}
}

// with returns a copy bound to another repository, typically a transaction.
func (inv *Inventory) with(repo store.Repository) *Inventory {
	return &Inventory{repo: repo, lowStockThreshold: inv.lowStockThreshold}
}

func (inv *Inventory) LowStockThreshold() int {
	return inv.lowStockThreshold
}

func (inv *Inventory) Get(ctx context.Context, id int64) (domain.Product, error) {
	p, err := inv.repo.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
		return domain.Product{}, err
	}
	return *p, nil
}

func (inv *Inventory) Search(ctx context.Context, query string) ([]domain.Product, error) {
	return inv.repo.SearchProducts(ctx, query)
}

// Resolve picks the first search match, which is the lowest id.
func (inv *Inventory) Resolve(ctx context.Context, term string) (domain.Product, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return domain.Product{}, fmt.Errorf("%w: search term is required", ErrInvalidInput)
	}
	matches, err := inv.repo.SearchProducts(ctx, term)
	if err != nil {
		return domain.Product{}, err
	}
	if len(matches) == 0 {
		return domain.Product{}, fmt.Errorf("product %q: %w", term, ErrNotFound)
	}
	return matches[0], nil
}

// ResolveByName matches the exact name, ignoring case, lowest id first.
func (inv *Inventory) ResolveByName(ctx context.Context, name string) (domain.Product, error) {
	matches, err := inv.repo.FindProductsByName(ctx, name)
	if err != nil {
		return domain.Product{}, err
	}
	if len(matches) == 0 {
		return domain.Product{}, fmt.Errorf("product named %q: %w", name, ErrNotFound)
	}
	return matches[0], nil
}

func (inv *Inventory) Create(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	product := domain.Product{
		Name:        strings.TrimSpace(req.Name),
		Category:    strings.TrimSpace(req.Category),
		Description: strings.TrimSpace(req.Description),
		Stock:       req.InitialStock,
		PriceCents:  req.PriceCents,
	}
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}
	if product.Stock < 0 {
		return domain.Product{}, fmt.Errorf("%w: initial stock must not be negative", ErrInvalidInput)
	}

	created, err := inv.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

// Update edits catalog fields. Stock is left alone.
func (inv *Inventory) Update(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := inv.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	if req.Name != nil {
		existing.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		existing.Category = strings.TrimSpace(*req.Category)
	}
	if req.Description != nil {
		existing.Description = strings.TrimSpace(*req.Description)
	}
	if req.PriceCents != nil {
		existing.PriceCents = *req.PriceCents
	}
	if err := validateProduct(existing); err != nil {
		return domain.Product{}, err
	}

	updated, err := inv.repo.UpdateProduct(ctx, existing)
	if err != nil {
		return domain.Product{}, err
	}
	return *updated, nil
}

// AdjustStock applies delta atomically. A result below zero is rejected with
// ErrStockOutOfRange and stock is left unchanged.
func (inv *Inventory) AdjustStock(ctx context.Context, id int64, delta int) (domain.Product, error) {
	p, err := inv.repo.AdjustStock(ctx, id, delta)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.Product{}, fmt.Errorf("product %d: %w", id, ErrNotFound)
		case errors.Is(err, store.ErrStockOutOfRange):
			return domain.Product{}, fmt.Errorf("product %d delta %d: %w", id, delta, ErrStockOutOfRange)
		}
		return domain.Product{}, err
	}
	return *p, nil
}

func (inv *Inventory) Receive(ctx context.Context, id int64, qty int) (domain.Product, error) {
	if qty <= 0 {
		return domain.Product{}, ErrInvalidQuantity
	}
	return inv.AdjustStock(ctx, id, qty)
}

func (inv *Inventory) Delete(ctx context.Context, id int64) error {
	if err := inv.repo.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
		return err
	}
	return nil
}

func (inv *Inventory) LowStock(ctx context.Context) ([]domain.Product, error) {
	products, err := inv.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.IsLowStock(inv.lowStockThreshold) {
			low = append(low, p)
		}
	}
	return low, nil
}

func validateProduct(p domain.Product) error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if p.PriceCents <= 0 {
		return fmt.Errorf("%w: price must be greater than zero", ErrInvalidInput)
	}
	return nil
}
