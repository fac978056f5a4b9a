package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/leylacuisine/quotebot/internal/quotebot/pricing"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// MenuItem is one catalog row.
type MenuItem struct {
	Name        string
	Category    string
	Price       float64
	Description string
}

// LoadMenu returns a point-in-time snapshot of the catalog keyed by item
// name, in the shape the pricing engine consumes.
func (s *Store) LoadMenu(ctx context.Context) (pricing.Catalog, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, category, price, description FROM menu_items")
	if err != nil {
		return nil, fmt.Errorf("store: load menu: %w", err)
	}
	defer rows.Close()

	catalog := make(pricing.Catalog)
	for rows.Next() {
		var mi MenuItem
		if err := rows.Scan(&mi.Name, &mi.Category, &mi.Price, &mi.Description); err != nil {
			return nil, fmt.Errorf("store: scan menu item: %w", err)
		}
		catalog[mi.Name] = pricing.Item{
			Category:    mi.Category,
			Price:       mi.Price,
			Description: mi.Description,
		}
	}
	return catalog, rows.Err()
}

// AddItem inserts a new catalog item. Adding an existing name is an error;
// use EditItem to change prices.
func (s *Store) AddItem(ctx context.Context, mi MenuItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO menu_items (name, category, price, description)
		VALUES (?, ?, ?, ?)`,
		mi.Name, mi.Category, mi.Price, mi.Description)
	if err != nil {
		return fmt.Errorf("store: add menu item %q: %w", mi.Name, err)
	}
	return nil
}

// EditItem updates an existing catalog item in place.
func (s *Store) EditItem(ctx context.Context, mi MenuItem) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE menu_items
		SET category = ?, price = ?, description = ?, updated_at = CURRENT_TIMESTAMP
		WHERE name = ?`,
		mi.Category, mi.Price, mi.Description, mi.Name)
	if err != nil {
		return fmt.Errorf("store: edit menu item %q: %w", mi.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: edit menu item %q: %w", mi.Name, ErrNotFound)
	}
	return nil
}

// DeleteItem removes a catalog item by name.
func (s *Store) DeleteItem(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM menu_items WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("store: delete menu item %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: delete menu item %q: %w", name, ErrNotFound)
	}
	return nil
}

// ListItems returns all catalog items ordered by category, then name.
func (s *Store) ListItems(ctx context.Context) ([]MenuItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, category, price, description
		FROM menu_items ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("store: list menu items: %w", err)
	}
	defer rows.Close()

	var items []MenuItem
	for rows.Next() {
		var mi MenuItem
		if err := rows.Scan(&mi.Name, &mi.Category, &mi.Price, &mi.Description); err != nil {
			return nil, fmt.Errorf("store: scan menu item: %w", err)
		}
		items = append(items, mi)
	}
	return items, rows.Err()
}
