package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leylacuisine/quotebot/internal/quotebot/pricing"
)

// Sale is one ledger row. Detail holds the quotation lines as JSON so a
// sale remains auditable even after the catalog changes.
type Sale struct {
	ID          int64
	Customer    string
	Email       string
	Subtotal    float64
	Discount    float64
	Tax         float64
	DeliveryFee float64
	FinalTotal  float64
	Detail      []pricing.Line
}

// RecordSale appends an approved quotation to the sales ledger.
func (s *Store) RecordSale(ctx context.Context, q *pricing.Quotation) error {
	detail, err := json.Marshal(q.Lines)
	if err != nil {
		return fmt.Errorf("store: marshal sale detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (customer, email, subtotal, discount, tax, delivery_fee, final_total, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Name, q.Email, q.Subtotal, q.Discount, q.Tax, q.DeliveryFee, q.FinalTotal, string(detail))
	if err != nil {
		return fmt.Errorf("store: record sale: %w", err)
	}
	return nil
}

// RecentSales returns up to limit ledger rows, newest first.
func (s *Store) RecentSales(ctx context.Context, limit int) ([]Sale, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer, email, subtotal, discount, tax, delivery_fee, final_total, detail
		FROM sales ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent sales: %w", err)
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		var sale Sale
		var detail string
		if err := rows.Scan(&sale.ID, &sale.Customer, &sale.Email, &sale.Subtotal,
			&sale.Discount, &sale.Tax, &sale.DeliveryFee, &sale.FinalTotal, &detail); err != nil {
			return nil, fmt.Errorf("store: scan sale: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &sale.Detail); err != nil {
			return nil, fmt.Errorf("store: decode sale detail: %w", err)
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}
