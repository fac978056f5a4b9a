package pricing_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/leylacuisine/quotebot/internal/quotebot/pricing"
)

func testCatalog() pricing.Catalog {
	return pricing.Catalog{
		"Margherita Pizza": {Category: "main dish", Price: 12.00},
		"Caesar Salad":     {Category: "salad", Price: 8.50},
		"Tiramisu":         {Category: "deserts", Price: 6.00},
		"Bruschetta":       {Category: "appetizers", Price: 5.25},
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputeQuotation_FullOrder(t *testing.T) {
	raw := `{"email":"a@b.com","items":[{"name":"Margherita Pizza","quantity":2}],"discount":"10%","delivery":true,"tax_rate":8.1}`

	var order pricing.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		t.Fatalf("unmarshal order: %v", err)
	}

	q, err := pricing.ComputeQuotation(&order, testCatalog())
	if err != nil {
		t.Fatalf("ComputeQuotation: %v", err)
	}

	if !approx(q.Subtotal, 24.00) {
		t.Errorf("subtotal = %v, want 24.00", q.Subtotal)
	}
	if !approx(q.Discount, 2.40) {
		t.Errorf("discount = %v, want 2.40", q.Discount)
	}
	if !approx(q.Tax, 21.60*0.081) {
		t.Errorf("tax = %v, want %v", q.Tax, 21.60*0.081)
	}
	if !approx(q.DeliveryFee, 15.00) {
		t.Errorf("delivery fee = %v, want 15.00", q.DeliveryFee)
	}
	if got := fmt.Sprintf("%.2f", q.FinalTotal); got != "38.35" {
		t.Errorf("final total = %s, want 38.35", got)
	}

	if len(q.Lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(q.Lines))
	}
	line := q.Lines[0]
	if line.Item != "Margherita Pizza" || line.Quantity != 2 ||
		!approx(line.UnitPrice, 12.00) || !approx(line.LineTotal, 24.00) ||
		line.Category != "main dish" {
		t.Errorf("unexpected line detail: %+v", line)
	}
}

func TestComputeQuotation_Deterministic(t *testing.T) {
	order := &pricing.Order{
		Email: "a@b.com",
		Items: []pricing.OrderItem{
			{Name: "Margherita Pizza", Quantity: 2},
			{Name: "Caeser Salad", Quantity: 3}, // misspelled on purpose
		},
		Discount: pricing.Discount{Percent: true, Value: 10, Set: true},
		Delivery: true,
	}
	catalog := testCatalog()

	first, err := pricing.ComputeQuotation(order, catalog)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := pricing.ComputeQuotation(order, catalog)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("quotation not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestComputeQuotation_DiscountLaw(t *testing.T) {
	tests := []struct {
		name         string
		discount     pricing.Discount
		wantDiscount float64
	}{
		{"none", pricing.Discount{}, 0},
		{"percentage", pricing.Discount{Percent: true, Value: 10, Set: true}, 2.40},
		{"flat", pricing.Discount{Value: 5, Set: true}, 5.00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &pricing.Order{
				Items:    []pricing.OrderItem{{Name: "Margherita Pizza", Quantity: 2}},
				Discount: tt.discount,
			}
			q, err := pricing.ComputeQuotation(order, testCatalog())
			if err != nil {
				t.Fatalf("ComputeQuotation: %v", err)
			}
			if !approx(q.Discount, tt.wantDiscount) {
				t.Errorf("discount = %v, want %v", q.Discount, tt.wantDiscount)
			}
			want := (q.Subtotal - q.Discount) * (1 + pricing.DefaultTaxRate/100)
			if !approx(q.FinalTotal, want) {
				t.Errorf("final total = %v, want %v", q.FinalTotal, want)
			}
		})
	}
}

func TestComputeQuotation_NegativeTotalRejected(t *testing.T) {
	order := &pricing.Order{
		Items:    []pricing.OrderItem{{Name: "Tiramisu", Quantity: 1}},
		Discount: pricing.Discount{Value: 100, Set: true},
	}
	_, err := pricing.ComputeQuotation(order, testCatalog())
	if !errors.Is(err, pricing.ErrNegativeTotal) {
		t.Errorf("err = %v, want ErrNegativeTotal", err)
	}
}

func TestResolve_FuzzyMatch(t *testing.T) {
	tests := []struct {
		input    string
		wantKey  string
		wantFail bool
	}{
		{"Margherita Pizza", "Margherita Pizza", false},
		{"margherita pizza", "Margherita Pizza", false},
		{"Margherita Piza", "Margherita Pizza", false},
		{"Caeser Salad", "Caesar Salad", false},
		{"Tiramisu Cake", "Tiramisu", false},
		{"Sushi Platter", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			key, _, err := pricing.Resolve(tt.input, testCatalog())
			if tt.wantFail {
				var notFound *pricing.ItemNotFoundError
				if !errors.As(err, &notFound) {
					t.Fatalf("err = %v, want ItemNotFoundError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.input, err)
			}
			if key != tt.wantKey {
				t.Errorf("Resolve(%q) = %q, want %q", tt.input, key, tt.wantKey)
			}
		})
	}
}

func TestItemNotFoundError_Verbatim(t *testing.T) {
	_, err := pricing.ComputeQuotation(&pricing.Order{
		Items: []pricing.OrderItem{{Name: "Unicorn Steak", Quantity: 1}},
	}, testCatalog())

	if err == nil || err.Error() != "Item 'Unicorn Steak' not found." {
		t.Errorf("err = %v, want verbatim item-not-found message", err)
	}
}

func TestDiscount_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		raw  string
		want pricing.Discount
	}{
		{`"10%"`, pricing.Discount{Percent: true, Value: 10, Set: true}},
		{`"7.5"`, pricing.Discount{Value: 7.5, Set: true}},
		{`12`, pricing.Discount{Value: 12, Set: true}},
		{`null`, pricing.Discount{}},
		{`""`, pricing.Discount{}},
	}

	for _, tt := range tests {
		var d pricing.Discount
		if err := json.Unmarshal([]byte(tt.raw), &d); err != nil {
			t.Errorf("unmarshal %s: %v", tt.raw, err)
			continue
		}
		if d != tt.want {
			t.Errorf("unmarshal %s = %+v, want %+v", tt.raw, d, tt.want)
		}
	}
}
