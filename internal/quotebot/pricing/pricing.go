// Package pricing implements the deterministic order→quotation calculation.
//
// ComputeQuotation is a pure function of the order and a catalog snapshot:
// calling it twice with identical inputs yields identical output. All fuzzy
// behaviour (which catalog item an order line refers to) is resolved here,
// before any money is computed, so a quotation is either complete or not
// produced at all — there are no partial quotations.
package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

const (
	// DefaultTaxRate is the percentage applied when the order does not
	// carry an explicit tax_rate.
	DefaultTaxRate = 8.1

	// DeliveryFee is the flat fee added when the order requests delivery.
	DeliveryFee = 15.0

	// MatchCutoff is the minimum similarity for a fuzzy catalog match.
	// Order lines whose best match falls below this fail the quotation.
	MatchCutoff = 0.6
)

// ErrNegativeTotal is returned when the discount exceeds the subtotal.
// Rejecting (rather than clamping to zero) keeps the ledger honest; the
// caller surfaces this to the user like any other quotation failure.
var ErrNegativeTotal = errors.New("pricing: discount exceeds subtotal")

// ItemNotFoundError reports an order line that resolved to no catalog item
// at or above MatchCutoff. Its message is shown to the user verbatim.
type ItemNotFoundError struct {
	Name string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("Item '%s' not found.", e.Name)
}

// Item is one catalog entry.
type Item struct {
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	Description string  `json:"description,omitempty"`
}

// Catalog is a snapshot of the menu keyed by item name.
type Catalog map[string]Item

// OrderItem is a single requested line: an item name (possibly misspelled)
// and a quantity.
type OrderItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Order is the structured result of order extraction. Name, Address and
// Date are optional; the extractor omits them when the customer declined
// to provide them.
type Order struct {
	Email    string      `json:"email,omitempty"`
	Name     string      `json:"name,omitempty"`
	Address  string      `json:"address,omitempty"`
	Date     string      `json:"date,omitempty"` // YYYY-MM-DD
	Items    []OrderItem `json:"items"`
	Discount Discount    `json:"discount,omitempty"`
	Delivery bool        `json:"delivery,omitempty"`
	TaxRate  *float64    `json:"tax_rate,omitempty"`
}

// Discount is either a percentage of the subtotal ("10%") or a flat amount
// (10 or "10"). The zero value means no discount.
type Discount struct {
	Percent bool
	Value   float64
	Set     bool
}

// UnmarshalJSON accepts a percentage string, a numeric string, a bare
// number, or null.
func (d *Discount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*d = Discount{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			*d = Discount{}
			return nil
		}
		percent := strings.HasSuffix(str, "%")
		v, err := strconv.ParseFloat(strings.TrimSuffix(str, "%"), 64)
		if err != nil {
			return fmt.Errorf("pricing: invalid discount %q: %w", str, err)
		}
		*d = Discount{Percent: percent, Value: v, Set: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("pricing: invalid discount %s: %w", s, err)
	}
	*d = Discount{Value: v, Set: true}
	return nil
}

// MarshalJSON emits the same shapes UnmarshalJSON accepts.
func (d Discount) MarshalJSON() ([]byte, error) {
	if !d.Set {
		return []byte("null"), nil
	}
	if d.Percent {
		return json.Marshal(fmt.Sprintf("%g%%", d.Value))
	}
	return json.Marshal(d.Value)
}

// AmountFor returns the discount amount for the given subtotal.
func (d Discount) AmountFor(subtotal float64) float64 {
	switch {
	case !d.Set:
		return 0
	case d.Percent:
		return subtotal * d.Value / 100
	default:
		return d.Value
	}
}

// Line is one priced quotation line. Enough per-line detail is retained
// for the downstream document renderer (a hard requirement of the PDF
// generator, not negotiable here).
type Line struct {
	Item      string  `json:"item"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
	Category  string  `json:"category"`
}

// Quotation is the computed pricing breakdown. It is immutable once
// produced; re-pricing requires a new Order.
type Quotation struct {
	Lines       []Line  `json:"quotation"`
	Subtotal    float64 `json:"subtotal"`
	Discount    float64 `json:"discount"`
	Tax         float64 `json:"tax"`
	DeliveryFee float64 `json:"delivery_fee"`
	FinalTotal  float64 `json:"final_total"`

	// Customer fields carried over from the order for the document and
	// the sales ledger.
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Date    string `json:"date,omitempty"`
}

// ComputeQuotation prices an order against a catalog snapshot.
//
// final_total = (subtotal − discount) × (1 + tax_rate) + delivery_fee.
// The tax base is always (subtotal − discount); earlier revisions of the
// business logic disagreed on this and that disagreement was a defect.
func ComputeQuotation(order *Order, catalog Catalog) (*Quotation, error) {
	if len(order.Items) == 0 {
		return nil, errors.New("pricing: order has no items")
	}

	var subtotal float64
	lines := make([]Line, 0, len(order.Items))
	for _, oi := range order.Items {
		name, item, err := Resolve(oi.Name, catalog)
		if err != nil {
			return nil, err
		}
		if oi.Quantity <= 0 {
			return nil, fmt.Errorf("pricing: invalid quantity %d for %q", oi.Quantity, name)
		}
		total := item.Price * float64(oi.Quantity)
		subtotal += total
		lines = append(lines, Line{
			Item:      name,
			Quantity:  oi.Quantity,
			UnitPrice: item.Price,
			LineTotal: total,
			Category:  item.Category,
		})
	}

	discount := order.Discount.AmountFor(subtotal)
	adjusted := subtotal - discount
	if adjusted < 0 {
		return nil, ErrNegativeTotal
	}

	rate := DefaultTaxRate
	if order.TaxRate != nil {
		rate = *order.TaxRate
	}
	tax := adjusted * rate / 100

	var fee float64
	if order.Delivery {
		fee = DeliveryFee
	}

	return &Quotation{
		Lines:       lines,
		Subtotal:    subtotal,
		Discount:    discount,
		Tax:         tax,
		DeliveryFee: fee,
		FinalTotal:  adjusted + tax + fee,
		Email:       order.Email,
		Name:        order.Name,
		Address:     order.Address,
		Date:        order.Date,
	}, nil
}

// Resolve maps an order-line name to a catalog entry: exact key match
// first, otherwise the single best fuzzy match at or above MatchCutoff.
// The resolved catalog key (not the raw input) is returned so quotation
// lines always carry canonical item names.
func Resolve(name string, catalog Catalog) (string, Item, error) {
	if item, ok := catalog[name]; ok {
		return name, item, nil
	}

	best, score := "", 0.0
	// Iterate in sorted order so equal-similarity ties resolve
	// deterministically regardless of map iteration order.
	keys := make([]string, 0, len(catalog))
	for k := range catalog {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s := similarity(name, k); s > score {
			best, score = k, s
		}
	}
	if best == "" || score < MatchCutoff {
		return "", Item{}, &ItemNotFoundError{Name: name}
	}
	return best, catalog[best], nil
}

// similarity is a normalized edit-distance ratio in [0, 1]; 1 means equal.
// Comparison is case-insensitive — customers rarely match menu casing.
func similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}
