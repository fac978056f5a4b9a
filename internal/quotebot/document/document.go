// Package document renders quotations as PDF files ready to email.
package document

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/leylacuisine/quotebot/internal/quotebot/pricing"
)

// Renderer writes quote PDFs into a spool directory.
type Renderer struct {
	businessName string
	outDir       string
	now          func() time.Time
}

// NewRenderer returns a Renderer writing into outDir, which is created if
// missing. A nil now defaults to the wall clock.
func NewRenderer(businessName, outDir string, now func() time.Time) (*Renderer, error) {
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("document: create output dir: %w", err)
	}
	return &Renderer{businessName: businessName, outDir: outDir, now: now}, nil
}

// Render writes the quotation as a PDF and returns its path. The filename
// embeds a timestamp so concurrent quotes never collide.
func (r *Renderer) Render(q *pricing.Quotation) (string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, r.businessName, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 7, "Quotation", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Date: %s", r.now().Format("January 2, 2006")), "", 1, "L", false, 0, "")
	if q.Name != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("Client: %s", q.Name), "", 1, "L", false, 0, "")
	}
	if q.Email != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("Email: %s", q.Email), "", 1, "L", false, 0, "")
	}
	if q.Address != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("Address: %s", q.Address), "", 1, "L", false, 0, "")
	}
	if q.Date != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("Delivery date: %s", q.Date), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	// Line-item table.
	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(70, 8, "Item", "1", 0, "L", true, 0, "")
	pdf.CellFormat(35, 8, "Category", "1", 0, "L", true, 0, "")
	pdf.CellFormat(20, 8, "Qty", "1", 0, "R", true, 0, "")
	pdf.CellFormat(30, 8, "Unit", "1", 0, "R", true, 0, "")
	pdf.CellFormat(35, 8, "Total", "1", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	for _, line := range q.Lines {
		pdf.CellFormat(70, 8, line.Item, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 8, line.Category, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 8, fmt.Sprintf("%d", line.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 8, fmt.Sprintf("$%.2f", line.UnitPrice), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 8, fmt.Sprintf("$%.2f", line.LineTotal), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	totalRow := func(label string, amount float64, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Arial", style, 10)
		pdf.CellFormat(155, 7, label, "", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, fmt.Sprintf("$%.2f", amount), "", 1, "R", false, 0, "")
	}
	totalRow("Subtotal", q.Subtotal, false)
	if q.Discount != 0 {
		totalRow("Discount", -q.Discount, false)
	}
	totalRow("Tax", q.Tax, false)
	if q.DeliveryFee != 0 {
		totalRow("Delivery fee", q.DeliveryFee, false)
	}
	totalRow("Total", q.FinalTotal, true)

	path := filepath.Join(r.outDir, fmt.Sprintf("quote_%s.pdf", r.now().Format("20060102_150405.000")))
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("document: write %s: %w", path, err)
	}
	return path, nil
}
