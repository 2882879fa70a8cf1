package scanning

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// NotAvailable fills every invoice field the scanner could not read.
const NotAvailable = "N/A"

// UnknownItem names a line item without a description.
const UnknownItem = "Unknown Item"

// LineItem is one line of a scanned invoice.
type LineItem struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	ItemTotal   string `json:"item_total"`
}

// InvoiceData is the structured result of reading a receipt. Amounts stay in
// the notation printed on the receipt.
type InvoiceData struct {
	SupplierName    string     `json:"supplier_name"`
	SupplierAddress string     `json:"supplier_address"`
	SupplierPhone   string     `json:"supplier_phone"`
	InvoiceDate     string     `json:"invoice_date"`
	InvoiceNumber   string     `json:"invoice_number"`
	TotalAmount     string     `json:"total_amount"`
	Subtotal        string     `json:"subtotal"`
	TaxAmount       string     `json:"tax_amount"`
	PaymentMethod   string     `json:"payment_method"`
	Category        string     `json:"category"`
	LineItems       []LineItem `json:"line_items"`

	// RawText is the text the model read off the receipt, when it returns it.
	RawText string `json:"rawText,omitempty"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt reads a receipt image or PDF.
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*InvoiceData, error)
	// Close closes the scanner and releases resources
	Close() error
}

// MissingTotal reports whether the scanner failed to find a usable total.
func (d *InvoiceData) MissingTotal() bool {
	return d.TotalAmount == NotAvailable || d.TotalAmount == "0"
}

var totalPattern = regexp.MustCompile(`(?i)(total|amount)[:\s]*(\d{1,3}(?:[.,]\d{3})*(?:[.,]\d{1,2})?)`)

var notAmountChars = regexp.MustCompile(`[^0-9.]`)

// RecoverTotal looks for a "total" or "amount" label followed by a number in
// rawText and returns that number with everything but digits and periods
// removed.
func RecoverTotal(rawText string) (string, bool) {
	m := totalPattern.FindStringSubmatch(rawText)
	if m == nil || m[2] == "" {
		return "", false
	}
	return notAmountChars.ReplaceAllString(m[2], ""), true
}

// BuildRawText renders every extracted field as one text block. It is used
// for keyword categorization and stored as the transaction's full text.
func BuildRawText(d *InvoiceData) string {
	items := make([]string, 0, len(d.LineItems))
	for _, item := range d.LineItems {
		items = append(items, fmt.Sprintf("%s x%s @%s = %s", item.Description, item.Quantity, item.UnitPrice, item.ItemTotal))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\n", d.Category)
	fmt.Fprintf(&b, "Supplier: %s (%s, %s)\n", d.SupplierName, d.SupplierAddress, d.SupplierPhone)
	fmt.Fprintf(&b, "Date: %s\n", d.InvoiceDate)
	fmt.Fprintf(&b, "Invoice #: %s\n", d.InvoiceNumber)
	fmt.Fprintf(&b, "Total: %s\n", d.TotalAmount)
	fmt.Fprintf(&b, "Subtotal: %s\n", d.Subtotal)
	fmt.Fprintf(&b, "Tax: %s\n", d.TaxAmount)
	fmt.Fprintf(&b, "Payment: %s\n", d.PaymentMethod)
	fmt.Fprintf(&b, "Items: %s", strings.Join(items, ", "))
	return b.String()
}
