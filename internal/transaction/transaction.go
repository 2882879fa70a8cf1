package transaction

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/zombor/expense-tracker/internal/amount"
	"github.com/zombor/expense-tracker/internal/category"
	"github.com/zombor/expense-tracker/internal/summary"
)

// Item is one receipt line. Every field is kept as the text the receipt or the
// user supplied.
type Item struct {
	Name      string `json:"name"`
	Quantity  string `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	ItemTotal string `json:"itemTotal"`
}

// Transaction is a stored expense or income record owned by exactly one user.
type Transaction struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	// Date is assigned when the record is created and replaced when the user
	// edits it. It is nil when the stored value cannot be read.
	Date        *time.Time `json:"date,omitempty"`
	InvoiceDate string     `json:"invoiceDate,omitempty"`

	SupplierName    string `json:"supplierName"`
	SupplierAddress string `json:"supplierAddress,omitempty"`
	SupplierPhone   string `json:"supplierPhone,omitempty"`
	InvoiceNumber   string `json:"invoiceNumber,omitempty"`

	// TotalAmount is the authoritative amount in whatever notation it was
	// captured in. Use Amount for the number.
	TotalAmount   string `json:"totalAmount"`
	Subtotal      string `json:"subtotal,omitempty"`
	TaxAmount     string `json:"taxAmount,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`

	Category string `json:"category"`
	FullText string `json:"fullText"`
	Items    []Item `json:"items"`

	ReceiptFile        string `json:"receiptFile,omitempty"`
	ReceiptContentType string `json:"receiptContentType,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Amount returns the normalized value of TotalAmount.
func (t Transaction) Amount() float64 {
	return amount.Normalize(t.TotalAmount)
}

// IsIncome reports whether the record is revenue rather than an expense.
func (t Transaction) IsIncome() bool {
	return category.IsIncome(t.Category)
}

// SummaryRecord implements summary.Source.
func (t Transaction) SummaryRecord() summary.Record {
	names := make([]string, 0, len(t.Items))
	for _, item := range t.Items {
		names = append(names, item.Name)
	}
	return summary.Record{
		Date:         t.Date,
		Category:     t.Category,
		SupplierName: t.SupplierName,
		FullText:     t.FullText,
		ItemNames:    names,
		TotalAmount:  t.TotalAmount,
	}
}

// Description is the item names joined, or the full text when there are no
// items.
func (t Transaction) Description() string {
	if len(t.Items) == 0 {
		return t.FullText
	}
	names := make([]string, 0, len(t.Items))
	for _, item := range t.Items {
		names = append(names, item.Name)
	}
	return strings.Join(names, ", ")
}

// UnmarshalJSON reads the date leniently: RFC 3339 strings and
// {"seconds","nanoseconds"} timestamps are accepted, anything else leaves
// Date nil instead of failing the whole record.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type plain Transaction
	aux := struct {
		*plain
		Date json.RawMessage `json:"date,omitempty"`
	}{plain: (*plain)(t)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.Date = parseStoredDate(aux.Date)
	return nil
}

func parseStoredDate(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil
		}
		return &d
	}

	var ts struct {
		Seconds     *int64 `json:"seconds"`
		Nanoseconds int64  `json:"nanoseconds"`
	}
	if err := json.Unmarshal(raw, &ts); err == nil && ts.Seconds != nil {
		d := time.Unix(*ts.Seconds, ts.Nanoseconds).UTC()
		return &d
	}
	return nil
}

// AggregateResult is what the presentation layer renders for one filter.
type AggregateResult struct {
	TotalExpenses       float64                 `json:"totalExpenses"`
	CategoryBreakdown   []summary.CategoryTotal `json:"categoryBreakdown"`
	BucketBreakdown     []summary.BucketTotal   `json:"bucketBreakdown"`
	VisibleTransactions []Transaction           `json:"visibleTransactions"`
	PieChart            []summary.PieSlice      `json:"pieChart"`
	BarChart            summary.BarData         `json:"barChart"`
}

// Summarize filters and aggregates records. records is not modified.
func Summarize(records []Transaction, filter summary.FilterSpec) AggregateResult {
	result := summary.AggregateSources(records, filter)

	visible := make([]Transaction, 0, len(result.Visible))
	for _, i := range result.Visible {
		visible = append(visible, records[i])
	}

	return AggregateResult{
		TotalExpenses:       result.TotalExpenses,
		CategoryBreakdown:   result.CategoryBreakdown,
		BucketBreakdown:     result.BucketBreakdown,
		VisibleTransactions: visible,
		PieChart:            summary.PieChart(result),
		BarChart:            summary.BarChart(result),
	}
}
