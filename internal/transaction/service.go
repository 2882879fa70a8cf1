package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zombor/expense-tracker/internal/amount"
	"github.com/zombor/expense-tracker/internal/category"
	"github.com/zombor/expense-tracker/internal/scanning"
	"github.com/zombor/expense-tracker/internal/summary"
)

// ScanFailedDescription prefills the manual form after a failed scan.
const ScanFailedDescription = "OCR scan failed. Please enter details manually."

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ManualEntry is the form a user fills in to create or edit a transaction.
type ManualEntry struct {
	Date         string `json:"date"`
	SupplierName string `json:"supplierName"`
	TotalAmount  string `json:"totalAmount"`
	Category     string `json:"category"`
	Description  string `json:"description"`
}

func (e ManualEntry) trimmed() ManualEntry {
	return ManualEntry{
		Date:         strings.TrimSpace(e.Date),
		SupplierName: strings.TrimSpace(e.SupplierName),
		TotalAmount:  strings.TrimSpace(e.TotalAmount),
		Category:     strings.TrimSpace(e.Category),
		Description:  strings.TrimSpace(e.Description),
	}
}

// Validate returns a *ValidationError for the first problem found.
func (e ManualEntry) Validate() error {
	e = e.trimmed()

	required := []struct{ field, value string }{
		{"date", e.Date},
		{"supplierName", e.SupplierName},
		{"totalAmount", e.TotalAmount},
		{"category", e.Category},
	}
	for _, r := range required {
		if r.value == "" {
			return &ValidationError{Field: r.field, Message: "is required"}
		}
	}

	if !amount.Valid(e.TotalAmount) {
		return &ValidationError{Field: "totalAmount", Message: "must be a valid number"}
	}
	if _, err := time.Parse(summary.DayLayout, e.Date); err != nil {
		return &ValidationError{Field: "date", Message: "must be a date in YYYY-MM-DD format"}
	}
	if !category.Known(e.Category) {
		return &ValidationError{Field: "category", Message: "must be one of the known categories"}
	}
	return nil
}

func (e ManualEntry) items() []Item {
	name := e.Description
	if name == "" {
		name = e.Category
	}
	return []Item{{Name: name, Quantity: "1", UnitPrice: e.TotalAmount, ItemTotal: e.TotalAmount}}
}

// Service handles transaction operations
type Service struct {
	store      Store
	scanner    scanning.Scanner
	storage    Storage
	ids        IDGenerator
	timeSource TimeSource
	location   *time.Location
}

// NewService creates a Service using the wall clock. A nil location means
// time.Local.
func NewService(store Store, scanner scanning.Scanner, storage Storage, location *time.Location) *Service {
	return NewServiceWithDeps(store, scanner, storage, uuidGenerator{}, defaultTimeSource{}, location)
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store Store, scanner scanning.Scanner, storage Storage, ids IDGenerator, timeSrc TimeSource, location *time.Location) *Service {
	if location == nil {
		location = time.Local
	}
	return &Service{
		store:      store,
		scanner:    scanner,
		storage:    storage,
		ids:        ids,
		timeSource: timeSrc,
		location:   location,
	}
}

// Location is the time zone calendar days are computed in.
func (s *Service) Location() *time.Location {
	return s.location
}

// DefaultFilter is the current calendar month up to today.
func (s *Service) DefaultFilter() summary.FilterSpec {
	return summary.CurrentMonth(s.timeSource.Now(), s.location)
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename shortens phone-generated file names to something safe to
// store.
func sanitizeFilename(filename string) string {
	ext := unsafeFilenameChars.ReplaceAllString(filepath.Ext(filename), "")
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	if ext != "" {
		ext = "." + ext
	}
	return base + ext
}

// CreateManual validates and stores a hand-entered transaction.
func (s *Service) CreateManual(ctx context.Context, userID string, entry ManualEntry) (*Transaction, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	e := entry.trimmed()
	now := s.timeSource.Now()

	t := &Transaction{
		Date:         &now,
		InvoiceDate:  e.Date,
		SupplierName: e.SupplierName,
		TotalAmount:  e.TotalAmount,
		Category:     e.Category,
		FullText: fmt.Sprintf("Manual Entry - Date: %s, Supplier: %s, Total: %s, Category: %s, Description: %s",
			e.Date, e.SupplierName, e.TotalAmount, e.Category, e.Description),
		Items:     e.items(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.store.Create(ctx, userID, t); err != nil {
		return nil, fmt.Errorf("saving manual transaction: %w", err)
	}

	slog.Info("Created manual transaction", "user_id", userID, "id", t.ID, "category", t.Category)
	return t, nil
}

// UpdateTransaction applies an edited form to an existing transaction. The
// receipt and scanned details are kept.
func (s *Service) UpdateTransaction(ctx context.Context, userID, id string, entry ManualEntry) (*Transaction, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	e := entry.trimmed()

	t, err := s.store.Get(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction for update: %w", err)
	}

	day, err := time.ParseInLocation(summary.DayLayout, e.Date, s.location)
	if err != nil {
		return nil, &ValidationError{Field: "date", Message: "must be a date in YYYY-MM-DD format"}
	}

	t.Date = &day
	t.InvoiceDate = e.Date
	t.SupplierName = e.SupplierName
	t.TotalAmount = e.TotalAmount
	t.Category = e.Category
	t.FullText = e.Description
	t.Items = e.items()
	t.UpdatedAt = s.timeSource.Now()

	if err := s.store.Update(ctx, userID, id, t); err != nil {
		return nil, fmt.Errorf("updating transaction: %w", err)
	}
	return t, nil
}

// DeleteTransaction removes a transaction and, when it has one, its receipt
// image.
func (s *Service) DeleteTransaction(ctx context.Context, userID, id string) error {
	t, err := s.store.Get(ctx, userID, id)
	if err != nil {
		return fmt.Errorf("getting transaction for deletion: %w", err)
	}

	if err := s.store.Delete(ctx, userID, id); err != nil {
		return fmt.Errorf("deleting transaction: %w", err)
	}

	if t.ReceiptFile != "" {
		if err := s.storage.Delete(t.ReceiptFile); err != nil {
			slog.Warn("Failed to delete receipt file", "filename", t.ReceiptFile, "error", err)
		}
	}
	return nil
}

// GetTransaction retrieves one of the user's transactions.
func (s *Service) GetTransaction(ctx context.Context, userID, id string) (*Transaction, error) {
	t, err := s.store.Get(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	return t, nil
}

// ListTransactions returns all of the user's transactions.
func (s *Service) ListTransactions(ctx context.Context, userID string) ([]Transaction, error) {
	records, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return records, nil
}

// Summarize aggregates the user's current transactions once.
func (s *Service) Summarize(ctx context.Context, userID string, filter summary.FilterSpec) (AggregateResult, error) {
	records, err := s.ListTransactions(ctx, userID)
	if err != nil {
		return AggregateResult{}, err
	}
	if filter.Location == nil {
		filter.Location = s.location
	}
	return Summarize(records, filter), nil
}

// Watch opens a live query over the user's transactions.
func (s *Service) Watch(ctx context.Context, userID string, filter summary.FilterSpec) (*LiveQuery, error) {
	if filter.Location == nil {
		filter.Location = s.location
	}
	q, err := NewLiveQuery(ctx, s.store, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("watching transactions: %w", err)
	}
	return q, nil
}

// ScanReceipt stores a receipt image, reads it with the scanner and saves the
// result as a transaction. When the scanner fails the image is discarded and
// a *ScanFailedError carries a prefilled manual form.
func (s *Service) ScanReceipt(ctx context.Context, userID, filename string, data []byte, contentType string) (*Transaction, error) {
	now := s.timeSource.Now()

	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", s.ids.Generate(), sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	invoice, err := s.scanner.ScanReceipt(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.discard(savedName)
		return nil, &ScanFailedError{
			Err: err,
			Prefill: ManualEntry{
				Date:        now.In(s.location).Format(summary.DayLayout),
				Category:    string(category.Other),
				Description: ScanFailedDescription,
			},
		}
	}

	if invoice.MissingTotal() {
		if total, ok := scanning.RecoverTotal(invoice.RawText); ok {
			slog.Debug("Recovered total from receipt text", "total", total)
			invoice.TotalAmount = total
		}
	}

	rawText := scanning.BuildRawText(invoice)
	items := make([]Item, 0, len(invoice.LineItems))
	for _, li := range invoice.LineItems {
		items = append(items, Item{Name: li.Description, Quantity: li.Quantity, UnitPrice: li.UnitPrice, ItemTotal: li.ItemTotal})
	}

	t := &Transaction{
		Date:               &now,
		InvoiceDate:        invoice.InvoiceDate,
		SupplierName:       invoice.SupplierName,
		SupplierAddress:    invoice.SupplierAddress,
		SupplierPhone:      invoice.SupplierPhone,
		InvoiceNumber:      invoice.InvoiceNumber,
		TotalAmount:        invoice.TotalAmount,
		Subtotal:           invoice.Subtotal,
		TaxAmount:          invoice.TaxAmount,
		PaymentMethod:      invoice.PaymentMethod,
		Category:           string(category.Resolve(invoice.Category, rawText)),
		FullText:           rawText,
		Items:              items,
		ReceiptFile:        savedName,
		ReceiptContentType: contentType,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if _, err := s.store.Create(ctx, userID, t); err != nil {
		s.discard(savedName)
		return nil, fmt.Errorf("saving scanned transaction: %w", err)
	}

	slog.Info("Scanned receipt", "user_id", userID, "id", t.ID, "supplier", t.SupplierName, "category", t.Category)
	return t, nil
}

func (s *Service) discard(name string) {
	if err := s.storage.Delete(name); err != nil {
		slog.Warn("Failed to delete file", "filename", name, "error", err)
	}
}

// GetReceiptFile returns the stored receipt image of a transaction.
func (s *Service) GetReceiptFile(ctx context.Context, userID, id string) ([]byte, string, error) {
	t, err := s.store.Get(ctx, userID, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting transaction: %w", err)
	}
	if t.ReceiptFile == "" {
		return nil, "", fmt.Errorf("transaction %s has no receipt: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(t.ReceiptFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, t.ReceiptContentType, nil
}

var invoiceDateLayouts = []string{
	summary.DayLayout,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02-01-2006",
	time.RFC3339,
}

// EntryFor fills the edit form from a stored transaction. Labels outside the
// taxonomy are offered as Other so the form can be saved unchanged.
func (s *Service) EntryFor(t Transaction) ManualEntry {
	entry := ManualEntry{
		SupplierName: t.SupplierName,
		Category:     string(category.Normalize(t.Category)),
		Description:  t.Description(),
	}
	if v := t.Amount(); v != 0 {
		entry.TotalAmount = amount.String(v)
	}

	if t.InvoiceDate != "" && t.InvoiceDate != scanning.NotAvailable {
		for _, layout := range invoiceDateLayouts {
			if d, err := time.ParseInLocation(layout, t.InvoiceDate, s.location); err == nil {
				entry.Date = d.Format(summary.DayLayout)
				return entry
			}
		}
	}
	if t.Date != nil {
		entry.Date = t.Date.In(s.location).Format(summary.DayLayout)
	}
	return entry
}

// IsValidation reports whether err rejects user input.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
