package transaction

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-tracker/internal/scanning"
	"github.com/zombor/expense-tracker/internal/summary"
)

var _ = Describe("ManualEntry", func() {
	valid := func() ManualEntry {
		return ManualEntry{
			Date:         "2024-03-10",
			SupplierName: "Cafe",
			TotalAmount:  "12.50",
			Category:     "Food & Dining",
			Description:  "Lunch",
		}
	}

	It("accepts a complete entry", func() {
		Expect(valid().Validate()).To(Succeed())
	})

	DescribeTable("rejecting an entry",
		func(mutate func(*ManualEntry), field string) {
			e := valid()
			mutate(&e)
			err := e.Validate()
			var v *ValidationError
			Expect(errors.As(err, &v)).To(BeTrue())
			Expect(v.Field).To(Equal(field))
		},
		Entry("missing date", func(e *ManualEntry) { e.Date = "" }, "date"),
		Entry("blank supplier", func(e *ManualEntry) { e.SupplierName = "   " }, "supplierName"),
		Entry("missing total", func(e *ManualEntry) { e.TotalAmount = "" }, "totalAmount"),
		Entry("missing category", func(e *ManualEntry) { e.Category = "" }, "category"),
		Entry("reports the first missing field", func(e *ManualEntry) { e.Date = ""; e.Category = "" }, "date"),
		Entry("non-numeric total", func(e *ManualEntry) { e.TotalAmount = "abc" }, "totalAmount"),
		Entry("badly formatted date", func(e *ManualEntry) { e.Date = "10/03/2024" }, "date"),
		Entry("unknown category", func(e *ManualEntry) { e.Category = "Groceries" }, "category"),
	)

	It("accepts a total with trailing text like a float parse would", func() {
		e := valid()
		e.TotalAmount = "12.50 USD"
		Expect(e.Validate()).To(Succeed())
	})
})

var _ = Describe("sanitizeFilename", func() {
	DescribeTable("cleaning upload names",
		func(in, out string) {
			Expect(sanitizeFilename(in)).To(Equal(out))
		},
		Entry("plain", "receipt.jpg", "receipt.jpg"),
		Entry("special characters", "IMG_2024(1)!.jpeg", "IMG_20241.jpeg"),
		Entry("path components", "../../etc/passwd", "passwd"),
		Entry("empty base", "!!!.png", "receipt.png"),
		Entry("long names", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.pdf", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.pdf"),
	)
})

var _ = Describe("Service", func() {
	var (
		ctx     context.Context
		store   *mockStore
		storage *mockStorage
		scanner *mockScanner
		service *Service
		now     time.Time
		loc     *time.Location
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newMockStore()
		storage = newMockStorage()
		scanner = newMockScanner()
		loc = time.FixedZone("ICT", 7*60*60)
		now = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
		service = NewServiceWithDeps(store, scanner, storage, &sequentialIDs{}, fixedTime{now}, loc)
	})

	Describe("CreateManual", func() {
		var (
			entry ManualEntry
			t     *Transaction
			err   error
		)

		BeforeEach(func() {
			entry = ManualEntry{
				Date:         "2024-03-10",
				SupplierName: " Cafe ",
				TotalAmount:  "12.50",
				Category:     "Food & Dining",
				Description:  "Lunch",
			}
		})

		JustBeforeEach(func() {
			t, err = service.CreateManual(ctx, "alice", entry)
		})

		When("the entry is valid", func() {
			It("stores the transaction", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(t.ID).To(Equal("tx-1"))
				saved, getErr := store.Get(ctx, "alice", t.ID)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.SupplierName).To(Equal("Cafe"))
			})

			It("timestamps it with the current time", func() {
				Expect(t.Date).NotTo(BeNil())
				Expect(t.Date.Equal(now)).To(BeTrue())
				Expect(t.CreatedAt).To(Equal(now))
				Expect(t.InvoiceDate).To(Equal("2024-03-10"))
			})

			It("builds the full text", func() {
				Expect(t.FullText).To(Equal("Manual Entry - Date: 2024-03-10, Supplier: Cafe, Total: 12.50, Category: Food & Dining, Description: Lunch"))
			})

			It("builds a single item", func() {
				Expect(t.Items).To(Equal([]Item{{Name: "Lunch", Quantity: "1", UnitPrice: "12.50", ItemTotal: "12.50"}}))
			})
		})

		When("there is no description", func() {
			BeforeEach(func() {
				entry.Description = ""
			})

			It("names the item after the category", func() {
				Expect(t.Items[0].Name).To(Equal("Food & Dining"))
			})
		})

		When("the entry is invalid", func() {
			BeforeEach(func() {
				entry.TotalAmount = "lots"
			})

			It("returns a validation error without touching the store", func() {
				Expect(IsValidation(err)).To(BeTrue())
				Expect(store.callCount()).To(Equal(0))
			})
		})

		When("the store rejects the write", func() {
			BeforeEach(func() {
				store.createErr = writeError("creating transaction", errBoom)
			})

			It("returns a write error", func() {
				Expect(errors.Is(err, ErrWrite)).To(BeTrue())
				Expect(errors.Is(err, errBoom)).To(BeTrue())
			})
		})
	})

	Describe("UpdateTransaction", func() {
		var (
			entry ManualEntry
			t     *Transaction
			err   error
		)

		BeforeEach(func() {
			created := now.Add(-48 * time.Hour)
			store.put("alice", Transaction{
				ID:           "tx-9",
				Date:         &created,
				SupplierName: "Old",
				TotalAmount:  "1",
				Category:     "Other",
				ReceiptFile:  "id-1_receipt.jpg",
				TaxAmount:    "0.10",
				CreatedAt:    created,
			})
			entry = ManualEntry{
				Date:         "2024-03-01",
				SupplierName: "New",
				TotalAmount:  "2.50",
				Category:     "Shopping",
				Description:  "Socks",
			}
		})

		JustBeforeEach(func() {
			t, err = service.UpdateTransaction(ctx, "alice", "tx-9", entry)
		})

		It("replaces the edited fields", func() {
			Expect(err).NotTo(HaveOccurred())
			saved, _ := store.Get(ctx, "alice", "tx-9")
			Expect(saved.SupplierName).To(Equal("New"))
			Expect(saved.TotalAmount).To(Equal("2.50"))
			Expect(saved.Category).To(Equal("Shopping"))
			Expect(saved.FullText).To(Equal("Socks"))
			Expect(saved.InvoiceDate).To(Equal("2024-03-01"))
			Expect(saved.Items).To(Equal([]Item{{Name: "Socks", Quantity: "1", UnitPrice: "2.50", ItemTotal: "2.50"}}))
		})

		It("re-timestamps the record at the start of the entered day", func() {
			Expect(t.Date.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, loc))).To(BeTrue())
			Expect(t.UpdatedAt).To(Equal(now))
		})

		It("keeps the receipt and scanned details", func() {
			Expect(t.ReceiptFile).To(Equal("id-1_receipt.jpg"))
			Expect(t.TaxAmount).To(Equal("0.10"))
		})

		When("the record does not exist", func() {
			It("returns ErrNotFound", func() {
				_, err := service.UpdateTransaction(ctx, "bob", "tx-9", entry)
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})
		})

		When("the entry is invalid", func() {
			BeforeEach(func() {
				entry.Category = ""
			})

			It("returns a validation error", func() {
				Expect(IsValidation(err)).To(BeTrue())
				Expect(store.callCount()).To(Equal(0))
			})
		})
	})

	Describe("DeleteTransaction", func() {
		BeforeEach(func() {
			storage.files["id-1_receipt.jpg"] = []byte("img")
			store.put("alice", Transaction{ID: "tx-1", ReceiptFile: "id-1_receipt.jpg"})
			store.put("alice", Transaction{ID: "tx-2"})
		})

		It("deletes the record and its receipt", func() {
			Expect(service.DeleteTransaction(ctx, "alice", "tx-1")).To(Succeed())
			_, err := store.Get(ctx, "alice", "tx-1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			Expect(storage.files).NotTo(HaveKey("id-1_receipt.jpg"))
		})

		It("does not touch storage for manual entries", func() {
			Expect(service.DeleteTransaction(ctx, "alice", "tx-2")).To(Succeed())
			Expect(storage.deleted).To(BeEmpty())
		})

		It("ignores storage failures", func() {
			storage.deleteErr = errBoom
			Expect(service.DeleteTransaction(ctx, "alice", "tx-1")).To(Succeed())
		})

		It("returns ErrNotFound for a missing record", func() {
			err := service.DeleteTransaction(ctx, "alice", "nope")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("returns write errors", func() {
			store.deleteErr = writeError("deleting transaction", errBoom)
			err := service.DeleteTransaction(ctx, "alice", "tx-1")
			Expect(errors.Is(err, ErrWrite)).To(BeTrue())
		})
	})

	Describe("ScanReceipt", func() {
		var (
			t   *Transaction
			err error
		)

		JustBeforeEach(func() {
			t, err = service.ScanReceipt(ctx, "alice", "My Receipt.jpg", []byte("image"), "image/jpeg")
		})

		When("the scan succeeds", func() {
			It("stores the transaction", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(t.ID).To(Equal("tx-1"))
				Expect(t.SupplierName).To(Equal("Highlands Coffee"))
				Expect(t.TotalAmount).To(Equal("45,000"))
				Expect(t.Amount()).To(Equal(45000.0))
				Expect(t.Date.Equal(now)).To(BeTrue())
			})

			It("keeps the receipt image", func() {
				Expect(t.ReceiptFile).To(Equal("id-1_My Receipt.jpg"))
				Expect(t.ReceiptContentType).To(Equal("image/jpeg"))
				Expect(storage.files).To(HaveKey("id-1_My Receipt.jpg"))
			})

			It("stores the assembled raw text", func() {
				Expect(t.FullText).To(HavePrefix("Category: Food & Dining\nSupplier: Highlands Coffee (1 Le Loi, N/A)"))
				Expect(t.FullText).To(HaveSuffix("Items: Latte x1 @45,000 = 45,000"))
			})

			It("maps the line items", func() {
				Expect(t.Items).To(Equal([]Item{{Name: "Latte", Quantity: "1", UnitPrice: "45,000", ItemTotal: "45,000"}}))
			})

			It("keeps a specific upstream category", func() {
				Expect(t.Category).To(Equal("Food & Dining"))
			})
		})

		When("the scanner returns Uncategorized", func() {
			BeforeEach(func() {
				scanner.data.Category = "Uncategorized"
				scanner.data.SupplierName = "City Bus"
				scanner.data.LineItems = nil
			})

			It("categorizes by keyword", func() {
				Expect(t.Category).To(Equal("Transportation"))
			})
		})

		When("the scanner returns Other", func() {
			BeforeEach(func() {
				scanner.data.Category = "Other"
				scanner.data.SupplierName = "Monthly Rent"
				scanner.data.LineItems = nil
			})

			It("re-categorizes by keyword", func() {
				Expect(t.Category).To(Equal("Housing"))
			})
		})

		When("the total is missing", func() {
			BeforeEach(func() {
				scanner.data.TotalAmount = scanning.NotAvailable
				scanner.data.RawText = "HIGHLANDS\nTOTAL: 1,234.50\nTHANK YOU"
			})

			It("recovers it from the raw text", func() {
				Expect(t.TotalAmount).To(Equal("1234.50"))
				Expect(t.FullText).To(ContainSubstring("Total: 1234.50"))
			})
		})

		When("the total is missing and there is no raw text", func() {
			BeforeEach(func() {
				scanner.data.TotalAmount = scanning.NotAvailable
			})

			It("keeps N/A, which counts as zero", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(t.TotalAmount).To(Equal(scanning.NotAvailable))
				Expect(t.Amount()).To(Equal(0.0))
			})
		})

		When("the scan fails", func() {
			BeforeEach(func() {
				scanner.err = errBoom
			})

			It("returns a prefilled manual entry", func() {
				var failed *ScanFailedError
				Expect(errors.As(err, &failed)).To(BeTrue())
				Expect(errors.Is(err, errBoom)).To(BeTrue())
				Expect(failed.Prefill.Date).To(Equal("2024-03-15"))
				Expect(failed.Prefill.Category).To(Equal("Other"))
				Expect(failed.Prefill.Description).To(Equal(ScanFailedDescription))
			})

			It("discards the image and stores nothing", func() {
				Expect(storage.files).To(BeEmpty())
				Expect(store.callCount()).To(Equal(0))
			})
		})

		When("the store rejects the write", func() {
			BeforeEach(func() {
				store.createErr = writeError("creating transaction", errBoom)
			})

			It("discards the image", func() {
				Expect(errors.Is(err, ErrWrite)).To(BeTrue())
				Expect(storage.files).To(BeEmpty())
			})
		})

		When("the image cannot be saved", func() {
			BeforeEach(func() {
				storage.saveErr = errBoom
			})

			It("does not scan", func() {
				Expect(err).To(MatchError(ContainSubstring("saving file")))
				Expect(scanner.scanned).To(Equal(0))
			})
		})
	})

	Describe("GetReceiptFile", func() {
		BeforeEach(func() {
			storage.files["f.png"] = []byte("png")
			store.put("alice", Transaction{ID: "tx-1", ReceiptFile: "f.png", ReceiptContentType: "image/png"})
			store.put("alice", Transaction{ID: "tx-2"})
		})

		It("returns the image and its type", func() {
			data, contentType, err := service.GetReceiptFile(ctx, "alice", "tx-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png")))
			Expect(contentType).To(Equal("image/png"))
		})

		It("returns ErrNotFound without a receipt", func() {
			_, _, err := service.GetReceiptFile(ctx, "alice", "tx-2")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("returns ErrNotFound for another user", func() {
			_, _, err := service.GetReceiptFile(ctx, "bob", "tx-1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("Summarize", func() {
		BeforeEach(func() {
			d := time.Date(2024, 3, 10, 0, 0, 0, 0, loc)
			store.put("alice", Transaction{ID: "tx-1", Date: &d, TotalAmount: "100,000", Category: "Food & Dining"})
			store.put("alice", Transaction{ID: "tx-2", Date: &d, TotalAmount: "5", Category: "Income"})
		})

		It("aggregates the user's transactions", func() {
			result, err := service.Summarize(ctx, "alice", summary.FilterSpec{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.TotalExpenses).To(Equal(100000.0))
			Expect(result.VisibleTransactions).To(HaveLen(2))
		})

		It("uses the current month by default", func() {
			filter := service.DefaultFilter()
			Expect(filter.Start.Format(summary.DayLayout)).To(Equal("2024-03-01"))
			Expect(filter.End.Format(summary.DayLayout)).To(Equal("2024-03-15"))
			Expect(filter.Location).To(Equal(loc))
		})

		It("returns list errors", func() {
			store.listErr = errBoom
			_, err := service.Summarize(ctx, "alice", summary.FilterSpec{})
			Expect(errors.Is(err, errBoom)).To(BeTrue())
		})
	})

	Describe("Watch", func() {
		It("opens a live query over the store", func() {
			store.put("alice", Transaction{ID: "tx-1", TotalAmount: "3", Category: "Other"})
			q, err := service.Watch(ctx, "alice", summary.FilterSpec{})
			Expect(err).NotTo(HaveOccurred())
			defer q.Close()

			var v View
			Eventually(q.Updates()).Should(Receive(&v))
			Expect(v.TotalExpenses).To(Equal(3.0))
		})

		It("wraps subscription failures", func() {
			store.subErr = ErrSubscription
			_, err := service.Watch(ctx, "alice", summary.FilterSpec{})
			Expect(errors.Is(err, ErrSubscription)).To(BeTrue())
		})
	})

	Describe("EntryFor", func() {
		It("prefills from the invoice date", func() {
			d := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
			entry := service.EntryFor(Transaction{
				Date:         &d,
				InvoiceDate:  "03/05/2024",
				SupplierName: "Cafe",
				TotalAmount:  "1.234,50",
				Category:     "Food & Dining",
				Items:        []Item{{Name: "Tea"}, {Name: "Cake"}},
			})
			Expect(entry).To(Equal(ManualEntry{
				Date:         "2024-03-05",
				SupplierName: "Cafe",
				TotalAmount:  "1234.5",
				Category:     "Food & Dining",
				Description:  "Tea, Cake",
			}))
		})

		It("falls back to the stored date", func() {
			d := time.Date(2024, 3, 20, 20, 0, 0, 0, time.UTC)
			entry := service.EntryFor(Transaction{Date: &d, InvoiceDate: scanning.NotAvailable, FullText: "notes"})
			Expect(entry.Date).To(Equal("2024-03-21"))
			Expect(entry.Category).To(Equal("Other"))
			Expect(entry.TotalAmount).To(BeEmpty())
			Expect(entry.Description).To(Equal("notes"))
		})

		It("offers a label outside the taxonomy as Other so it can be saved", func() {
			d := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
			stored := Transaction{
				ID: "tx-7", Date: &d, InvoiceDate: "2024-03-19",
				SupplierName: "Big C", TotalAmount: "250,000", Category: "Groceries",
			}
			store.put("alice", stored)

			entry := service.EntryFor(stored)
			Expect(entry.Category).To(Equal("Other"))
			Expect(entry.Validate()).To(Succeed())

			updated, err := service.UpdateTransaction(ctx, "alice", "tx-7", entry)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Category).To(Equal("Other"))
			Expect(updated.TotalAmount).To(Equal("250000"))
		})
	})
})
