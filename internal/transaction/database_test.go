package transaction

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"
)

var _ = Describe("BoltStore", func() {
	var (
		ctx   context.Context
		store *BoltStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = NewBoltStoreWithIDs(filepath.Join(GinkgoT().TempDir(), "test.db"), &sequentialIDs{})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	newRecord := func(supplier, total string) *Transaction {
		date := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
		return &Transaction{
			Date:         &date,
			SupplierName: supplier,
			TotalAmount:  total,
			Category:     "Shopping",
			Items:        []Item{{Name: "Thing", Quantity: "1", UnitPrice: total, ItemTotal: total}},
		}
	}

	Describe("Create", func() {
		var (
			record *Transaction
			id     string
			err    error
		)

		BeforeEach(func() {
			record = newRecord("Walmart", "12.50")
		})

		JustBeforeEach(func() {
			id, err = store.Create(ctx, "alice", record)
		})

		It("should assign an id", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("id-1"))
			Expect(record.ID).To(Equal("id-1"))
			Expect(record.UserID).To(Equal("alice"))
		})

		It("should persist the record", func() {
			saved, getErr := store.Get(ctx, "alice", id)
			Expect(getErr).NotTo(HaveOccurred())
			Expect(saved.SupplierName).To(Equal("Walmart"))
			Expect(saved.TotalAmount).To(Equal("12.50"))
			Expect(saved.Date.Equal(*record.Date)).To(BeTrue())
			Expect(saved.Items).To(HaveLen(1))
		})

		When("no user is given", func() {
			It("rejects the write", func() {
				_, err := store.Create(ctx, "", newRecord("x", "1"))
				Expect(errors.Is(err, ErrWrite)).To(BeTrue())
			})
		})

		When("the context is cancelled", func() {
			It("rejects the write", func() {
				cancelled, cancel := context.WithCancel(ctx)
				cancel()
				_, err := store.Create(cancelled, "alice", newRecord("x", "1"))
				Expect(errors.Is(err, ErrWrite)).To(BeTrue())
				Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			})
		})
	})

	Describe("user isolation", func() {
		BeforeEach(func() {
			_, err := store.Create(ctx, "alice", newRecord("Alice Store", "10"))
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Create(ctx, "bob", newRecord("Bob Store", "20"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("lists only the caller's records", func() {
			records, err := store.List(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].SupplierName).To(Equal("Alice Store"))
		})

		It("does not return another user's record by id", func() {
			_, err := store.Get(ctx, "alice", "id-2")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("does not delete another user's record", func() {
			err := store.Delete(ctx, "alice", "id-2")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			_, err = store.Get(ctx, "bob", "id-2")
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns an empty list for an unknown user", func() {
			records, err := store.List(ctx, "carol")
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
			Expect(records).NotTo(BeNil())
		})
	})

	Describe("Update", func() {
		BeforeEach(func() {
			_, err := store.Create(ctx, "alice", newRecord("Walmart", "12.50"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("replaces the record", func() {
			err := store.Update(ctx, "alice", "id-1", newRecord("Target", "99"))
			Expect(err).NotTo(HaveOccurred())
			saved, err := store.Get(ctx, "alice", "id-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.SupplierName).To(Equal("Target"))
			Expect(saved.ID).To(Equal("id-1"))
		})

		It("returns ErrNotFound for a missing record", func() {
			err := store.Update(ctx, "alice", "nope", newRecord("Target", "99"))
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			_, err := store.Create(ctx, "alice", newRecord("Walmart", "12.50"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("removes the record", func() {
			Expect(store.Delete(ctx, "alice", "id-1")).To(Succeed())
			_, err := store.Get(ctx, "alice", "id-1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("returns ErrNotFound for a missing record", func() {
			err := store.Delete(ctx, "alice", "nope")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("List", func() {
		When("a stored record cannot be decoded", func() {
			BeforeEach(func() {
				_, err := store.Create(ctx, "alice", newRecord("Good", "1"))
				Expect(err).NotTo(HaveOccurred())
				err = store.db.Update(func(tx *bbolt.Tx) error {
					return userBucket(tx, "alice").Put([]byte("broken"), []byte("{not json"))
				})
				Expect(err).NotTo(HaveOccurred())
			})

			It("skips it", func() {
				records, err := store.List(ctx, "alice")
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))
				Expect(records[0].SupplierName).To(Equal("Good"))
			})
		})

		When("a stored date is unreadable", func() {
			BeforeEach(func() {
				err := store.db.Update(func(tx *bbolt.Tx) error {
					b, err := tx.Bucket([]byte(transactionsBucket)).CreateBucketIfNotExists([]byte("alice"))
					if err != nil {
						return err
					}
					return b.Put([]byte("odd"), []byte(`{"id":"odd","supplierName":"Odd","date":"yesterday","totalAmount":"5"}`))
				})
				Expect(err).NotTo(HaveOccurred())
			})

			It("keeps the record without a date", func() {
				records, err := store.List(ctx, "alice")
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))
				Expect(records[0].Date).To(BeNil())
				Expect(records[0].Amount()).To(Equal(5.0))
			})
		})
	})

	Describe("Subscribe", func() {
		var sub *Subscription

		BeforeEach(func() {
			_, err := store.Create(ctx, "alice", newRecord("Walmart", "12.50"))
			Expect(err).NotTo(HaveOccurred())
		})

		JustBeforeEach(func() {
			var err error
			sub, err = store.Subscribe(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			sub.Close()
		})

		It("delivers the current records first", func() {
			var snap Snapshot
			Eventually(sub.Snapshots()).Should(Receive(&snap))
			Expect(snap.Err).NotTo(HaveOccurred())
			Expect(snap.Records).To(HaveLen(1))
		})

		It("delivers a new snapshot after each write", func() {
			Eventually(sub.Snapshots()).Should(Receive())

			_, err := store.Create(ctx, "alice", newRecord("Target", "3"))
			Expect(err).NotTo(HaveOccurred())

			var snap Snapshot
			Eventually(sub.Snapshots()).Should(Receive(&snap))
			Expect(snap.Records).To(HaveLen(2))
		})

		It("ignores other users' writes", func() {
			Eventually(sub.Snapshots()).Should(Receive())

			_, err := store.Create(ctx, "bob", newRecord("Target", "3"))
			Expect(err).NotTo(HaveOccurred())

			Consistently(sub.Snapshots(), 100*time.Millisecond).ShouldNot(Receive())
		})

		It("keeps only the newest pending snapshot", func() {
			_, err := store.Create(ctx, "alice", newRecord("Target", "3"))
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Create(ctx, "alice", newRecord("Costco", "4"))
			Expect(err).NotTo(HaveOccurred())

			var snap Snapshot
			Eventually(sub.Snapshots()).Should(Receive(&snap))
			Expect(snap.Records).To(HaveLen(3))
			Consistently(sub.Snapshots(), 50*time.Millisecond).ShouldNot(Receive())
		})

		It("closes the channel and detaches on Close", func() {
			sub.Close()
			Eventually(sub.Snapshots()).Should(BeClosed())
			Expect(store.Subscribers()).To(Equal(0))
		})

		It("is safe to close twice", func() {
			sub.Close()
			Expect(sub.Close).NotTo(Panic())
		})
	})

	Describe("Subscribe with a cancellable context", func() {
		It("ends the subscription when the context is cancelled", func() {
			subCtx, cancel := context.WithCancel(ctx)
			sub, err := store.Subscribe(subCtx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Subscribers()).To(Equal(1))

			cancel()
			Eventually(store.Subscribers).Should(Equal(0))
			Eventually(func() bool {
				select {
				case _, ok := <-sub.Snapshots():
					return !ok
				default:
					return false
				}
			}).Should(BeTrue())
		})

		It("rejects an empty user", func() {
			_, err := store.Subscribe(ctx, "")
			Expect(errors.Is(err, ErrSubscription)).To(BeTrue())
		})
	})

	Describe("Close", func() {
		It("ends open subscriptions and rejects later calls", func() {
			sub, err := store.Subscribe(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())

			Expect(store.Close()).To(Succeed())
			Eventually(sub.Snapshots()).Should(BeClosed())

			_, err = store.Subscribe(ctx, "alice")
			Expect(errors.Is(err, ErrClosed)).To(BeTrue())

			_, err = store.Create(ctx, "alice", newRecord("x", "1"))
			Expect(errors.Is(err, ErrClosed)).To(BeTrue())
			store = nil
		})
	})
})
