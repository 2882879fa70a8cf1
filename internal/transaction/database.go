package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const transactionsBucket = "transactions"

// Store is the document store holding every user's transactions. All
// operations are scoped to a single user id.
type Store interface {
	Subscriber

	// Create stores t for userID and returns the id the store assigned.
	Create(ctx context.Context, userID string, t *Transaction) (string, error)

	// Update replaces every field of an existing record.
	Update(ctx context.Context, userID, id string, t *Transaction) error

	// Delete removes a record.
	Delete(ctx context.Context, userID, id string) error

	// Get returns one record.
	Get(ctx context.Context, userID, id string) (*Transaction, error)

	// List returns every record owned by userID.
	List(ctx context.Context, userID string) ([]Transaction, error)

	// Close releases the store and ends every subscription.
	Close() error
}

// Subscriber opens live queries.
type Subscriber interface {
	// Subscribe delivers the user's current records and a fresh snapshot
	// after every change until ctx is done or the subscription is closed.
	Subscribe(ctx context.Context, userID string) (*Subscription, error)
}

// IDGenerator generates unique IDs
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// BoltStore implements Store on BoltDB. Each user's records live in their own
// nested bucket, so a lookup can only ever see the caller's records.
type BoltStore struct {
	db     *bbolt.DB
	ids    IDGenerator
	broker *broker

	// mu orders writes with the snapshots they publish.
	mu     sync.Mutex
	closed bool
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	return NewBoltStoreWithIDs(path, uuidGenerator{})
}

// NewBoltStoreWithIDs opens the database with a custom id generator.
func NewBoltStoreWithIDs(path string, ids IDGenerator) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(transactionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db, ids: ids, broker: newBroker()}, nil
}

func userBucket(tx *bbolt.Tx, userID string) *bbolt.Bucket {
	return tx.Bucket([]byte(transactionsBucket)).Bucket([]byte(userID))
}

func (b *BoltStore) check(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if userID == "" {
		return errors.New("user id is required")
	}
	return nil
}

// Create stores t under a new id. t.ID and t.UserID are overwritten.
func (b *BoltStore) Create(ctx context.Context, userID string, t *Transaction) (string, error) {
	if err := b.check(ctx, userID); err != nil {
		return "", writeError("creating transaction", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", writeError("creating transaction", ErrClosed)
	}

	record := *t
	record.ID = b.ids.Generate()
	record.UserID = userID

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket([]byte(transactionsBucket)).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return err
		}
		return put(bucket, &record)
	})
	if err != nil {
		return "", writeError("creating transaction", err)
	}

	t.ID = record.ID
	t.UserID = userID
	b.publish(userID)
	return record.ID, nil
}

// Update replaces the record stored under id.
func (b *BoltStore) Update(ctx context.Context, userID, id string, t *Transaction) error {
	if err := b.check(ctx, userID); err != nil {
		return writeError("updating transaction", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return writeError("updating transaction", ErrClosed)
	}

	record := *t
	record.ID = id
	record.UserID = userID

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := userBucket(tx, userID)
		if bucket == nil || bucket.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return put(bucket, &record)
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("updating transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return writeError("updating transaction", err)
	}

	b.publish(userID)
	return nil
}

// Delete removes the record stored under id.
func (b *BoltStore) Delete(ctx context.Context, userID, id string) error {
	if err := b.check(ctx, userID); err != nil {
		return writeError("deleting transaction", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return writeError("deleting transaction", ErrClosed)
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := userBucket(tx, userID)
		if bucket == nil || bucket.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(id))
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("deleting transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return writeError("deleting transaction", err)
	}

	b.publish(userID)
	return nil
}

// Get retrieves a record by id.
func (b *BoltStore) Get(ctx context.Context, userID, id string) (*Transaction, error) {
	if err := b.check(ctx, userID); err != nil {
		return nil, err
	}

	var t Transaction
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := userBucket(tx, userID)
		if bucket == nil {
			return ErrNotFound
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &t)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	return &t, nil
}

// List returns every record of userID in key order. Records that cannot be
// decoded are skipped.
func (b *BoltStore) List(ctx context.Context, userID string) ([]Transaction, error) {
	if err := b.check(ctx, userID); err != nil {
		return nil, err
	}
	return b.list(userID)
}

func (b *BoltStore) list(userID string) ([]Transaction, error) {
	records := make([]Transaction, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := userBucket(tx, userID)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var t Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				slog.Warn("Skipping unreadable transaction", "user_id", userID, "id", string(k), "error", err)
				return nil
			}
			records = append(records, t)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return records, nil
}

// Subscribe implements Subscriber. The first snapshot is queued before
// Subscribe returns.
func (b *BoltStore) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	if err := b.check(ctx, userID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscription, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("%w: %w", ErrSubscription, ErrClosed)
	}

	sub := newSubscription(userID, b.broker.remove)
	b.broker.add(sub)
	sub.watch(ctx)

	records, err := b.list(userID)
	if err != nil {
		sub.offer(Snapshot{Err: fmt.Errorf("%w: %w", ErrSubscription, err)})
	} else {
		sub.offer(Snapshot{Records: records})
	}
	return sub, nil
}

// publish pushes the current records of userID to its subscribers. Callers
// hold b.mu.
func (b *BoltStore) publish(userID string) {
	if !b.broker.hasSubscribers(userID) {
		return
	}

	snap := Snapshot{}
	records, err := b.list(userID)
	if err != nil {
		snap.Err = fmt.Errorf("%w: %w", ErrSubscription, err)
	} else {
		snap.Records = records
	}

	for _, sub := range b.broker.subscribers(userID) {
		sub.offer(snap)
	}
}

// Subscribers returns the number of open subscriptions.
func (b *BoltStore) Subscribers() int {
	return b.broker.count()
}

// Close ends every subscription and closes the database.
func (b *BoltStore) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	for _, sub := range b.broker.all() {
		sub.Close()
	}
	return b.db.Close()
}

func put(bucket *bbolt.Bucket, t *Transaction) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling transaction: %w", err)
	}
	return bucket.Put([]byte(t.ID), data)
}
