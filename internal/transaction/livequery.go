package transaction

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zombor/expense-tracker/internal/summary"
)

// View is one consistent rendering of a live query.
type View struct {
	AggregateResult

	// Loading is true until the first snapshot arrives.
	Loading bool `json:"loading"`

	// Err is the most recent subscription failure. The aggregates of the
	// last good snapshot are kept alongside it.
	Err error `json:"-"`
}

// LiveQuery keeps an aggregated view of one user's records current as the
// store changes.
type LiveQuery struct {
	sub *Subscription

	mu      sync.RWMutex
	records []Transaction
	filter  summary.FilterSpec
	view    View
	closed  bool
	updates chan View

	done chan struct{}
}

// NewLiveQuery subscribes to userID's records and aggregates every snapshot
// with filter. The query ends when ctx is done or Close is called.
func NewLiveQuery(ctx context.Context, s Subscriber, userID string, filter summary.FilterSpec) (*LiveQuery, error) {
	sub, err := s.Subscribe(ctx, userID)
	if err != nil {
		return nil, err
	}

	q := &LiveQuery{
		sub:     sub,
		filter:  filter,
		view:    View{AggregateResult: Summarize(nil, filter), Loading: true},
		updates: make(chan View, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q, nil
}

func (q *LiveQuery) run() {
	defer close(q.done)

	for snap := range q.sub.Snapshots() {
		q.apply(snap)
	}

	q.mu.Lock()
	q.closed = true
	close(q.updates)
	q.mu.Unlock()
}

func (q *LiveQuery) apply(snap Snapshot) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if snap.Err != nil {
		slog.Error("Live query snapshot failed", "user_id", q.sub.UserID(), "error", snap.Err)
		view := q.view
		view.Loading = false
		view.Err = snap.Err
		q.publish(view)
		return
	}

	q.records = snap.Records
	q.publish(View{AggregateResult: Summarize(q.records, q.filter)})
}

// publish stores view and hands it to Updates, replacing any view the reader
// has not taken yet. Callers hold q.mu.
func (q *LiveQuery) publish(view View) {
	q.view = view
	if q.closed {
		return
	}
	for {
		select {
		case q.updates <- view:
			return
		default:
		}
		select {
		case <-q.updates:
		default:
		}
	}
}

// Records returns the records of the latest snapshot, unfiltered.
func (q *LiveQuery) Records() []Transaction {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Transaction, len(q.records))
	copy(out, q.records)
	return out
}

// Result returns the current view.
func (q *LiveQuery) Result() View {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.view
}

// Loading reports whether the first snapshot is still outstanding.
func (q *LiveQuery) Loading() bool {
	return q.Result().Loading
}

// Err returns the most recent subscription failure, if any.
func (q *LiveQuery) Err() error {
	return q.Result().Err
}

// Filter returns the filter currently applied.
func (q *LiveQuery) Filter() summary.FilterSpec {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.filter
}

// SetFilter re-aggregates the current snapshot with filter. A filter without
// a Location keeps the query's current one.
func (q *LiveQuery) SetFilter(filter summary.FilterSpec) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if filter.Location == nil {
		filter.Location = q.filter.Location
	}
	q.filter = filter
	view := View{
		AggregateResult: Summarize(q.records, filter),
		Loading:         q.view.Loading,
		Err:             q.view.Err,
	}
	q.publish(view)
}

// Updates delivers each new view. Only the newest undelivered view is kept.
// The channel is closed when the query ends.
func (q *LiveQuery) Updates() <-chan View {
	return q.updates
}

// Done is closed once the query has stopped.
func (q *LiveQuery) Done() <-chan struct{} {
	return q.done
}

// Close ends the store subscription and waits for the query to stop.
func (q *LiveQuery) Close() {
	q.sub.Close()
	<-q.done
}
