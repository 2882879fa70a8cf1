package transaction

import (
	"context"
	"sync"
)

// Snapshot is the full set of a user's records as of one store update, or
// the error that prevented reading it.
type Snapshot struct {
	Records []Transaction
	Err     error
}

// Subscription delivers snapshots for one user until it is closed. A slow
// reader only ever sees the newest pending snapshot.
type Subscription struct {
	userID string
	ch     chan Snapshot

	mu     sync.Mutex
	closed bool

	stop   func() bool
	detach func(*Subscription)
}

func newSubscription(userID string, detach func(*Subscription)) *Subscription {
	return &Subscription{
		userID: userID,
		ch:     make(chan Snapshot, 1),
		detach: detach,
	}
}

// watch closes the subscription when ctx is done.
func (s *Subscription) watch(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.Close)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		stop()
		return
	}
	s.stop = stop
}

// UserID returns the owner the subscription is scoped to.
func (s *Subscription) UserID() string {
	return s.userID
}

// Snapshots returns the delivery channel. It is closed when the subscription
// ends.
func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.ch
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	stop := s.stop
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if s.detach != nil {
		s.detach(s)
	}
}

// offer replaces any undelivered snapshot with snap.
func (s *Subscription) offer(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// broker tracks live subscriptions per user.
type broker struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[*Subscription]struct{})}
}

func (b *broker) add(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[s.userID] == nil {
		b.subs[s.userID] = make(map[*Subscription]struct{})
	}
	b.subs[s.userID][s] = struct{}{}
}

func (b *broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[s.userID], s)
	if len(b.subs[s.userID]) == 0 {
		delete(b.subs, s.userID)
	}
}

func (b *broker) subscribers(userID string) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Subscription, 0, len(b.subs[userID]))
	for s := range b.subs[userID] {
		out = append(out, s)
	}
	return out
}

func (b *broker) hasSubscribers(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID]) > 0
}

func (b *broker) all() []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Subscription
	for _, set := range b.subs {
		for s := range set {
			out = append(out, s)
		}
	}
	return out
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}
