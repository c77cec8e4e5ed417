// Package events carries ledger balance changes to in-process observers.
package events

import "sync"

// BalanceChange is published after every committed ledger mutation.
type BalanceChange struct {
	AccountID  string
	NewBalance int64
}

// Callback receives a balance change. Callbacks run synchronously on the
// publishing goroutine, in registration order.
type Callback func(BalanceChange)

type subscriber struct {
	id int64
	fn Callback
}

// Bus is an explicit in-process registry of balance-change observers. It is
// constructed and passed by reference; there is no process-wide instance.
// Subscribers registered after a publish missed it; there is no replay.
type Bus struct {
	mu     sync.Mutex
	nextID int64
	subs   map[string][]subscriber
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers fn for changes to accountID and returns an unsubscribe
// function. Unsubscribing is safe at any time, including from inside a
// callback during dispatch.
func (b *Bus) Subscribe(accountID string, fn Callback) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[accountID] = append(b.subs[accountID], subscriber{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[accountID]
		for i, s := range list {
			if s.id == id {
				b.subs[accountID] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[accountID]) == 0 {
			delete(b.subs, accountID)
		}
	}
}

// Publish invokes every subscriber registered for each change's account
// before returning. Lifecycle transactions collect their changes and publish
// them here in one call after commit. The subscriber list is snapshotted
// under the lock so callbacks may subscribe or unsubscribe freely without
// corrupting dispatch.
func (b *Bus) Publish(changes ...BalanceChange) {
	for _, change := range changes {
		b.mu.Lock()
		list := b.subs[change.AccountID]
		snapshot := make([]subscriber, len(list))
		copy(snapshot, list)
		b.mu.Unlock()

		for _, s := range snapshot {
			s.fn(change)
		}
	}
}
