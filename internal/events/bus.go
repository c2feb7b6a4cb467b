// Package events carries state-change notifications from the core to
// external observers (HUD feeds, visualizers, analytics).
//
// The bus broadcasts every participant's updates to every subscriber;
// filtering by ParticipantID is a consumer responsibility.
package events

import (
	"sync"
)

// UpdateReason tells consumers why a participant's state changed.
type UpdateReason string

const (
	ReasonJoin     UpdateReason = "JOIN"
	ReasonTick     UpdateReason = "TICK"
	ReasonDay      UpdateReason = "DAY"
	ReasonPurchase UpdateReason = "PURCHASE"
	ReasonReset    UpdateReason = "RESET"
)

// StateUpdate is the payload broadcast after every successful commit.
type StateUpdate struct {
	ParticipantID  string       `json:"participant_id"`
	Catnip         float64      `json:"catnip"`
	CatnipFields   int          `json:"catnip_fields"`
	NextFieldPrice float64      `json:"next_field_price"`
	Tick           int64        `json:"tick"`
	Day            int64        `json:"day"`
	Reason         UpdateReason `json:"reason"`
}

// Bus is a fan-out channel for StateUpdates. Publish never blocks the
// publisher: a subscriber whose buffer is full misses the update (observers
// are advisory, the roster remains the source of truth).
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan StateUpdate
	nextID int
}

// NewBus creates an empty notification bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan StateUpdate)}
}

// Subscribe registers a new observer. The returned cancel function removes
// the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan StateUpdate, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan StateUpdate, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an update to all subscribers without blocking.
func (b *Bus) Publish(update StateUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- update:
		default:
			// Slow subscriber: drop rather than stall the core.
		}
	}
}

// SubscriberCount reports the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
