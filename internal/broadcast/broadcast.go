package broadcast

import (
	"sync"

	"go.uber.org/zap"

	"ordersync/internal/models"
)

// Presentation is the derived display descriptor for the tracked order's
// status. It is recomputed from the record on every read, never stored, so
// it cannot diverge from the record it derives from.
type Presentation struct {
	Label string
	Icon  string
	Color string
}

// PresentationFor maps an active status to its display descriptor.
func PresentationFor(status models.ActiveStatus) Presentation {
	switch status {
	case models.ActivePreparing:
		return Presentation{
			Label: "Your order is being prepared",
			Icon:  "restaurant",
			Color: "#5856D6",
		}
	case models.ActiveOutForDelivery:
		return Presentation{
			Label: "Order is on the way",
			Icon:  "bicycle",
			Color: "#FF9500",
		}
	case models.ActiveArrived:
		return Presentation{
			Label: "Your order has arrived! 🎉",
			Icon:  "checkmark-circle",
			Color: "#34C759",
		}
	default:
		return Presentation{
			Label: "Order confirmed",
			Icon:  "checkmark-circle",
			Color: "#007AFF",
		}
	}
}

// Subscriber receives the derived presentation on every change; nil means
// the active order is gone and the view must clear immediately.
type Subscriber func(p *Presentation)

// Broadcaster is the single shared cell between the poller and any number
// of display surfaces. Subscribers never fetch on their own.
type Broadcaster struct {
	// notifyMu serializes deliveries: a subscriber's initial snapshot and a
	// concurrent Publish can never reach it out of order.
	notifyMu sync.Mutex

	mu     sync.Mutex
	record *models.ActiveOrder
	subs   map[int]Subscriber
	nextID int
	log    *zap.Logger
}

func New(log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]Subscriber),
		log:  log,
	}
}

// Subscribe registers a view; it is immediately called with the current
// derived value so late subscribers render consistently. The returned
// function unsubscribes.
func (b *Broadcaster) Subscribe(sub Subscriber) func() {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	current := derive(b.record)
	b.mu.Unlock()

	sub(current)
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish replaces the record the presentation derives from and notifies
// every subscriber within the same call (one evaluation cycle, no grace
// period for the transition into nil).
func (b *Broadcaster) Publish(record *models.ActiveOrder) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()

	b.mu.Lock()
	b.record = record
	subs := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	p := derive(record)
	b.mu.Unlock()

	if record == nil {
		b.log.Debug("active order cleared, notifying subscribers", zap.Int("subscribers", len(subs)))
	}
	for _, s := range subs {
		s(p)
	}
}

// Presentation derives the current display value on demand.
func (b *Broadcaster) Presentation() *Presentation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return derive(b.record)
}

func derive(record *models.ActiveOrder) *Presentation {
	if record == nil {
		return nil
	}
	p := PresentationFor(record.Status)
	return &p
}
