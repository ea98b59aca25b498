// Package bus carries cart change notifications between otherwise
// unrelated parts of the system. Subscribers always receive the full
// recomputed summary, never a diff.
package bus

import (
	"sync"

	"github.com/dmaretti/storefront/core/cart"
	"github.com/dmaretti/storefront/random"
	"github.com/sirupsen/logrus"
)

type subscriber struct {
	id string
	ch chan cart.Summary
}

// Bus is an in-process fan-out. Publish never blocks: a subscriber that
// falls behind misses intermediate summaries, which is safe because the
// payload is the whole state.
type Bus struct {
	log  logrus.FieldLogger
	mu   sync.RWMutex
	subs map[string][]subscriber
}

func New(log logrus.FieldLogger) *Bus {
	return &Bus{
		log:  log,
		subs: make(map[string][]subscriber),
	}
}

func (b *Bus) Publish(userID string, s cart.Summary) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[userID] {
		select {
		case sub.ch <- s:
		default:
			b.log.WithFields(logrus.Fields{
				"user_id":    userID,
				"subscriber": sub.id,
			}).Warn("cart notification dropped: slow subscriber")
		}
	}
}

// Subscribe registers a listener for one user's cart changes. The second
// return value unsubscribes and closes the channel.
func (b *Bus) Subscribe(userID string) (<-chan cart.Summary, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscriber{
		id: random.String(8),
		ch: make(chan cart.Summary, 8),
	}
	b.subs[userID] = append(b.subs[userID], sub)

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subs[userID]
		for i := range subs {
			if subs[i].ch == sub.ch {
				b.subs[userID] = append(subs[:i], subs[i+1:]...)
				close(sub.ch)
				return
			}
		}
	}

	return sub.ch, cancel
}
