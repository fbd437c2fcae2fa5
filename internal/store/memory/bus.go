package memory

import (
	"context"
	"sync"

	"github.com/swivlabs/swiv-engine/internal/domain"
)

// Bus is an in-process event bus. Subscribers receive every event published
// after they subscribe; a slow subscriber drops events rather than blocking
// the publisher.
type Bus struct {
	mu   sync.Mutex
	subs []chan domain.Event
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Publish fans the event out to all subscribers without blocking.
func (b *Bus) Publish(_ context.Context, ev domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber channel. The channel is removed and
// closed when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	ch := make(chan domain.Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

var _ domain.EventBus = (*Bus)(nil)
