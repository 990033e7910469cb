package chat

import "sync"

const broadcastBuffer = 8

// broadcaster fans a stream of values out to any number of observers. The
// most recent value is replayed to new observers so late subscribers see the
// current state immediately. Delivery is non-blocking: a slow observer loses
// intermediate values, never future ones.
type broadcaster[T any] struct {
	mu        sync.Mutex
	observers map[int64]chan T
	nextID    int64
	latest    T
	hasLatest bool
	closed    bool
}

func newBroadcaster[T any]() *broadcaster[T] {
	return &broadcaster[T]{observers: make(map[int64]chan T)}
}

// Subscribe registers an observer. The returned cancel function detaches it
// and closes its channel.
func (b *broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stream := make(chan T, broadcastBuffer)
	if b.closed {
		close(stream)
		return stream, func() {}
	}

	b.nextID++
	id := b.nextID
	b.observers[id] = stream
	if b.hasLatest {
		stream <- b.latest
	}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if observer, ok := b.observers[id]; ok {
			delete(b.observers, id)
			close(observer)
		}
	}
	return stream, cancel
}

// Publish records value as the latest state and delivers it to all observers.
func (b *broadcaster[T]) Publish(value T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = value
	b.hasLatest = true
	for _, observer := range b.observers {
		select {
		case observer <- value:
		default:
		}
	}
}

// Latest returns the most recently published value, if any.
func (b *broadcaster[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLatest
}

// Close detaches and closes every observer channel. Further publishes are
// dropped and further subscriptions receive a closed channel.
func (b *broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, observer := range b.observers {
		delete(b.observers, id)
		close(observer)
	}
}
