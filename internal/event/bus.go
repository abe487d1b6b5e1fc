package event

import "sync"

// Bus fans TimerEvents out to every subscriber. Each subscriber gets its own
// drop-oldest buffer so a slow consumer never stalls the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*Stream[TimerEvent]
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*Stream[TimerEvent])}
}

// Subscribe registers a new observer. The returned func unregisters it.
func (b *Bus) Subscribe(buffer int) (<-chan TimerEvent, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	stream := NewStream[TimerEvent](buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan TimerEvent)
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = stream

	var once sync.Once
	return stream.C(), func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(stream.ch)
			}
		})
	}
}

func (b *Bus) Publish(e TimerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.Publish(e)
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
}
