package session

import "sync"

// Broadcaster fans readings out to listeners (WebSocket clients, MQTT, UDP,
// the indicator). It keeps the most recent value so new subscribers get an
// immediate reading. Slow subscribers miss readings rather than block the
// heading loop.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan Reading
	nextID   int
	last     Reading
	haveLast bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Reading)}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan Reading) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan Reading, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	b.mu.Unlock()
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Latest returns the last published reading.
func (b *Broadcaster) Latest() (Reading, bool) {
	if b == nil {
		return Reading{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}

func (b *Broadcaster) Publish(r Reading) {
	if b == nil {
		return
	}
	// last and the fan-out share one critical section with Subscribe, so a
	// new subscriber gets r either as its initial value or from the fan-out.
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = r
	b.haveLast = true
	for _, ch := range b.subs {
		select {
		case ch <- r:
		default:
		}
	}
}
