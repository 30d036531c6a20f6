package streamer

import "sync"

// broadcastBuffer bounds how far a subscriber can fall behind before it is
// signaled Lagged and must resume via durable scan.
const broadcastBuffer = 256

type subscriber struct {
	ch     chan Published
	lagged chan struct{}
}

// broadcaster is single-producer (the Streamer's run loop), multi-consumer.
// Sends never block: a full subscriber channel means that subscriber is
// lagging, so we drop the send for it and signal Lagged instead.
type broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[uint64]*subscriber)}
}

// Subscription is a follower's weak capability to receive published batches.
type Subscription struct {
	id     uint64
	b      *broadcaster
	ch     <-chan Published
	lagged <-chan struct{}
}

// Recv returns the next published batch, or reports Lagged if this
// subscriber fell behind and must resume via durable scan before
// resubscribing.
func (s *Subscription) Recv() (Published, bool /*lagged*/, bool /*open*/) {
	select {
	case <-s.lagged:
		return Published{}, true, true
	case p, ok := <-s.ch:
		return p, false, ok
	}
}

// Unsubscribe releases the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.b.unsubscribe(s.id)
}

func (b *broadcaster) subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Published, broadcastBuffer), lagged: make(chan struct{})}
	if b.closed {
		close(sub.ch)
	} else {
		b.subs[id] = sub
	}
	return &Subscription{id: id, b: b, ch: sub.ch, lagged: sub.lagged}
}

func (b *broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// publish delivers p to every live subscriber, non-blocking. A subscriber
// whose buffer is full is marked Lagged and removed; the reader must
// resubscribe after a durable rescan.
func (b *broadcaster) publish(p Published) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- p:
		default:
			close(sub.lagged)
			delete(b.subs, id)
		}
	}
}

// closeAll closes every live subscriber's channel, signaling end-of-stream,
// and marks the broadcaster closed so future subscribers get a closed
// channel immediately.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
