package progress

import (
	"sync"
	"time"
)

const defaultMaxEvents = 500

// Bus buffers load events in memory and fans them out to per-operation
// subscribers. Publishing never blocks on a slow subscriber: each
// subscription conflates intermediate progress and only guarantees
// delivery of the latest progress snapshot plus the terminal result.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	subs      map[string][]*Subscription
	closed    map[string]bool
}

// NewBus creates a bus that retains up to maxEvents recent events for
// replay. A non-positive maxEvents falls back to a sensible default.
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}
	return &Bus{
		maxEvents: maxEvents,
		subs:      make(map[string][]*Subscription),
		closed:    make(map[string]bool),
	}
}

// Publish stamps the event with a sequence number and timestamp, records
// it, and hands it to subscribers of its operation. It returns the stamped
// event. Events for an operation that already produced its result are
// discarded and reported as not published.
func (b *Bus) Publish(event Event) (Event, bool) {
	if event.OperationID == "" {
		return Event{}, false
	}
	if event.Type == EventTypeProgress {
		event.Percent = NormalizePercent(event.Percent)
	}

	b.mu.Lock()
	if b.closed[event.OperationID] {
		b.mu.Unlock()
		return Event{}, false
	}
	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		b.events = b.events[len(b.events)-b.maxEvents:]
	}
	subs := append([]*Subscription(nil), b.subs[event.OperationID]...)
	if event.Terminal() {
		b.closed[event.OperationID] = true
		delete(b.subs, event.OperationID)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.offer(event)
	}
	return event, true
}

// Since returns buffered events with a sequence number greater than seq,
// oldest first. Pass 0 to fetch everything still buffered.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Subscribe opens an event stream for one operation. Buffered history for
// the operation is replayed into the stream first (conflated down to the
// latest progress snapshot), so subscribing after publication has started
// still observes the operation's outcome. If the operation already
// finished and its result has aged out of the buffer, the stream closes
// without delivering anything.
func (b *Bus) Subscribe(operationID string) *Subscription {
	s := &Subscription{
		bus:         b,
		operationID: operationID,
		notify:      make(chan struct{}, 1),
		stop:        make(chan struct{}),
		out:         make(chan Event),
	}

	b.mu.Lock()
	var replay []Event
	for _, event := range b.events {
		if event.OperationID == operationID {
			replay = append(replay, event)
		}
	}
	done := b.closed[operationID]
	if !done {
		b.subs[operationID] = append(b.subs[operationID], s)
	}
	b.mu.Unlock()

	for _, event := range replay {
		s.offer(event)
	}
	if done {
		s.markNoMoreEvents()
	}

	go s.pump()
	return s
}

func (b *Bus) removeSubscription(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[s.operationID]
	for i, cand := range subs {
		if cand == s {
			b.subs[s.operationID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[s.operationID]) == 0 {
		delete(b.subs, s.operationID)
	}
}

// Subscription is a one-operation event stream backed by a conflating
// mailbox. Producers never block on it; a consumer that falls behind sees
// the newest progress snapshot rather than every intermediate event. The
// terminal result event is never dropped or conflated away, and the
// stream's channel closes exactly once after it is delivered.
type Subscription struct {
	bus         *Bus
	operationID string

	mu       sync.Mutex
	pending  *Event
	terminal *Event
	draining bool

	notify   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	out      chan Event
}

// Events returns the channel the subscription delivers on. It closes after
// the operation's terminal event has been delivered, or once Unsubscribe
// is called. Callers that stop reading early must call Unsubscribe to
// release the stream.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Unsubscribe stops delivery and releases the subscription. The events
// channel closes promptly afterwards. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// offer places an event in the mailbox. Progress events overwrite any
// undelivered progress; the terminal event occupies its own slot.
func (s *Subscription) offer(event Event) {
	s.mu.Lock()
	if event.Terminal() {
		s.terminal = &event
	} else {
		s.pending = &event
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// markNoMoreEvents tells the pump to close the stream once the mailbox
// drains. Used when the operation finished before this subscription and no
// terminal event will arrive.
func (s *Subscription) markNoMoreEvents() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer func() {
		close(s.out)
		s.bus.removeSubscription(s)
	}()

	for {
		s.mu.Lock()
		var next *Event
		isTerminal := false
		switch {
		case s.pending != nil:
			next = s.pending
			s.pending = nil
		case s.terminal != nil:
			next = s.terminal
			s.terminal = nil
			isTerminal = true
		case s.draining:
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if next == nil {
			select {
			case <-s.notify:
				continue
			case <-s.stop:
				return
			}
		}

		select {
		case s.out <- *next:
			if isTerminal {
				return
			}
		case <-s.stop:
			return
		}
	}
}
