package progress

import (
	"math"
	"testing"
	"time"

	"transcription-project/internal/domain"
)

// TestPublishStampsSequenceAndTimestamp checks accepted events gain
// monotonic sequence numbers and UTC timestamps.
func TestPublishStampsSequenceAndTimestamp(t *testing.T) {
	bus := NewBus(10)

	first, ok := bus.Publish(NewProgress("op-1", 10, "reading"))
	if !ok {
		t.Fatalf("Publish returned ok = false, want true")
	}
	second, ok := bus.Publish(NewProgress("op-1", 40, "parsing"))
	if !ok {
		t.Fatalf("Publish returned ok = false, want true")
	}

	if first.Seq != 1 {
		t.Errorf("first.Seq = %d, want 1", first.Seq)
	}
	if second.Seq != 2 {
		t.Errorf("second.Seq = %d, want 2", second.Seq)
	}
	if first.Timestamp.IsZero() {
		t.Errorf("first.Timestamp is zero, want stamped")
	}
	if first.Timestamp.Location() != time.UTC {
		t.Errorf("first.Timestamp location = %v, want UTC", first.Timestamp.Location())
	}
}

// TestPublishNormalizesPercent checks percents are clamped before any
// consumer sees them.
func TestPublishNormalizesPercent(t *testing.T) {
	tests := []struct {
		name    string
		percent float64
		want    float64
	}{
		{"above range", 150, 100},
		{"below range", -5, IndeterminatePercent},
		{"nan", math.NaN(), IndeterminatePercent},
		{"in range", 42.5, 42.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewBus(10)
			got, ok := bus.Publish(NewProgress("op-1", tt.percent, "reading"))
			if !ok {
				t.Fatalf("Publish returned ok = false, want true")
			}
			if got.Percent != tt.want {
				t.Errorf("Percent = %v, want %v", got.Percent, tt.want)
			}
		})
	}
}

// TestPublishRejectsMissingOperationID checks events without an operation
// id are refused.
func TestPublishRejectsMissingOperationID(t *testing.T) {
	bus := NewBus(10)

	if _, ok := bus.Publish(NewProgress("", 10, "reading")); ok {
		t.Fatalf("Publish accepted event without operation id")
	}
	if got := bus.Since(0); len(got) != 0 {
		t.Fatalf("Since(0) returned %d events, want 0", len(got))
	}
}

// TestPublishAfterResultIsDiscarded checks an operation accepts no events
// after its result.
func TestPublishAfterResultIsDiscarded(t *testing.T) {
	bus := NewBus(10)

	bus.Publish(NewProgress("op-1", 10, "reading"))
	bus.Publish(NewFailure("op-1", domain.ErrorKindCancelled, "cancelled", "/p"))

	if _, ok := bus.Publish(NewProgress("op-1", 90, "validating")); ok {
		t.Fatalf("Publish accepted progress after the operation's result")
	}
	if _, ok := bus.Publish(NewFailure("op-1", domain.ErrorKindUnknown, "late", "/p")); ok {
		t.Fatalf("Publish accepted a second result for the operation")
	}

	events := bus.Since(0)
	if len(events) != 2 {
		t.Fatalf("Since(0) returned %d events, want 2", len(events))
	}
	if !events[len(events)-1].Terminal() {
		t.Errorf("last buffered event is not terminal")
	}
}

// TestSinceFiltersBySequence checks catch-up returns only events newer
// than the cursor.
func TestSinceFiltersBySequence(t *testing.T) {
	bus := NewBus(10)

	bus.Publish(NewProgress("op-1", 10, "reading"))
	second, _ := bus.Publish(NewProgress("op-1", 40, "parsing"))
	bus.Publish(NewProgress("op-1", 70, "validating"))

	events := bus.Since(second.Seq)
	if len(events) != 1 {
		t.Fatalf("Since(%d) returned %d events, want 1", second.Seq, len(events))
	}
	if events[0].Percent != 70 {
		t.Errorf("events[0].Percent = %v, want 70", events[0].Percent)
	}
}

// TestBusTrimsHistory checks the buffer drops its oldest events at
// capacity.
func TestBusTrimsHistory(t *testing.T) {
	bus := NewBus(3)

	for i := 0; i < 5; i++ {
		bus.Publish(NewProgress("op-1", float64(i*10), "reading"))
	}

	events := bus.Since(0)
	if len(events) != 3 {
		t.Fatalf("Since(0) returned %d events, want 3", len(events))
	}
	if events[0].Seq != 3 {
		t.Errorf("oldest retained Seq = %d, want 3", events[0].Seq)
	}
}

// TestSubscribeDeliversProgressThenResultThenCloses checks the stream
// contract: ordered progress, exactly one result, then close.
func TestSubscribeDeliversProgressThenResultThenCloses(t *testing.T) {
	bus := NewBus(10)
	sub := bus.Subscribe("op-1")
	defer sub.Unsubscribe()

	go func() {
		bus.Publish(NewProgress("op-1", 10, "reading"))
		bus.Publish(NewProgress("op-1", 40, "parsing"))
		bus.Publish(NewSuccess("op-1", domain.ProjectDescriptor{Name: "demo", ProjectPath: "/p/demo.transcript"}))
	}()

	var received []Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event, open := <-sub.Events():
			if !open {
				if len(received) == 0 {
					t.Fatalf("channel closed before any event")
				}
				last := received[len(received)-1]
				if !last.Terminal() {
					t.Fatalf("last event type = %q, want %q", last.Type, EventTypeResult)
				}
				if last.Result == nil || !last.Result.OK {
					t.Fatalf("terminal result = %+v, want ok success", last.Result)
				}
				for i := 1; i < len(received); i++ {
					if received[i].Seq <= received[i-1].Seq {
						t.Fatalf("events out of order: seq %d after %d", received[i].Seq, received[i-1].Seq)
					}
				}
				return
			}
			received = append(received, event)
		case <-deadline:
			t.Fatalf("timed out waiting for subscription to close; received %d events", len(received))
		}
	}
}

// TestSubscribeReplaysBufferedOperation checks late subscribers replay the
// operation's buffered events.
func TestSubscribeReplaysBufferedOperation(t *testing.T) {
	bus := NewBus(10)

	bus.Publish(NewProgress("op-1", 10, "reading"))
	bus.Publish(NewProgress("op-1", 40, "parsing"))
	bus.Publish(NewSuccess("op-1", domain.ProjectDescriptor{Name: "demo"}))

	sub := bus.Subscribe("op-1")
	defer sub.Unsubscribe()

	var received []Event
	for event := range sub.Events() {
		received = append(received, event)
	}

	if len(received) != 2 {
		t.Fatalf("received %d events, want 2 (latest progress plus result)", len(received))
	}
	if received[0].Percent != 40 {
		t.Errorf("replayed progress percent = %v, want 40", received[0].Percent)
	}
	if !received[1].Terminal() {
		t.Errorf("replayed stream did not end with the result")
	}
}

// TestSubscribeToFinishedOperationAgedOutOfBuffer checks streams for
// settled operations trimmed from history close without events.
func TestSubscribeToFinishedOperationAgedOutOfBuffer(t *testing.T) {
	bus := NewBus(1)

	bus.Publish(NewSuccess("op-1", domain.ProjectDescriptor{Name: "demo"}))
	bus.Publish(NewProgress("op-2", 10, "reading"))

	sub := bus.Subscribe("op-1")
	defer sub.Unsubscribe()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event, open := <-sub.Events():
			if !open {
				return
			}
			t.Fatalf("received unexpected event %+v for an aged-out operation", event)
		case <-deadline:
			t.Fatalf("timed out waiting for the stream to close")
		}
	}
}

// TestUnsubscribeClosesStreamAndDetaches checks unsubscribe closes the
// stream and releases the bus entry.
func TestUnsubscribeClosesStreamAndDetaches(t *testing.T) {
	bus := NewBus(10)
	sub := bus.Subscribe("op-1")

	sub.Unsubscribe()
	sub.Unsubscribe()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-sub.Events():
			if !open {
				if _, ok := bus.Publish(NewProgress("op-1", 10, "reading")); !ok {
					t.Fatalf("Publish failed after unsubscribe")
				}
				waitForDetach(t, bus, "op-1")
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for unsubscribed stream to close")
		}
	}
}

// TestPublishDoesNotBlockOnUnconsumedSubscription checks producers never
// block on an idle consumer.
func TestPublishDoesNotBlockOnUnconsumedSubscription(t *testing.T) {
	bus := NewBus(100)
	sub := bus.Subscribe("op-1")
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Publish(NewProgress("op-1", float64(i*2), "reading"))
		}
		bus.Publish(NewSuccess("op-1", domain.ProjectDescriptor{Name: "demo"}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish blocked on a subscriber that is not consuming")
	}
}

// TestSlowSubscriberSeesLatestProgressAndResult checks conflation under
// backpressure: the newest progress survives and the result always lands.
func TestSlowSubscriberSeesLatestProgressAndResult(t *testing.T) {
	bus := NewBus(100)
	sub := bus.Subscribe("op-1")
	defer sub.Unsubscribe()

	for i := 1; i <= 20; i++ {
		bus.Publish(NewProgress("op-1", float64(i*5), "reading"))
	}
	bus.Publish(NewSuccess("op-1", domain.ProjectDescriptor{Name: "demo"}))

	var progress []Event
	var result *Event
	deadline := time.After(2 * time.Second)
	for result == nil {
		select {
		case event, open := <-sub.Events():
			if !open {
				t.Fatalf("channel closed before the result arrived")
			}
			if event.Terminal() {
				e := event
				result = &e
				continue
			}
			progress = append(progress, event)
		case <-deadline:
			t.Fatalf("timed out waiting for the result")
		}
	}

	if len(progress) == 0 {
		t.Fatalf("received no progress events")
	}
	if got := progress[len(progress)-1].Percent; got != 100 {
		t.Errorf("final progress percent = %v, want 100 (latest snapshot)", got)
	}
	if len(progress) >= 20 {
		t.Errorf("received %d progress events, want conflation to drop some", len(progress))
	}
}

// TestMailboxConflatesProgressAndKeepsTerminal checks the mailbox slots
// directly: progress overwrites, the result keeps its own slot.
func TestMailboxConflatesProgressAndKeepsTerminal(t *testing.T) {
	s := &Subscription{
		bus:         NewBus(10),
		operationID: "op-1",
		notify:      make(chan struct{}, 1),
		stop:        make(chan struct{}),
		out:         make(chan Event),
	}

	s.offer(NewProgress("op-1", 10, "reading"))
	s.offer(NewProgress("op-1", 40, "parsing"))
	s.offer(NewSuccess("op-1", domain.ProjectDescriptor{Name: "demo"}))

	s.mu.Lock()
	pending, terminal := s.pending, s.terminal
	s.mu.Unlock()

	if pending == nil || pending.Percent != 40 {
		t.Fatalf("pending = %+v, want latest progress with percent 40", pending)
	}
	if terminal == nil || !terminal.Terminal() {
		t.Fatalf("terminal = %+v, want the result event", terminal)
	}

	go s.pump()

	first := <-s.out
	if first.Percent != 40 {
		t.Errorf("first delivered percent = %v, want 40", first.Percent)
	}
	second := <-s.out
	if !second.Terminal() {
		t.Errorf("second delivered event type = %q, want %q", second.Type, EventTypeResult)
	}
	if _, open := <-s.out; open {
		t.Errorf("channel still open after terminal delivery")
	}
}

// TestOperationsDeliverIndependently checks streams only carry their own
// operation's events.
func TestOperationsDeliverIndependently(t *testing.T) {
	bus := NewBus(50)
	subA := bus.Subscribe("op-a")
	subB := bus.Subscribe("op-b")
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	go func() {
		bus.Publish(NewProgress("op-a", 10, "reading"))
		bus.Publish(NewFailure("op-a", domain.ErrorKindNotFound, "no such file", "/a"))
		bus.Publish(NewProgress("op-b", 10, "reading"))
		bus.Publish(NewSuccess("op-b", domain.ProjectDescriptor{Name: "b"}))
	}()

	checkStream := func(sub *Subscription, operationID string, wantOK bool) {
		deadline := time.After(2 * time.Second)
		for {
			select {
			case event, open := <-sub.Events():
				if !open {
					return
				}
				if event.OperationID != operationID {
					t.Errorf("stream for %s received event for %s", operationID, event.OperationID)
				}
				if event.Terminal() && event.Result.OK != wantOK {
					t.Errorf("result OK for %s = %v, want %v", operationID, event.Result.OK, wantOK)
				}
			case <-deadline:
				t.Fatalf("timed out draining stream for %s", operationID)
			}
		}
	}

	checkStream(subA, "op-a", false)
	checkStream(subB, "op-b", true)
}

// waitForDetach polls until the bus no longer tracks subscribers for the
// operation.
func waitForDetach(t *testing.T, bus *Bus, operationID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		bus.mu.RLock()
		_, tracked := bus.subs[operationID]
		bus.mu.RUnlock()
		if !tracked {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscription still attached to %s after unsubscribe", operationID)
}
