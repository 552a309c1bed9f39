package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"transcription-project/internal/domain"
	"transcription-project/internal/progress"
)

// Bridge connects load callers to whichever host method the connected
// host supports. Loads started through it run asynchronously: StartLoad
// hands back an operation id immediately and every outcome, including
// negotiation failures, arrives on that operation's event stream.
type Bridge struct {
	bus   *progress.Bus
	emit  func(progress.Event)
	newID func() string

	mu         sync.Mutex
	host       Host
	negotiated bool
	method     string
	loadFn     LoadFunc
	ops        map[string]*operation
}

// operation is one in-flight load.
type operation struct {
	id     string
	path   string
	cancel context.CancelFunc
}

// NewBridge constructs the production bridge. The emit hook, when set,
// receives every event accepted by the bus.
func NewBridge(bus *progress.Bus, emit func(progress.Event)) *Bridge {
	return &Bridge{
		bus:   bus,
		emit:  emit,
		newID: uuid.NewString,
		ops:   make(map[string]*operation),
	}
}

// NewBridgeForTests constructs a bridge with an injectable operation id
// generator.
func NewBridgeForTests(bus *progress.Bus, emit func(progress.Event), newID func() string) *Bridge {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Bridge{
		bus:   bus,
		emit:  emit,
		newID: newID,
		ops:   make(map[string]*operation),
	}
}

// Connect attaches a host and negotiates its load method. Negotiation
// probes the candidate method names in order and caches the outcome for
// the lifetime of the connection; in-flight operations from a previous
// connection keep running.
func (b *Bridge) Connect(host Host) error {
	if host == nil {
		return fmt.Errorf("project host is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.host = host
	b.negotiated = false
	b.method = ""
	b.loadFn = nil
	b.negotiateLocked()
	return nil
}

// Disconnect detaches the host. Later loads fail until a new Connect.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.host = nil
	b.negotiated = false
	b.method = ""
	b.loadFn = nil
}

// Connected reports whether a host is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.host != nil
}

// Method returns the load method negotiated with the connected host, or
// ok=false when the host supports none of the candidates.
func (b *Bridge) Method() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.method, b.method != ""
}

// negotiateLocked resolves the host's load method once per connection.
func (b *Bridge) negotiateLocked() (LoadFunc, bool) {
	if b.host == nil {
		return nil, false
	}
	if b.negotiated {
		return b.loadFn, b.loadFn != nil
	}

	b.negotiated = true
	for _, method := range CandidateMethods() {
		if fn, ok := b.host.Lookup(method); ok {
			b.method = method
			b.loadFn = fn
			return fn, true
		}
	}
	return nil, false
}

// StartLoad begins one load and returns its operation id without waiting
// for the outcome. It never fails synchronously: when no host or host
// method is available the failure arrives on the operation's event stream
// like any other load error.
func (b *Bridge) StartLoad(path string) string {
	operationID := b.newID()

	b.mu.Lock()
	if b.host == nil {
		b.mu.Unlock()
		b.publish(progress.NewFailure(operationID, domain.ErrorKindUnknown,
			fmt.Sprintf("no project host connected; tried %s",
				strings.Join(CandidateMethods(), ", ")), path))
		return operationID
	}
	fn, ok := b.negotiateLocked()
	if !ok {
		b.mu.Unlock()
		b.publish(progress.NewFailure(operationID, domain.ErrorKindUnknown,
			fmt.Sprintf("host supports none of the load methods: %s",
				strings.Join(CandidateMethods(), ", ")), path))
		return operationID
	}

	ctx, cancel := context.WithCancel(context.Background())
	op := &operation{id: operationID, path: path, cancel: cancel}
	b.ops[operationID] = op
	b.mu.Unlock()

	go b.run(ctx, op, fn)
	return operationID
}

// run executes the host load and publishes the terminal result.
func (b *Bridge) run(ctx context.Context, op *operation, fn LoadFunc) {
	onProgress := func(percent float64, status string) {
		b.publish(progress.NewProgress(op.id, percent, status))
	}

	descriptor, err := fn(ctx, domain.LoadRequest{OperationID: op.id, Path: op.path}, onProgress)
	if err != nil {
		b.finish(op, failureEvent(op, err))
		return
	}
	b.finish(op, progress.NewSuccess(op.id, descriptor))
}

// finish publishes the operation's terminal event and releases it. The
// bus accepts only the first terminal per operation, so a result racing a
// cancellation resolves to whichever was published first.
func (b *Bridge) finish(op *operation, event progress.Event) {
	b.publish(event)

	b.mu.Lock()
	delete(b.ops, op.id)
	b.mu.Unlock()
	op.cancel()
}

// Cancel requests termination of one in-flight operation. The cancelled
// result is published immediately so the UI is released even when the
// underlying load is stuck; a success already on the bus wins the race
// and leaves this a no-op. Unknown and settled operation ids are no-ops.
// It reports whether the operation was cancelled.
func (b *Bridge) Cancel(operationID string) bool {
	return b.terminate(operationID, domain.ErrorKindCancelled, "load cancelled")
}

// Expire fails one in-flight operation that stopped making progress.
func (b *Bridge) Expire(operationID, message string) bool {
	if message == "" {
		message = "load timed out"
	}
	return b.terminate(operationID, domain.ErrorKindUnknown, message)
}

func (b *Bridge) terminate(operationID string, kind domain.ErrorKind, message string) bool {
	b.mu.Lock()
	op, ok := b.ops[operationID]
	if ok {
		delete(b.ops, operationID)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}

	_, published := b.publish(progress.NewFailure(operationID, kind, message, op.path))
	op.cancel()
	return published
}

// Shutdown cancels every in-flight operation.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	ops := make([]*operation, 0, len(b.ops))
	for _, op := range b.ops {
		ops = append(ops, op)
	}
	b.ops = make(map[string]*operation)
	b.mu.Unlock()

	for _, op := range ops {
		b.publish(progress.NewFailure(op.id, domain.ErrorKindCancelled,
			"application shutting down", op.path))
		op.cancel()
	}
}

// Subscribe opens the event stream for one operation.
func (b *Bridge) Subscribe(operationID string) *progress.Subscription {
	return b.bus.Subscribe(operationID)
}

// Events returns buffered events with sequence numbers greater than
// sinceSeq, for pull-based catch-up after a webview reload.
func (b *Bridge) Events(sinceSeq int64) []progress.Event {
	return b.bus.Since(sinceSeq)
}

// publish stamps and distributes one event, forwarding it to the emit
// hook when the bus accepts it.
func (b *Bridge) publish(event progress.Event) (progress.Event, bool) {
	stamped, ok := b.bus.Publish(event)
	if ok && b.emit != nil {
		b.emit(stamped)
	}
	return stamped, ok
}

// failureEvent maps a load error to the operation's terminal event.
func failureEvent(op *operation, err error) progress.Event {
	var lerr *domain.LoadError
	if errors.As(err, &lerr) {
		path := lerr.Path
		if path == "" {
			path = op.path
		}
		return progress.NewFailure(op.id, lerr.Kind, lerr.Message, path)
	}
	if errors.Is(err, context.Canceled) {
		return progress.NewFailure(op.id, domain.ErrorKindCancelled, "load cancelled", op.path)
	}
	return progress.NewFailure(op.id, domain.ErrorKindUnknown, err.Error(), op.path)
}
