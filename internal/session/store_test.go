package session

import (
	"testing"
	"time"

	"transcription-project/internal/domain"
	"transcription-project/internal/progress"
)

// testClock is a manually advanced clock for stall checks.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// TestStoreLifecycle verifies normal progression from idle to ready.
func TestStoreLifecycle(t *testing.T) {
	s := NewStore()
	if got := s.Snapshot().Phase; got != PhaseIdle {
		t.Fatalf("new store phase = %s, want idle", got)
	}

	if superseded := s.Begin("op-1", "/p/demo.transcript"); superseded != "" {
		t.Fatalf("superseded = %q, want empty on first load", superseded)
	}

	state := s.Snapshot()
	if state.Phase != PhaseLoading {
		t.Fatalf("phase = %s, want loading", state.Phase)
	}
	if state.Percent != 0 || state.Status != "starting" {
		t.Fatalf("initial progress = (%v, %q), want (0, starting)", state.Percent, state.Status)
	}

	for _, event := range []progress.Event{
		progress.NewProgress("op-1", 10, "reading"),
		progress.NewProgress("op-1", 40, "parsing"),
		progress.NewProgress("op-1", 70, "validating"),
	} {
		if !s.Apply(event) {
			t.Fatalf("Apply(%v, %q) = false, want true", event.Percent, event.Status)
		}
	}

	if !s.Apply(progress.NewSuccess("op-1", domain.ProjectDescriptor{Name: "demo"})) {
		t.Fatal("Apply(success) = false, want true")
	}

	state = s.Snapshot()
	if state.Phase != PhaseReady {
		t.Fatalf("phase = %s, want ready", state.Phase)
	}
	if state.Percent != 100 || state.Status != "done" {
		t.Fatalf("final progress = (%v, %q), want (100, done)", state.Percent, state.Status)
	}
	if state.Project == nil || state.Project.Name != "demo" {
		t.Fatalf("project = %+v, want demo descriptor", state.Project)
	}
}

// TestStoreFailureCapturesKindAndMessage checks the failed phase payload.
func TestStoreFailureCapturesKindAndMessage(t *testing.T) {
	s := NewStore()
	s.Begin("op-1", "/p/missing.transcript")

	if !s.Apply(progress.NewFailure("op-1", domain.ErrorKindNotFound, "project file not found", "/p/missing.transcript")) {
		t.Fatal("Apply(failure) = false, want true")
	}

	state := s.Snapshot()
	if state.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want failed", state.Phase)
	}
	if state.ErrorKind != domain.ErrorKindNotFound {
		t.Fatalf("error kind = %s, want notFound", state.ErrorKind)
	}
	if state.ErrorMessage != "project file not found" {
		t.Fatalf("error message = %q", state.ErrorMessage)
	}
}

// TestStoreDiscardsEventsFromSupersededOperation checks stale-event filtering.
func TestStoreDiscardsEventsFromSupersededOperation(t *testing.T) {
	s := NewStore()
	s.Begin("op-1", "/p/a.transcript")

	if superseded := s.Begin("op-2", "/p/b.transcript"); superseded != "op-1" {
		t.Fatalf("superseded = %q, want op-1", superseded)
	}

	if s.Apply(progress.NewProgress("op-1", 90, "validating")) {
		t.Fatal("Apply accepted progress from a superseded operation")
	}
	if s.Apply(progress.NewSuccess("op-1", domain.ProjectDescriptor{Name: "stale"})) {
		t.Fatal("Apply accepted a result from a superseded operation")
	}

	state := s.Snapshot()
	if state.OperationID != "op-2" || state.Phase != PhaseLoading {
		t.Fatalf("state = %+v, want op-2 still loading", state)
	}
	if state.Percent != 0 {
		t.Fatalf("percent = %v, want 0 after discarding stale events", state.Percent)
	}
}

// TestStorePercentNeverRegresses checks the monotonic floor.
func TestStorePercentNeverRegresses(t *testing.T) {
	s := NewStore()
	s.Begin("op-1", "/p/a.transcript")

	s.Apply(progress.NewProgress("op-1", 70, "validating"))
	if !s.Apply(progress.NewProgress("op-1", 40, "parsing")) {
		t.Fatal("Apply(out-of-order progress) = false, want true for status update")
	}

	state := s.Snapshot()
	if state.Percent != 70 {
		t.Fatalf("percent = %v, want floor held at 70", state.Percent)
	}
	if state.Status != "parsing" {
		t.Fatalf("status = %q, want parsing applied despite percent floor", state.Status)
	}
}

// TestStoreDiscardsReplayedSequence checks that a stamped event is applied
// at most once even when history replay races live delivery.
func TestStoreDiscardsReplayedSequence(t *testing.T) {
	s := NewStore()
	s.Begin("op-1", "/p/a.transcript")

	live := progress.NewProgress("op-1", 40, "parsing")
	live.Seq = 9
	if !s.Apply(live) {
		t.Fatal("Apply(live) = false, want true")
	}

	stale := progress.NewProgress("op-1", 10, "reading")
	stale.Seq = 8
	if s.Apply(stale) {
		t.Fatal("Apply(replayed older event) = true, want false")
	}
	if s.Apply(live) {
		t.Fatal("Apply(same event twice) = true, want false")
	}

	state := s.Snapshot()
	if state.Status != "parsing" {
		t.Fatalf("status = %q, want parsing untouched by replay", state.Status)
	}
	if state.LastSeq != 9 {
		t.Fatalf("lastSeq = %d, want 9", state.LastSeq)
	}
}

// TestStoreIndeterminatePercentKeepsLastValue checks indeterminate handling.
func TestStoreIndeterminatePercentKeepsLastValue(t *testing.T) {
	s := NewStore()
	s.Begin("op-1", "/p/a.transcript")

	s.Apply(progress.NewProgress("op-1", 40, "parsing"))
	if !s.Apply(progress.NewProgress("op-1", progress.IndeterminatePercent, "validating")) {
		t.Fatal("Apply(indeterminate) = false, want true")
	}

	state := s.Snapshot()
	if state.Percent != 40 {
		t.Fatalf("percent = %v, want 40 retained", state.Percent)
	}
	if state.Status != "validating" {
		t.Fatalf("status = %q, want validating", state.Status)
	}
}

// TestStoreIgnoresEventsAfterTerminal checks post-result discards.
func TestStoreIgnoresEventsAfterTerminal(t *testing.T) {
	s := NewStore()
	s.Begin("op-1", "/p/a.transcript")
	s.Apply(progress.NewSuccess("op-1", domain.ProjectDescriptor{Name: "demo"}))

	if s.Apply(progress.NewProgress("op-1", 99, "late")) {
		t.Fatal("Apply accepted progress after the result")
	}
	if s.Apply(progress.NewFailure("op-1", domain.ErrorKindUnknown, "late failure", "")) {
		t.Fatal("Apply accepted a second result")
	}

	if got := s.Snapshot().Phase; got != PhaseReady {
		t.Fatalf("phase = %s, want ready preserved", got)
	}
}

// TestStoreStalledReportsQuietLoad checks the watchdog query.
func TestStoreStalledReportsQuietLoad(t *testing.T) {
	clock := newTestClock()
	s := NewStoreForTests(clock.Now, 30*time.Second)

	s.Begin("op-1", "/p/a.transcript")

	if _, stalled := s.Stalled(); stalled {
		t.Fatal("fresh load reported as stalled")
	}

	clock.Advance(29 * time.Second)
	s.Apply(progress.NewProgress("op-1", 40, "parsing"))

	clock.Advance(30 * time.Second)
	if _, stalled := s.Stalled(); stalled {
		t.Fatal("load reported stalled exactly at the timeout boundary")
	}

	clock.Advance(time.Second)
	operationID, stalled := s.Stalled()
	if !stalled {
		t.Fatal("quiet load not reported as stalled")
	}
	if operationID != "op-1" {
		t.Fatalf("stalled operation = %q, want op-1", operationID)
	}
}

// TestStoreStalledIgnoresSettledSessions checks terminal phases never stall.
func TestStoreStalledIgnoresSettledSessions(t *testing.T) {
	clock := newTestClock()
	s := NewStoreForTests(clock.Now, 30*time.Second)

	s.Begin("op-1", "/p/a.transcript")
	s.Apply(progress.NewSuccess("op-1", domain.ProjectDescriptor{Name: "demo"}))

	clock.Advance(time.Hour)
	if _, stalled := s.Stalled(); stalled {
		t.Fatal("ready session reported as stalled")
	}
}
