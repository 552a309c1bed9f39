package session

import (
	"sync"
	"time"

	"transcription-project/internal/domain"
	"transcription-project/internal/progress"
)

// Phase is the UI-facing lifecycle of the project load session.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseFailed  Phase = "failed"
)

// defaultStallTimeout is how long a load may go without events before the
// watchdog treats it as wedged.
const defaultStallTimeout = 30 * time.Second

// State is a snapshot of the session, serialized to the UI on demand so a
// reloaded webview can reconstruct its screen without replaying events.
type State struct {
	Phase        Phase                     `json:"phase"`
	OperationID  string                    `json:"operationId,omitempty"`
	Path         string                    `json:"path,omitempty"`
	Percent      float64                   `json:"percent"`
	Status       string                    `json:"status,omitempty"`
	Project      *domain.ProjectDescriptor `json:"project,omitempty"`
	ErrorKind    domain.ErrorKind          `json:"errorKind,omitempty"`
	ErrorMessage string                    `json:"errorMessage,omitempty"`
	LastSeq      int64                     `json:"lastSeq"`
	StartedAt    time.Time                 `json:"startedAt,omitempty"`
	UpdatedAt    time.Time                 `json:"updatedAt,omitempty"`
}

// Store reduces load events into the single session state. One active
// operation exists at a time; events from superseded operations are
// discarded on arrival.
type Store struct {
	mu           sync.RWMutex
	state        State
	now          func() time.Time
	stallTimeout time.Duration
}

// NewStore creates a store in idle state with the production clock.
func NewStore() *Store {
	return &Store{
		state:        State{Phase: PhaseIdle},
		now:          time.Now,
		stallTimeout: defaultStallTimeout,
	}
}

// NewStoreForTests creates a store with an injectable clock and stall
// timeout.
func NewStoreForTests(now func() time.Time, stallTimeout time.Duration) *Store {
	if now == nil {
		now = time.Now
	}
	if stallTimeout <= 0 {
		stallTimeout = defaultStallTimeout
	}
	return &Store{
		state:        State{Phase: PhaseIdle},
		now:          now,
		stallTimeout: stallTimeout,
	}
}

// Begin replaces the session with a fresh loading state for the new
// operation, superseding whatever was active. It returns the operation id
// that was superseded mid-load, or "" when none was.
func (s *Store) Begin(operationID, path string) (supersededID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase == PhaseLoading {
		supersededID = s.state.OperationID
	}

	now := s.now()
	s.state = State{
		Phase:       PhaseLoading,
		OperationID: operationID,
		Path:        path,
		Percent:     0,
		Status:      "starting",
		StartedAt:   now,
		UpdatedAt:   now,
	}
	return supersededID
}

// Apply reduces one event into the session state. It reports whether the
// state changed: events for superseded operations and events arriving
// after the session left the loading phase are discarded.
func (s *Store) Apply(event progress.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.OperationID == "" || event.OperationID != s.state.OperationID {
		return false
	}
	if s.state.Phase != PhaseLoading {
		return false
	}
	if event.Seq != 0 && event.Seq <= s.state.LastSeq {
		return false
	}

	switch event.Type {
	case progress.EventTypeProgress:
		// Percent never moves backwards within one operation. An
		// indeterminate percent keeps the last known value.
		if p := progress.NormalizePercent(event.Percent); p > s.state.Percent {
			s.state.Percent = p
		}
		if event.Status != "" {
			s.state.Status = event.Status
		}
		if event.Seq != 0 {
			s.state.LastSeq = event.Seq
		}
		s.state.UpdatedAt = s.now()
		return true

	case progress.EventTypeResult:
		if event.Result == nil {
			return false
		}
		if event.Result.OK {
			s.state.Phase = PhaseReady
			s.state.Percent = 100
			s.state.Status = "done"
			s.state.Project = event.Result.Project
		} else {
			s.state.Phase = PhaseFailed
			s.state.ErrorKind = event.Result.ErrorKind
			s.state.ErrorMessage = event.Result.Message
		}
		if event.Seq != 0 {
			s.state.LastSeq = event.Seq
		}
		s.state.UpdatedAt = s.now()
		return true

	default:
		return false
	}
}

// Snapshot returns a copy of the current session state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stalled reports the active operation id when the session has been
// loading with no accepted events for longer than the stall timeout. It
// does not mutate state: the caller fails the operation through the normal
// event path so the terminal failure reaches every subscriber.
func (s *Store) Stalled() (operationID string, stalled bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.Phase != PhaseLoading {
		return "", false
	}
	if s.now().Sub(s.state.UpdatedAt) <= s.stallTimeout {
		return "", false
	}
	return s.state.OperationID, true
}

// StallTimeout returns the configured no-event deadline for active loads.
func (s *Store) StallTimeout() time.Duration {
	return s.stallTimeout
}
