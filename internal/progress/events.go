package progress

import (
	"math"
	"time"

	"transcription-project/internal/domain"
)

// EventType classifies messages emitted during a load operation.
type EventType string

const (
	EventTypeProgress EventType = "progress"
	EventTypeResult   EventType = "result"
)

// IndeterminatePercent marks progress whose completion cannot be quantified.
// Determinate percents are clamped to [0,100] before any consumer sees them.
const IndeterminatePercent float64 = -1

// Event is a sequenced payload consumed by UI subscribers. Progress events
// carry Percent/Status; result events carry Result exactly once per
// operation and terminate that operation's stream.
type Event struct {
	Seq         int64     `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	OperationID string    `json:"operationId"`
	Type        EventType `json:"type"`
	Percent     float64   `json:"percent"`
	Status      string    `json:"status,omitempty"`
	Result      *Result   `json:"result,omitempty"`
}

// Terminal reports whether this event ends its operation's stream.
func (e Event) Terminal() bool {
	return e.Type == EventTypeResult
}

// Result is the single terminal outcome of one load operation.
type Result struct {
	OK        bool                      `json:"ok"`
	Project   *domain.ProjectDescriptor `json:"project,omitempty"`
	ErrorKind domain.ErrorKind          `json:"errorKind,omitempty"`
	Message   string                    `json:"message,omitempty"`
	Path      string                    `json:"path,omitempty"`
}

// NewProgress builds an unstamped progress event for one operation.
func NewProgress(operationID string, percent float64, status string) Event {
	return Event{
		OperationID: operationID,
		Type:        EventTypeProgress,
		Percent:     percent,
		Status:      status,
	}
}

// NewSuccess builds the terminal success event for one operation.
func NewSuccess(operationID string, project domain.ProjectDescriptor) Event {
	p := project
	return Event{
		OperationID: operationID,
		Type:        EventTypeResult,
		Result: &Result{
			OK:      true,
			Project: &p,
			Path:    project.ProjectPath,
		},
	}
}

// NewFailure builds the terminal failure event for one operation.
func NewFailure(operationID string, kind domain.ErrorKind, message, path string) Event {
	if kind == "" {
		kind = domain.ErrorKindUnknown
	}
	return Event{
		OperationID: operationID,
		Type:        EventTypeResult,
		Result: &Result{
			OK:        false,
			ErrorKind: kind,
			Message:   message,
			Path:      path,
		},
	}
}

// NormalizePercent clamps determinate percents to [0,100] and maps every
// unquantifiable value to IndeterminatePercent.
func NormalizePercent(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return IndeterminatePercent
	case p < 0:
		return IndeterminatePercent
	case p > 100:
		return 100
	default:
		return p
	}
}
