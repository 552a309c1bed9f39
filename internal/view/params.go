package view

import (
	"fmt"
	"path/filepath"
	"time"

	"transcription-project/internal/domain"
	"transcription-project/internal/session"
)

// Size selects the window preset for the load view.
type Size string

const (
	SizeCompact  Size = "compact"
	SizeExpanded Size = "expanded"
)

// Params is the input contract for the presentation layer. Progress is nil
// while completion cannot be quantified; consumers render an indeterminate
// spinner with the status text in that case, and a determinate bar when
// Progress is set.
type Params struct {
	Title    string   `json:"title"`
	Message  string   `json:"message,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
	Status   string   `json:"status,omitempty"`
	Size     Size     `json:"size"`
	Overlay  bool     `json:"overlay,omitempty"`
}

// FromState maps one session snapshot to view parameters.
func FromState(state session.State) Params {
	switch state.Phase {
	case session.PhaseLoading:
		params := Params{
			Title:   "Opening project",
			Message: baseName(state.Path),
			Status:  state.Status,
			Size:    SizeCompact,
			Overlay: true,
		}
		// Zero percent means the loader has not quantified anything
		// yet, so the view stays indeterminate until it does.
		if state.Percent > 0 {
			p := state.Percent
			params.Progress = &p
		}
		return params

	case session.PhaseReady:
		title := "Project"
		if state.Project != nil && state.Project.Name != "" {
			title = state.Project.Name
		}
		return Params{
			Title:   title,
			Message: readySummary(state.Project),
			Size:    SizeExpanded,
		}

	case session.PhaseFailed:
		return Params{
			Title:   "Couldn't open project",
			Message: state.ErrorMessage,
			Status:  string(state.ErrorKind),
			Size:    SizeExpanded,
			Overlay: true,
		}

	default:
		return Params{
			Title: "No project open",
			Size:  SizeCompact,
		}
	}
}

// readySummary describes the opened project in one line.
func readySummary(project *domain.ProjectDescriptor) string {
	if project == nil {
		return ""
	}

	summary := fmt.Sprintf("%d cues", project.CueCount())
	if project.CueCount() == 1 {
		summary = "1 cue"
	}
	if project.Duration > 0 {
		audio := time.Duration(project.Duration * float64(time.Second)).Round(time.Second)
		summary = fmt.Sprintf("%s, %s of audio", summary, audio)
	}
	return summary
}

// baseName trims the path down to the file name for display.
func baseName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
