package domain

import "time"

// ProjectFormatVersion is the newest project file format this build reads.
const ProjectFormatVersion = 1

// TranscriptCue is one timed transcript entry within a project.
type TranscriptCue struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Text    string  `json:"text"`
}

// ProjectDescriptor is the parsed, validated representation of a project
// file. Once delivered to the UI it is owned by UI state; the host keeps no
// responsibility for it after handoff.
type ProjectDescriptor struct {
	Name        string          `json:"name"`
	Version     int             `json:"version"`
	AudioRef    string          `json:"audio"`
	AudioPath   string          `json:"audioPath"`
	Transcript  []TranscriptCue `json:"transcript"`
	Duration    float64         `json:"duration,omitempty"`
	CreatedAt   time.Time       `json:"createdAt,omitempty"`
	ProjectPath string          `json:"projectPath"`
}

// CueCount returns the number of transcript cues.
func (p ProjectDescriptor) CueCount() int {
	return len(p.Transcript)
}
