package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transcription-project/internal/domain"
)

// Status strings reported alongside progress percents. The UI renders them
// verbatim, so they stay short and lowercase.
const (
	StatusReading    = "reading"
	StatusParsing    = "parsing"
	StatusValidating = "validating"
	StatusDone       = "done"
)

// Checkpoint percents for each stage of a load.
const (
	percentReading    = 10
	percentParsing    = 40
	percentValidating = 70
	percentDone       = 100
)

// Request contains the project file to load and the progress callback for
// one run.
type Request struct {
	Path       string
	OnProgress func(percent float64, status string)
}

// Loader reads, parses, and validates project files from disk.
type Loader struct {
	stat     func(name string) (os.FileInfo, error)
	readFile func(name string) ([]byte, error)
}

// NewLoader constructs the production loader with OS dependencies.
func NewLoader() *Loader {
	return &Loader{
		stat:     os.Stat,
		readFile: os.ReadFile,
	}
}

// NewLoaderForTests constructs a loader with injectable filesystem access.
func NewLoaderForTests(
	stat func(name string) (os.FileInfo, error),
	readFile func(name string) ([]byte, error),
) *Loader {
	return &Loader{
		stat:     stat,
		readFile: readFile,
	}
}

// Load performs the read, parse, and validate sequence for one project
// file. Progress checkpoints fire through req.OnProgress in a fixed order:
// 10 "reading", 40 "parsing", 70 "validating", and 100 "done" on success.
// Every failure, cancellation included, comes back as a *domain.LoadError.
func (l *Loader) Load(ctx context.Context, req Request) (domain.ProjectDescriptor, error) {
	path := strings.TrimSpace(req.Path)
	if path == "" {
		return domain.ProjectDescriptor{}, domain.NewLoadError(
			domain.ErrorKindUnknown, "", "project path is required", nil)
	}
	path = filepath.Clean(path)

	if lerr := cancelledErr(ctx, path); lerr != nil {
		return domain.ProjectDescriptor{}, lerr
	}
	emitProgress(req.OnProgress, percentReading, StatusReading)

	info, err := l.stat(path)
	if err != nil {
		return domain.ProjectDescriptor{}, classifyAccessError(path, err)
	}
	if info.IsDir() {
		return domain.ProjectDescriptor{}, domain.NewLoadError(
			domain.ErrorKindCorrupt, path, "project path is a directory, not a file", nil)
	}

	content, err := l.readFile(path)
	if err != nil {
		return domain.ProjectDescriptor{}, classifyAccessError(path, err)
	}

	if lerr := cancelledErr(ctx, path); lerr != nil {
		return domain.ProjectDescriptor{}, lerr
	}
	emitProgress(req.OnProgress, percentParsing, StatusParsing)

	file, lerr := parseProjectFile(path, content)
	if lerr != nil {
		return domain.ProjectDescriptor{}, lerr
	}

	if lerr := cancelledErr(ctx, path); lerr != nil {
		return domain.ProjectDescriptor{}, lerr
	}
	emitProgress(req.OnProgress, percentValidating, StatusValidating)

	descriptor, lerr := l.validate(path, file)
	if lerr != nil {
		return domain.ProjectDescriptor{}, lerr
	}

	if lerr := cancelledErr(ctx, path); lerr != nil {
		return domain.ProjectDescriptor{}, lerr
	}
	emitProgress(req.OnProgress, percentDone, StatusDone)

	return descriptor, nil
}

// projectFile mirrors the on-disk JSON document. Pointer fields distinguish
// absent keys from zero values during validation.
type projectFile struct {
	Version    *int                    `json:"version"`
	Name       string                  `json:"name"`
	Audio      *string                 `json:"audio"`
	Transcript *[]domain.TranscriptCue `json:"transcript"`
	Duration   *float64                `json:"duration"`
	CreatedAt  *time.Time              `json:"createdAt"`
}

// parseProjectFile decodes the document and rejects anything that is not a
// JSON object.
func parseProjectFile(path string, content []byte) (projectFile, *domain.LoadError) {
	if strings.TrimSpace(string(content)) == "null" {
		return projectFile{}, domain.NewLoadError(
			domain.ErrorKindCorrupt, path, "project file is not a JSON object", nil)
	}

	var file projectFile
	if err := json.Unmarshal(content, &file); err != nil {
		return projectFile{}, domain.NewLoadError(
			domain.ErrorKindCorrupt, path, parseErrorMessage(err), err)
	}
	return file, nil
}

// validate applies format version, asset, and transcript rules and builds
// the descriptor handed to the UI.
func (l *Loader) validate(path string, file projectFile) (domain.ProjectDescriptor, *domain.LoadError) {
	version := domain.ProjectFormatVersion
	if file.Version != nil {
		version = *file.Version
	}
	if version > domain.ProjectFormatVersion {
		return domain.ProjectDescriptor{}, domain.NewLoadError(
			domain.ErrorKindUnsupportedVersion, path,
			fmt.Sprintf("project file version %d is newer than supported version %d",
				version, domain.ProjectFormatVersion), nil)
	}
	if version < 1 {
		return domain.ProjectDescriptor{}, domain.NewLoadError(
			domain.ErrorKindCorrupt, path,
			fmt.Sprintf("project file version %d is not valid", version), nil)
	}

	if file.Audio == nil || strings.TrimSpace(*file.Audio) == "" {
		return domain.ProjectDescriptor{}, domain.NewLoadError(
			domain.ErrorKindMissingAsset, path, "project file does not reference an audio file", nil)
	}
	audioRef := strings.TrimSpace(*file.Audio)

	if file.Transcript == nil {
		return domain.ProjectDescriptor{}, domain.NewLoadError(
			domain.ErrorKindMissingAsset, path, "project file has no transcript", nil)
	}
	transcript := *file.Transcript
	for i, cue := range transcript {
		if cue.Start < 0 {
			return domain.ProjectDescriptor{}, domain.NewLoadError(
				domain.ErrorKindCorrupt, path,
				fmt.Sprintf("transcript cue %d has a negative start time", i), nil)
		}
		if cue.End < cue.Start {
			return domain.ProjectDescriptor{}, domain.NewLoadError(
				domain.ErrorKindCorrupt, path,
				fmt.Sprintf("transcript cue %d ends before it starts", i), nil)
		}
	}

	duration := 0.0
	if file.Duration != nil {
		duration = *file.Duration
		if duration < 0 {
			return domain.ProjectDescriptor{}, domain.NewLoadError(
				domain.ErrorKindCorrupt, path, "project duration is negative", nil)
		}
	}

	audioPath := resolveAudioPath(path, audioRef)
	audioInfo, err := l.stat(audioPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ProjectDescriptor{}, domain.NewLoadError(
				domain.ErrorKindMissingAsset, audioPath,
				fmt.Sprintf("audio file not found: %s", audioRef), err)
		}
		if errors.Is(err, os.ErrPermission) {
			return domain.ProjectDescriptor{}, domain.NewLoadError(
				domain.ErrorKindPermissionDenied, audioPath,
				fmt.Sprintf("permission denied reading audio file: %s", audioRef), err)
		}
		return domain.ProjectDescriptor{}, domain.NewLoadError(
			domain.ErrorKindMissingAsset, audioPath,
			fmt.Sprintf("cannot access audio file: %s", audioRef), err)
	}
	if audioInfo.IsDir() {
		return domain.ProjectDescriptor{}, domain.NewLoadError(
			domain.ErrorKindMissingAsset, audioPath,
			fmt.Sprintf("audio reference is not a file: %s", audioRef), nil)
	}

	descriptor := domain.ProjectDescriptor{
		Name:        projectName(file.Name, path),
		Version:     version,
		AudioRef:    audioRef,
		AudioPath:   audioPath,
		Transcript:  transcript,
		Duration:    duration,
		ProjectPath: path,
	}
	if file.CreatedAt != nil {
		descriptor.CreatedAt = *file.CreatedAt
	}
	return descriptor, nil
}

// emitProgress forwards checkpoint updates when a callback is configured.
func emitProgress(cb func(percent float64, status string), percent float64, status string) {
	if cb != nil {
		cb(percent, status)
	}
}

// cancelledErr reports context cancellation as a load failure.
func cancelledErr(ctx context.Context, path string) *domain.LoadError {
	if ctx.Err() == nil {
		return nil
	}
	return domain.NewLoadError(domain.ErrorKindCancelled, path, "load cancelled", ctx.Err())
}

// classifyAccessError maps filesystem errors on the project file to the
// failure taxonomy.
func classifyAccessError(path string, err error) *domain.LoadError {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return domain.NewLoadError(domain.ErrorKindNotFound, path,
			fmt.Sprintf("project file not found: %s", path), err)
	case errors.Is(err, os.ErrPermission):
		return domain.NewLoadError(domain.ErrorKindPermissionDenied, path,
			fmt.Sprintf("permission denied reading project file: %s", path), err)
	default:
		return domain.NewLoadError(domain.ErrorKindUnknown, path,
			fmt.Sprintf("cannot access project file: %s", path), err)
	}
}

// parseErrorMessage formats JSON decode failures for logs and UI.
func parseErrorMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			return fmt.Sprintf("project file field %q has the wrong type", typeErr.Field)
		}
		return "project file is not a JSON object"
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("project file is not valid JSON at byte %d", syntaxErr.Offset)
	}
	return "project file cannot be parsed"
}

// resolveAudioPath resolves the audio reference against the project file's
// directory. Absolute references are kept as is.
func resolveAudioPath(projectPath, ref string) string {
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref)
	}
	return filepath.Join(filepath.Dir(projectPath), ref)
}

// projectName falls back to the project file's base name when the document
// does not name itself.
func projectName(raw, projectPath string) string {
	name := strings.TrimSpace(raw)
	if name != "" {
		return name
	}

	base := filepath.Base(projectPath)
	name = strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." {
		name = "project"
	}
	return name
}
