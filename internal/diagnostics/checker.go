package diagnostics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transcription-project/internal/domain"
)

// Checker validates the filesystem locations the app depends on.
type Checker struct {
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report. Warnings
// do not count as failures.
func (c *Checker) Run(settings domain.Settings, settingsPath string) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkProjectsDir(settings.ProjectsDir),
		c.checkSettingsDir(settingsPath),
		c.checkRecentProjects(settings.RecentProjects),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkProjectsDir validates the projects directory exists and is readable.
func (c *Checker) checkProjectsDir(projectsDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "projects_dir",
		Name: "Projects directory",
		Path: projectsDir,
	}

	if strings.TrimSpace(projectsDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Projects directory is empty."
		item.Hint = "Set a projects directory in settings."
		return item
	}

	if err := c.mkdirAll(projectsDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create projects directory: %s", projectsDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	if _, err := c.readDir(projectsDir); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read projects directory: %s", projectsDir)
		item.Hint = "Check permissions for the projects directory."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Readable directory: %s", projectsDir)
	return item
}

// checkSettingsDir validates the settings file location is writable.
func (c *Checker) checkSettingsDir(settingsPath string) domain.DiagnosticItem {
	settingsDir := filepath.Dir(settingsPath)
	item := domain.DiagnosticItem{
		ID:   "settings_dir",
		Name: "Settings directory",
		Path: settingsDir,
	}

	if strings.TrimSpace(settingsPath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Settings path is empty."
		return item
	}

	if err := c.mkdirAll(settingsDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create settings directory: %s", settingsDir)
		item.Hint = "Settings changes will not persist until this is fixed."
		return item
	}

	tmpFile, err := c.createTemp(settingsDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Settings directory is not writable: %s", settingsDir)
		item.Hint = "Settings changes will not persist until this is fixed."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", settingsDir)
	return item
}

// checkRecentProjects reports recent entries whose files no longer exist.
// Missing recents are a warning, not a failure: the app works without them.
func (c *Checker) checkRecentProjects(recents []string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "recent_projects",
		Name: "Recent projects",
	}

	if len(recents) == 0 {
		item.Status = domain.DiagnosticStatusPass
		item.Message = "No recent projects recorded."
		return item
	}

	missing := 0
	for _, path := range recents {
		if _, err := c.stat(path); errors.Is(err, os.ErrNotExist) {
			missing++
		}
	}

	if missing > 0 {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("%d of %d recent projects are missing on disk.", missing, len(recents))
		item.Hint = "Missing entries fail with a clear error when opened."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("All %d recent projects are present.", len(recents))
	return item
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
