package config

import (
	"os"
	"path/filepath"

	"transcription-project/internal/domain"
)

// maxRecentProjects caps the most-recent-first recents list.
const maxRecentProjects = 10

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		ProjectsDir:       filepath.Join(homeDir, "Documents", "Transcription Projects"),
		ReopenLastProject: false,
	}
}

// DefaultSettingsPath returns the on-disk location of the settings file.
func DefaultSettingsPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".transcription-project", "settings.json")
}

// Normalize fills missing fields with defaults and tidies the recents list.
func Normalize(settings domain.Settings) domain.Settings {
	if settings.ProjectsDir == "" {
		settings.ProjectsDir = DefaultSettings().ProjectsDir
	}
	settings.RecentProjects = dedupeRecents(settings.RecentProjects)
	return settings
}

// PushRecent records a successfully loaded project at the head of the
// recents list, deduplicated and capped.
func PushRecent(settings domain.Settings, path string) domain.Settings {
	if path == "" {
		return settings
	}
	recents := make([]string, 0, len(settings.RecentProjects)+1)
	recents = append(recents, path)
	recents = append(recents, settings.RecentProjects...)
	settings.RecentProjects = dedupeRecents(recents)
	return settings
}

// dedupeRecents keeps the first occurrence of each path, capped at
// maxRecentProjects, dropping empty entries.
func dedupeRecents(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
		if len(out) == maxRecentProjects {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
