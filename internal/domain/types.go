package domain

// ErrorKind classifies every failure that may cross the load bridge.
type ErrorKind string

const (
	ErrorKindNotFound           ErrorKind = "notFound"
	ErrorKindPermissionDenied   ErrorKind = "permissionDenied"
	ErrorKindCorrupt            ErrorKind = "corrupt"
	ErrorKindUnsupportedVersion ErrorKind = "unsupportedVersion"
	ErrorKindMissingAsset       ErrorKind = "missingAsset"
	ErrorKindCancelled          ErrorKind = "cancelled"
	ErrorKindUnknown            ErrorKind = "unknown"
)

// LoadRequest identifies one in-flight load attempt. Immutable once issued.
type LoadRequest struct {
	OperationID string `json:"operationId"`
	Path        string `json:"path"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ProjectsDir       string   `json:"projectsDir"`
	RecentProjects    []string `json:"recentProjects,omitempty"`
	ReopenLastProject bool     `json:"reopenLastProject"`
}
