package bridge

import (
	"context"
	"sort"

	"transcription-project/internal/domain"
)

// Host method names probed during capability negotiation, newest first.
// Older hosts expose only the later aliases.
const (
	MethodLoadProject     = "loadProject"
	MethodOpenProject     = "openProject"
	MethodLoadProjectFile = "loadProjectFile"
)

// CandidateMethods returns the negotiation probe order.
func CandidateMethods() []string {
	return []string{MethodLoadProject, MethodOpenProject, MethodLoadProjectFile}
}

// LoadFunc performs one project load on behalf of the bridge. Progress
// callbacks may fire zero or more times before it returns.
type LoadFunc func(ctx context.Context, req domain.LoadRequest, onProgress func(percent float64, status string)) (domain.ProjectDescriptor, error)

// Host is the privileged side of the bridge: a set of named load methods.
type Host interface {
	// Lookup resolves one method name, reporting whether the host
	// supports it.
	Lookup(method string) (LoadFunc, bool)
}

// HostTable is the standard Host: a registry of named load methods.
type HostTable struct {
	funcs map[string]LoadFunc
}

// NewHostTable creates an empty method registry.
func NewHostTable() *HostTable {
	return &HostTable{funcs: make(map[string]LoadFunc)}
}

// Register exposes fn under the given method name, replacing any previous
// registration.
func (t *HostTable) Register(method string, fn LoadFunc) {
	if method == "" || fn == nil {
		return
	}
	t.funcs[method] = fn
}

// Lookup resolves one method name.
func (t *HostTable) Lookup(method string) (LoadFunc, bool) {
	fn, ok := t.funcs[method]
	return fn, ok
}

// Methods lists registered method names in stable order.
func (t *HostTable) Methods() []string {
	methods := make([]string, 0, len(t.funcs))
	for method := range t.funcs {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}
