package domain

import "fmt"

// LoadError is the typed failure produced by the project loader. Every load
// stage converts its raw error into one of these at the stage boundary, so
// no untyped error crosses the bridge.
type LoadError struct {
	Kind    ErrorKind `json:"kind"`
	Path    string    `json:"path,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error formats the failure for logs and UI.
func (e *LoadError) Error() string {
	if e == nil {
		return ""
	}
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Path)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *LoadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewLoadError builds a LoadError with an optional wrapped cause.
func NewLoadError(kind ErrorKind, path, message string, err error) *LoadError {
	return &LoadError{Kind: kind, Path: path, Message: message, Err: err}
}
