package remote

import (
	"errors"
	"fmt"
)

// ErrAuthRequired indicates a protected call was attempted with no token or
// an expired one. It is raised locally, before any network I/O.
var ErrAuthRequired = errors.New("remote: authentication required")

// Error is a non-2xx response from the remote service.
type Error struct {
	StatusCode int
	Payload    map[string]any
}

func (e *Error) Error() string {
	if code, ok := e.Payload["error"].(string); ok && code != "" {
		return fmt.Sprintf("remote: status %d: %s", e.StatusCode, code)
	}
	return fmt.Sprintf("remote: status %d", e.StatusCode)
}
