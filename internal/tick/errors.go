package tick

import "fmt"

// ValidationError reports a malformed tick request. It is raised before any
// store access.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %v", e.Missing)
}

// AuthorizationError reports a tenant mismatch: the session exists but
// belongs to a different organization than the request claims.
type AuthorizationError struct {
	SessionID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("session %s does not belong to this organization", e.SessionID)
}
