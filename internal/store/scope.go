package store

import (
	"errors"
	"strings"
)

// ErrEmptyWorkspace is returned when a scope is constructed without a
// workspace identity.
var ErrEmptyWorkspace = errors.New("workspace id is required")

// Scope is the capability that binds every store call to one workspace.
// The id is unexported so a Scope can only be built through NewScope;
// handlers receive one from the auth middleware and cannot widen it.
type Scope struct {
	workspaceID string
}

// NewScope builds a scope for the given workspace. Blank ids are rejected
// so an unauthenticated caller can never obtain a usable scope.
func NewScope(workspaceID string) (Scope, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return Scope{}, ErrEmptyWorkspace
	}
	return Scope{workspaceID: workspaceID}, nil
}

// WorkspaceID returns the bound workspace identity.
func (s Scope) WorkspaceID() string {
	return s.workspaceID
}

// Valid reports whether the scope carries a workspace identity.
func (s Scope) Valid() bool {
	return s.workspaceID != ""
}
