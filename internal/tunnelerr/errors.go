// Package tunnelerr defines the sentinel error taxonomy shared by the
// agent and server. Callers compare with errors.Is rather than switching
// on an error enum.
package tunnelerr

import "errors"

var (
	ErrAuthFailure      = errors.New("authentication failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrAgentNotFound    = errors.New("agent not found")
	ErrInstanceNotFound = errors.New("instance not found")
	ErrAgentOffline     = errors.New("agent offline")
	ErrPTYError         = errors.New("pty error")
	ErrConfigError      = errors.New("config error")
	ErrPersistence      = errors.New("persistence error")
	ErrRateLimited      = errors.New("rate limited")
	ErrSerialization    = errors.New("serialization error")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrTimeout          = errors.New("timeout")
)
