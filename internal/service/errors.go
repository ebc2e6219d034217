package service

import "errors"

var (
	// ErrStateConflict is returned for illegal queue transitions and for
	// ledger conflicts; callers must not retry blindly.
	ErrStateConflict = errors.New("state conflict")
	// ErrUnknownPipeline is returned for pipeline names with no handler.
	ErrUnknownPipeline = errors.New("unknown_pipeline")
	// ErrWorkspacePaused is returned when execution is requested for a
	// paused workspace.
	ErrWorkspacePaused = errors.New("workspace is paused")
	// ErrNotDue is returned when a single-item execute is requested before
	// the item's scheduled time.
	ErrNotDue = errors.New("item not due yet")
	// ErrCooldownActive is returned when a single-item execute is blocked
	// by an active reply cooldown; the item stays approved_scheduled.
	ErrCooldownActive = errors.New("cooldown active")
	// ErrRateLimited is returned when a single-item execute is denied by
	// the workspace token bucket; the item stays approved_scheduled.
	ErrRateLimited = errors.New("rate limit exceeded")
)
