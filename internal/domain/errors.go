package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrPrerequisiteMissing = errors.New("prerequisite asset missing")
	ErrNoJobAvailable      = errors.New("no job available")
	ErrProviderFailure     = errors.New("provider failure")
	ErrStaleJob            = errors.New("job changed concurrently")
	ErrConflict            = errors.New("already exists")
)
