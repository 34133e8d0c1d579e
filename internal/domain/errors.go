package domain

import "errors"

// Sentinel errors shared by the stores and services.
// Use errors.Is to check: errors.Is(err, domain.ErrConflict)
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("concurrent update conflict")
	ErrTransient        = errors.New("transient store failure")
	ErrInvalidQuality   = errors.New("quality out of range")
	ErrInvalidRequest   = errors.New("invalid request")
)
