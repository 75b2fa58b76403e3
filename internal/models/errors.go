package models

import "errors"

// Domain error values. Handlers dispatch on these with errors.Is to pick
// the HTTP status; everything else maps to an internal error.
var (
	ErrNotFound         = errors.New("ride request not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrConflict         = errors.New("ride request state conflict")
	ErrTimeout          = errors.New("store operation timed out")
	ErrStoreUnavailable = errors.New("store unavailable")
)
