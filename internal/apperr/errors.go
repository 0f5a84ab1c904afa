// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrClosed       = errors.New("closed")
	ErrInvalidLevel = errors.New("invalid level")

	// ErrInvalidTarget is returned for a panel target that cannot be shown.
	ErrInvalidTarget = errors.New("invalid panel target")
)
