package domain

import "errors"

var (
	// ErrValidation marks bad caller input. Operations returning it never mutate state.
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	// ErrConflict marks an illegal state transition or a lost compare-and-swap.
	ErrConflict = errors.New("conflict")
)
