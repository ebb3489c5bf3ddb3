// Package apperr defines the error taxonomy shared by the catalog layers.
package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyExists     = errors.New("already exists")
	ErrDanglingReference = errors.New("dangling reference")
	ErrInvalidArgument   = errors.New("invalid argument")
)
