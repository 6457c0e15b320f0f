// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity changed underneath a conditional update.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates invalid caller input.
var ErrValidation = errors.New("validation failed")
