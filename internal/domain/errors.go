// Package domain holds the types and contracts shared by the telemetry core.
package domain

import "errors"

var (
	// ErrNotFound is returned when an activity id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when an activity is not in the state an operation needs.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidArgument is returned when required input is missing or out of range.
	ErrInvalidArgument = errors.New("invalid argument")
)
