package engine

import "errors"

var (
	// ErrUnavailable is returned when the engine cannot be reached at startup
	ErrUnavailable = errors.New("engine unavailable")

	// ErrUnsupportedDriver is returned for drivers without a dialect
	ErrUnsupportedDriver = errors.New("unsupported engine driver")

	// ErrArity is returned when a template's placeholders do not match its argument types
	ErrArity = errors.New("placeholder count does not match argument types")

	// ErrTableNotFound is returned by catalog lookups for unknown tables
	ErrTableNotFound = errors.New("table not found")

	// ErrColumnNotFound is returned by catalog lookups for unknown columns
	ErrColumnNotFound = errors.New("column not found")
)
