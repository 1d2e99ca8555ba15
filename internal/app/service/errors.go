package service

import "errors"

var (
	// ErrValidation rejects a request before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrAccessDenied hides whether the resource exists.
	ErrAccessDenied = errors.New("access denied")
	// ErrUpstreamUnavailable marks a store or bus outage on a fatal step.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
