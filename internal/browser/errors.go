package browser

import "errors"

// Failure classes. Every error returned by a Session wraps exactly one of them.
var (
	// ErrSession covers browser start-up, navigation and screenshot failures
	ErrSession = errors.New("session failure")

	// ErrLocator means an element could not be resolved or acted on in time
	ErrLocator = errors.New("locator failure")

	// ErrAssertion means an expected visibility state or response did not materialise
	ErrAssertion = errors.New("assertion failure")
)
