package verify

import (
	"errors"
	"fmt"

	"github.com/ternarybob/chatverify/internal/browser"
)

// Failure classes of a run. They are the browser classes, re-exported so that
// callers only depend on this package.
var (
	ErrSession   = browser.ErrSession
	ErrLocator   = browser.ErrLocator
	ErrAssertion = browser.ErrAssertion
)

// Kind names a failure class
type Kind string

const (
	KindSession   Kind = "session"
	KindLocator   Kind = "locator"
	KindAssertion Kind = "assertion"
)

// StepError is returned by Driver.Run for the first step that failed
type StepError struct {
	Step string
	Kind Kind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Is reports the kind sentinel even when the underlying error does not wrap it
func (e *StepError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindSession:
		return ErrSession
	case KindLocator:
		return ErrLocator
	case KindAssertion:
		return ErrAssertion
	}
	return nil
}

// classify returns the kind wrapped by err, or fallback when err carries none
func classify(err error, fallback Kind) Kind {
	switch {
	case errors.Is(err, ErrAssertion):
		return KindAssertion
	case errors.Is(err, ErrLocator):
		return KindLocator
	case errors.Is(err, ErrSession):
		return KindSession
	}
	return fallback
}
