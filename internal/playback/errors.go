package playback

import (
	"errors"
	"fmt"
)

// Error kinds. Every I/O failure crossing a component boundary is converted
// into an *Error of one of these kinds; match them with errors.Is.
var (
	ErrAuth       = errors.New("auth error")
	ErrProvider   = errors.New("provider error")
	ErrEnrichment = errors.New("enrichment error")
	ErrLifecycle  = errors.New("lifecycle error")
)

// ErrCredentialNotFound is returned by a CredentialStore for an unknown id.
var ErrCredentialNotFound = errors.New("credential not found")

// Error records the kind and operation of a failure along with its cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func AuthError(op string, err error) error {
	return &Error{Kind: ErrAuth, Op: op, Err: err}
}

func ProviderError(op string, err error) error {
	return &Error{Kind: ErrProvider, Op: op, Err: err}
}

func EnrichmentError(op string, err error) error {
	return &Error{Kind: ErrEnrichment, Op: op, Err: err}
}

func LifecycleError(op string, err error) error {
	return &Error{Kind: ErrLifecycle, Op: op, Err: err}
}
