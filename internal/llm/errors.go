package llm

import "fmt"

// ErrRateLimited, ErrTransient, and ErrFatal classify upstream failures per
// spec.md §7's ProviderRateLimited/ProviderTransient/ProviderFatal kinds.
// Client.Stream and Client.Embed only ever return errors wrapping one of
// these three; callers classify with errors.Is.
type classifiedError struct {
	kind string
	err  error
}

func (e *classifiedError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *classifiedError) Unwrap() error { return e.err }

var (
	ErrRateLimited = &classifiedError{kind: "rate_limited"}
	ErrTransient   = &classifiedError{kind: "transient"}
	ErrFatal       = &classifiedError{kind: "fatal"}
)

func (e *classifiedError) Is(target error) bool {
	t, ok := target.(*classifiedError)
	return ok && t.kind == e.kind
}

func rateLimited(err error) error { return &classifiedError{kind: "rate_limited", err: err} }
func transient(err error) error   { return &classifiedError{kind: "transient", err: err} }
func fatal(err error) error       { return &classifiedError{kind: "fatal", err: err} }
