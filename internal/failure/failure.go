// Package failure defines the typed error kinds produced by portal learning
// and automation. Callers branch on Kind, never on error text.
package failure

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind classifies a verification failure.
type Kind string

const (
	KindNone              Kind = ""
	KindAuthorization     Kind = "authorization"
	KindMissingCredential Kind = "missing_credential"
	KindStepFailure       Kind = "step_failure"
	KindTimeout           Kind = "timeout"
	KindCaptchaRequired   Kind = "captcha_required"
	KindTwoFactorRequired Kind = "two_factor_required"
	KindPortalAnalysis    Kind = "portal_analysis"
	KindCapacity          Kind = "capacity"
	KindAborted           Kind = "aborted"
	KindSystem            Kind = "system"
)

// Terminal reports whether a step failure of this kind must end the run
// without trying a fallback step.
func (k Kind) Terminal() bool {
	switch k {
	case KindMissingCredential, KindCaptchaRequired, KindTwoFactorRequired,
		KindAuthorization, KindAborted:
		return true
	}
	return false
}

// Gating reports whether the failure happened before any portal interaction.
// Gating failures carry no fallback options.
func (k Kind) Gating() bool {
	return k == KindAuthorization || k == KindCapacity
}

// Error is a classified failure. Step is the 1-based index of the failing
// automation step, or 0 when the failure is not tied to a step.
type Error struct {
	Kind Kind
	Step int
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Step > 0 {
		msg = fmt.Sprintf("%s at step %d", msg, e.Step)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified failure with a formatted cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: eris.Errorf(format, args...)}
}

// Wrap classifies err. A nil err still yields a failure of the given kind.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// AtStep returns a copy of the failure attributed to the 1-based step index.
func AtStep(err error, step int) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return &Error{Kind: fe.Kind, Step: step, Err: fe.Err}
	}
	return &Error{Kind: classifyUntyped(err), Step: step, Err: err}
}

// KindOf extracts the failure kind from err. Context errors become timeout
// or aborted; any other untyped error is a step failure.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return classifyUntyped(err)
}

// StepOf returns the 1-based failing step recorded in err, or 0.
func StepOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Step
	}
	return 0
}

func classifyUntyped(err error) Kind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindAborted
	default:
		return KindStepFailure
	}
}
