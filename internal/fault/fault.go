// Package fault classifies release failures into a closed set of kinds.
//
// Operations that fail in a way the operator can act on return a *fault.Error
// carrying one of the kinds below plus an optional remediation hint. Layer
// boundaries translate lower-level failures into the kind naming what the
// operator must fix; everything else propagates as plain wrapped errors.
package fault

import (
	"errors"
	"fmt"
)

// Kind names one failure category. The set is closed: the CLI maps kinds to
// process exit classes, so adding a kind means deciding its exit class too.
type Kind string

const (
	// InvalidInput marks operator-supplied values that fail validation:
	// flags, plan files, wizard selections, or blocked auto-resolution.
	InvalidInput Kind = "invalid_input"

	// InvalidTag marks version tags that violate history ordering.
	InvalidTag Kind = "invalid_tag"

	// TagExists marks an attempt to plan a tag that was already published.
	TagExists Kind = "tag_exists"

	// CINotGreen marks pinned commits without a successful required check.
	CINotGreen Kind = "ci_not_green"

	// PermissionDenied marks forge operations rejected for the current token.
	PermissionDenied Kind = "permission_denied"

	// DistRepoDirty marks a distribution clone with uncommitted changes.
	DistRepoDirty Kind = "dist_repo_dirty"

	// DistRepoFailed marks distribution branch, pull-request, or merge failures.
	DistRepoFailed Kind = "dist_repo_failed"

	// WorkflowFailed marks a dispatched workflow run that did not succeed.
	WorkflowFailed Kind = "workflow_failed"

	// AuthMissing marks an absent forge token.
	AuthMissing Kind = "auth_missing"

	// AuthInvalid marks a forge token the forge rejects.
	AuthInvalid Kind = "auth_invalid"

	// ProcessFailed marks an external command that could not run or exited
	// non-zero.
	ProcessFailed Kind = "process_failed"

	// IOFailed marks local filesystem failures.
	IOFailed Kind = "io_failed"

	// NetworkFailed marks transport-level forge failures.
	NetworkFailed Kind = "network_failed"
)

// Error is a classified failure with an optional remediation hint.
type Error struct {
	Kind    Kind
	Message string
	Hint    string

	err error
}

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind wrapping err. It is the boundary
// translation primitive: the wrapped error stays reachable via errors.Is/As
// while the kind reported to the operator changes.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), err: err}
}

// WithHint attaches a remediation hint and returns e for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithHintf is WithHint with a formatted hint.
func (e *Error) WithHintf(format string, args ...any) *Error {
	e.Hint = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return e.Message + ": " + e.err.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped error to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.err
}

// KindOf returns the kind of the outermost *Error in err's chain, or the
// empty kind when err carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err's chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HintOf returns the outermost non-empty hint in err's chain, or "".
func HintOf(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if fe, ok := e.(*Error); ok && fe.Hint != "" {
			return fe.Hint
		}
	}
	return ""
}
