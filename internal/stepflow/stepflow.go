// Package stepflow runs named step sequences against a serializable session,
// persisting the session after every transition. A crash between steps loses
// at most the in-flight step's choice, never committed progress, which is
// what makes wizards resumable.
package stepflow

import (
	"context"

	"github.com/fyrsmithlabs/relkit/internal/fault"
)

// Outcome is what a handler decides: advance to the session's (possibly
// re-entered) next step, or finish the flow.
type Outcome[S any] struct {
	next S
	done bool
}

// Advance continues the flow with the updated session. The session's step
// may equal the current one for validation re-entry.
func Advance[S any](s S) Outcome[S] {
	return Outcome[S]{next: s}
}

// Finish terminates the flow. The engine persists nothing on finish: the
// finishing step clears or keeps the session explicitly.
func Finish[S any]() Outcome[S] {
	return Outcome[S]{done: true}
}

// Handler executes one step against the session.
type Handler[S any] func(ctx context.Context, s S) (Outcome[S], error)

// Run drives the session through handlers until one finishes or fails.
// stepOf names the session's current step; handlers maps step names to their
// handler; save persists the session after every Advance and before the next
// handler executes. An unknown step name fails with invalid_input and does
// not save. Handler and save errors propagate immediately.
func Run[S any](ctx context.Context, s S, stepOf func(S) string, handlers map[string]Handler[S], save func(S) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		step := stepOf(s)
		handler, ok := handlers[step]
		if !ok {
			return fault.Newf(fault.InvalidInput, "unknown step %q", step).
				WithHint("the session file may be from an incompatible version; reset it")
		}

		out, err := handler(ctx, s)
		if err != nil {
			return err
		}
		if out.done {
			return nil
		}

		s = out.next
		if err := save(s); err != nil {
			return err
		}
	}
}
