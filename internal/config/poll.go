package config

import (
	"context"
	"time"
)

// DeadlineError reports a Wait whose condition never held within the policy
// deadline. Callers translate it into a domain fault.
type DeadlineError struct{ What string }

func (e DeadlineError) Error() string { return e.What + " did not happen before the deadline" }

// Wait re-evaluates cond every policy interval until it reports done, the
// policy deadline passes, or ctx is cancelled.
func (p Poll) Wait(ctx context.Context, what string, cond func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(p.Deadline.Duration())
	ticker := time.NewTicker(p.Interval.Duration())
	defer ticker.Stop()

	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return DeadlineError{What: what}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
