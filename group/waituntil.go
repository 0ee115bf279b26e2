package group

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WaitUntil drives MonitorChildren on a fixed poll interval until
// predicate reports true or ctx is done. It is sugar over the
// caller-driven poll loop spec.md §5 requires — MonitorChildren is still
// called synchronously from the calling goroutine on every tick, no
// background thread is introduced — built on the exact
// backoff.WithContext(backoff.NewConstantBackOff(...), ctx) +
// backoff.Retry idiom runsc/sandbox/sandbox.go uses to poll a sandboxed
// process's readiness.
func (g *Group) WaitUntil(ctx context.Context, pollInterval time.Duration, predicate func(*Group) bool) error {
	op := func() error {
		if err := g.MonitorChildren(); err != nil {
			return backoff.Permanent(err)
		}
		if predicate(g) {
			return nil
		}
		return errNotYet
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(pollInterval), ctx)
	return backoff.Retry(op, b)
}

var errNotYet = errPredicateNotSatisfied{}

type errPredicateNotSatisfied struct{}

func (errPredicateNotSatisfied) Error() string { return "group: predicate not yet satisfied" }
