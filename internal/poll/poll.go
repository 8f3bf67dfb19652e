// Package poll implements bounded polling with stall escalation.
//
// A Loop moves through the states
//
//	Polling -> Loaded
//	Polling -> StallEscalated -> Polling
//	Polling -> TimedOutSoft
//
// Reaching the attempt ceiling is a soft outcome, not an error: callers decide
// whether to proceed. Only context cancellation is returned as an error.
package poll

import (
	"context"
	"fmt"
	"time"
)

type State int

const (
	Polling State = iota
	Loaded
	StallEscalated
	TimedOutSoft
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Loaded:
		return "loaded"
	case StallEscalated:
		return "stall-escalated"
	case TimedOutSoft:
		return "timed-out-soft"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CheckFunc reports whether the awaited condition holds. An error counts as
// "not yet" and is kept in Outcome.LastErr.
type CheckFunc func(ctx context.Context) (bool, error)

// EscalateFunc recovers a stalled wait, e.g. by reloading the page.
type EscalateFunc func(ctx context.Context) error

type Loop struct {
	Interval    time.Duration
	MaxAttempts int
	// EscalateEvery triggers escalation after this many consecutive failed
	// checks. Zero disables escalation.
	EscalateEvery  int
	MaxEscalations int
	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State, attempt int)
}

type Outcome struct {
	State       State
	Attempts    int
	Escalations int
	LastErr     error
}

func (l Loop) transition(from, to State, attempt int) {
	if l.OnTransition != nil {
		l.OnTransition(from, to, attempt)
	}
}

// Run polls check until it succeeds or MaxAttempts is reached. The final
// state is Loaded or TimedOutSoft.
func (l Loop) Run(ctx context.Context, clock Clock, check CheckFunc, escalate EscalateFunc) (Outcome, error) {
	if clock == nil {
		clock = RealClock{}
	}
	maxAttempts := l.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var out Outcome
	sinceEscalation := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Attempts = attempt

		done, err := check(ctx)
		if err != nil {
			out.LastErr = err
		}
		if done {
			out.State = Loaded
			l.transition(Polling, Loaded, attempt)
			return out, nil
		}
		if attempt == maxAttempts {
			break
		}

		sinceEscalation++
		if escalate != nil && l.EscalateEvery > 0 && sinceEscalation >= l.EscalateEvery && out.Escalations < l.MaxEscalations {
			sinceEscalation = 0
			out.Escalations++
			l.transition(Polling, StallEscalated, attempt)
			if err := escalate(ctx); err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				out.LastErr = err
			}
			l.transition(StallEscalated, Polling, attempt)
		}

		if err := clock.Sleep(ctx, l.Interval); err != nil {
			return out, err
		}
	}

	out.State = TimedOutSoft
	l.transition(Polling, TimedOutSoft, out.Attempts)
	return out, nil
}
