package bolapi

import (
	"errors"
	"fmt"
	"time"
)

// Action is what the request loop should do after an attempt.
type Action int

const (
	// ActionRetry waits Outcome.Delay and retries, consuming one budget slot.
	ActionRetry Action = iota
	// ActionRefreshToken refreshes credentials and retries without
	// consuming budget.
	ActionRefreshToken
	// ActionFail gives up. Outcome.Err carries the budget-exhaustion error
	// when there is one; for plain HTTP errors the caller builds an
	// *APIError since only it holds the response body.
	ActionFail
)

type Outcome struct {
	Action Action
	Delay  time.Duration
	Err    error
}

// RetryPolicy decides, without doing any I/O, how a finished HTTP attempt
// should be handled. Keeping it pure makes the 429/401/transient branching
// testable without a server.
type RetryPolicy struct {
	MaxAttempts   int           // retry budget per logical call
	RateLimitWait time.Duration // base 429 wait, scales linearly per attempt
	TransientWait time.Duration // base wait for 5xx and transport failures
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		RateLimitWait: 60 * time.Second,
		TransientWait: 2 * time.Second,
	}
}

// Decide maps one attempt result to the next step. attempt is 1-based: the
// first retry of a call is attempt 1. A 429 on attempts 1..MaxAttempts waits
// attempt*RateLimitWait; one more exhausts the budget.
func (p RetryPolicy) Decide(status int, err error, attempt int) Outcome {
	if err != nil {
		if attempt > p.MaxAttempts {
			return Outcome{Action: ActionFail, Err: &TransientError{Attempts: p.MaxAttempts, Err: err}}
		}
		return Outcome{Action: ActionRetry, Delay: time.Duration(attempt) * p.TransientWait}
	}

	switch {
	case status >= 200 && status < 300:
		return Outcome{Action: ActionFail, Err: fmt.Errorf("retry policy consulted for success status %d", status)}
	case status == 429:
		if attempt > p.MaxAttempts {
			return Outcome{Action: ActionFail, Err: &RateLimitError{Attempts: p.MaxAttempts}}
		}
		return Outcome{Action: ActionRetry, Delay: time.Duration(attempt) * p.RateLimitWait}
	case status == 401:
		return Outcome{Action: ActionRefreshToken}
	case status >= 500:
		if attempt > p.MaxAttempts {
			return Outcome{Action: ActionFail, Err: &TransientError{Attempts: p.MaxAttempts, Err: errors.New(http5xxReason(status))}}
		}
		return Outcome{Action: ActionRetry, Delay: time.Duration(attempt) * p.TransientWait}
	default:
		return Outcome{Action: ActionFail}
	}
}

func http5xxReason(status int) string {
	return fmt.Sprintf("server returned status %d", status)
}
