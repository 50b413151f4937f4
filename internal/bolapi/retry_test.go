package bolapi

import (
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_Decide(t *testing.T) {
	policy := DefaultRetryPolicy()

	t.Run("429 backs off linearly across the budget", func(t *testing.T) {
		want := []time.Duration{60 * time.Second, 120 * time.Second, 180 * time.Second}
		for attempt := 1; attempt <= 3; attempt++ {
			outcome := policy.Decide(429, nil, attempt)
			if outcome.Action != ActionRetry {
				t.Fatalf("attempt %d: expected retry, got %v", attempt, outcome.Action)
			}
			if outcome.Delay != want[attempt-1] {
				t.Errorf("attempt %d: expected delay %v, got %v", attempt, want[attempt-1], outcome.Delay)
			}
		}
	})

	t.Run("429 fails with RateLimitError once the budget is spent", func(t *testing.T) {
		outcome := policy.Decide(429, nil, 4)
		if outcome.Action != ActionFail {
			t.Fatalf("expected fail, got %v", outcome.Action)
		}
		var rateErr *RateLimitError
		if !errors.As(outcome.Err, &rateErr) {
			t.Fatalf("expected *RateLimitError, got %v", outcome.Err)
		}
		if rateErr.Attempts != 3 {
			t.Errorf("expected 3 attempts recorded, got %d", rateErr.Attempts)
		}
	})

	t.Run("401 asks for a token refresh without consuming budget", func(t *testing.T) {
		outcome := policy.Decide(401, nil, 3)
		if outcome.Action != ActionRefreshToken {
			t.Fatalf("expected refresh, got %v", outcome.Action)
		}
	})

	t.Run("other 4xx fails immediately", func(t *testing.T) {
		for _, status := range []int{400, 403, 404, 422} {
			outcome := policy.Decide(status, nil, 1)
			if outcome.Action != ActionFail {
				t.Errorf("status %d: expected fail, got %v", status, outcome.Action)
			}
			if outcome.Err != nil {
				t.Errorf("status %d: expected nil err so the caller builds an APIError, got %v", status, outcome.Err)
			}
		}
	})

	t.Run("5xx retries with the short wait then escalates", func(t *testing.T) {
		outcome := policy.Decide(503, nil, 2)
		if outcome.Action != ActionRetry {
			t.Fatalf("expected retry, got %v", outcome.Action)
		}
		if outcome.Delay != 4*time.Second {
			t.Errorf("expected 4s delay, got %v", outcome.Delay)
		}

		outcome = policy.Decide(503, nil, 4)
		var transientErr *TransientError
		if outcome.Action != ActionFail || !errors.As(outcome.Err, &transientErr) {
			t.Fatalf("expected fail with *TransientError, got %v / %v", outcome.Action, outcome.Err)
		}
	})

	t.Run("network failure shares the transient budget", func(t *testing.T) {
		netErr := errors.New("connection reset")

		outcome := policy.Decide(0, netErr, 1)
		if outcome.Action != ActionRetry || outcome.Delay != 2*time.Second {
			t.Fatalf("expected retry with 2s delay, got %v / %v", outcome.Action, outcome.Delay)
		}

		outcome = policy.Decide(0, netErr, 4)
		var transientErr *TransientError
		if outcome.Action != ActionFail || !errors.As(outcome.Err, &transientErr) {
			t.Fatalf("expected fail with *TransientError, got %v / %v", outcome.Action, outcome.Err)
		}
		if !errors.Is(outcome.Err, netErr) {
			t.Error("expected the network error to be wrapped")
		}
	})
}
