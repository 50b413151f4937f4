package bolapi

import "fmt"

// AuthError covers missing credentials and token endpoint failures. It is
// fatal for the run.
type AuthError struct {
	Reason string
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("auth failed: %s (status %d): %s", e.Reason, e.Status, e.Body)
	}
	return "auth failed: " + e.Reason
}

// RateLimitError means the 429 retry budget was spent. Retrying the whole
// run later is safe.
type RateLimitError struct {
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded after %d retries", e.Attempts)
}

// APIError is a non-retryable HTTP error status from the retailer API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.Status, e.Body)
}

// TransientError means network-level failures or 5xx responses persisted
// past the retry budget.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure persisted after %d retries: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
