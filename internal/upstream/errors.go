package upstream

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks the upstream API as unreachable after the retry
// budget was exhausted. Callers match it with errors.Is.
var ErrUnavailable = errors.New("upstream API unavailable after retries")

// HTTPError represents a non-success HTTP response from the upstream API.
type HTTPError struct {
	StatusCode int
	URL        string
	Status     string
}

// Error returns the error message.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Status)
}

// retryable reports whether the response status is worth retrying:
// throttling (429) and server-side failures (5xx). Everything else is a
// terminal upstream answer.
func (e *HTTPError) retryable() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode < 600)
}
