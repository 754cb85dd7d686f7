package sprites

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoCheckpointID is returned when a checkpoint stream completes without
// naming the checkpoint it created.
var ErrNoCheckpointID = errors.New("failed to extract checkpoint ID from response")

// APIError is a non-2xx answer from the Sprites API.
type APIError struct {
	StatusCode int
	Body       string
	Operation  string // e.g. "get sprite", "create checkpoint"
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Sprites API error: %d %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsUnauthorized reports whether the API rejected the token.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// StatusCode extracts the HTTP status from an APIError, or 0.
func StatusCode(err error) int {
	var e *APIError
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}
