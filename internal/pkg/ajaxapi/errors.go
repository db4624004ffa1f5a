package ajaxapi

import "fmt"

// AuthError indicates credentials that the cloud no longer accepts.
// It is not recoverable without new credentials.
type AuthError struct {
	Reason string
	cause  error
}

func (e *AuthError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.cause }

// PreconditionError indicates an action the hub refused because of a
// domain precondition, eg. arming with an open door. Callers may retry
// with the ignore-problems override; the client never retries it.
type PreconditionError struct {
	Body []byte
}

func (e *PreconditionError) Error() string {
	return "precondition failed: arming prevented by the hub"
}

// ConnectionError indicates a transport level failure (timeout, reset).
type ConnectionError struct {
	cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %v", e.cause)
}

func (e *ConnectionError) Unwrap() error { return e.cause }

// APIError indicates an unexpected non-2xx response.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: HTTP status %d: %s", e.StatusCode, e.Body)
}
