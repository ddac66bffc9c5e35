package session

import (
	"errors"
)

// UnreachableMessage is shown to the user when the API cannot be reached.
const UnreachableMessage = "Cannot reach server. Is the backend running?"

// ErrServerUnreachable is returned by Login and Register when the request never
// got a response. No body is parsed in that case.
var ErrServerUnreachable = errors.New("cannot reach server")

// AuthError is returned when the server rejects a login or registration.
// Message is ready to show to the user.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return e.Message
}

// Message returns the user-facing text for an error returned by the Manager.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrServerUnreachable) {
		return UnreachableMessage
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	return err.Error()
}
