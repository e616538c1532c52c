package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an event is not accepted in the current phase.
	ErrInvalidTransition = errors.New("transition not allowed in current session phase")
	// ErrInvalidSettings indicates quiz settings outside their allowed ranges.
	ErrInvalidSettings = errors.New("invalid quiz settings")
	// ErrScoreOutOfRange indicates a score outside [0,100].
	ErrScoreOutOfRange = errors.New("score out of range")
	// ErrUserNotFound is returned when removing a name that is not registered.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserActive is returned when removing the logged-in user.
	ErrUserActive = errors.New("cannot remove the active user")
	// ErrAnswersFrozen is returned for answers submitted after the countdown expired.
	ErrAnswersFrozen = errors.New("time is up, answers are frozen")
	// ErrTopicRequired is returned when picking an empty topic.
	ErrTopicRequired = errors.New("topic is required")
	// ErrSessionClosed is returned for transitions after the process began shutting down.
	ErrSessionClosed = errors.New("session is shutting down")
	// ErrItemNotFound indicates a submitted item ID is not part of the quiz.
	ErrItemNotFound = errors.New("item not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
)

// ValidationCode names which name check failed.
type ValidationCode string

const (
	CodeEmptyName         ValidationCode = "EmptyName"
	CodeTooShort          ValidationCode = "TooShort"
	CodeInvalidCharacters ValidationCode = "InvalidCharacters"
	CodeTooLong           ValidationCode = "TooLong"
)

// ValidationError reports a rejected name submission.
type ValidationError struct {
	Code    ValidationCode
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is matches any ValidationError with the same code.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Code == e.Code
}

var (
	ErrEmptyName             = &ValidationError{Code: CodeEmptyName, Message: "Please enter your name!"}
	ErrNameTooShort          = &ValidationError{Code: CodeTooShort, Message: "Must be 3 characters long!"}
	ErrNameInvalidCharacters = &ValidationError{Code: CodeInvalidCharacters, Message: "Please enter a valid name!"}
	ErrNameTooLong           = &ValidationError{Code: CodeTooLong, Message: "Must be 25 characters or less!"}
)

// PersistenceError wraps a local store failure that aborted a transition.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// RemoteSyncError wraps a remote store failure. It is only ever logged.
type RemoteSyncError struct {
	Op       string
	Username string
	Err      error
}

func (e *RemoteSyncError) Error() string {
	return fmt.Sprintf("remote sync %s for %q: %v", e.Op, e.Username, e.Err)
}

func (e *RemoteSyncError) Unwrap() error {
	return e.Err
}
