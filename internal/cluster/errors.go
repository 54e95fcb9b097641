package cluster

import (
	"errors"
	"fmt"
)

// Code categorizes synchronization errors. Callers branch on the category,
// not on message text: transient errors may be retried, frozen and config
// errors need an operator.
type Code string

const (
	// CodeTransient covers exhausted lock waits, dropped database
	// connections, and fetch network failures. Retrying the whole entry
	// point is safe.
	CodeTransient Code = "TRANSIENT"

	// CodeFrozen means a previous write was interrupted, or a completed
	// write could not clear its marker within the reconnect budget. The
	// repository rejects writes until an operator clears the marker.
	CodeFrozen Code = "FROZEN"

	// CodeConfig covers missing cluster services, ambiguous authority
	// during bootstrap, and devices that are not bound to the service.
	CodeConfig Code = "CONFIG"

	// CodeLeaderLost means no active, fetchable peer holds the version
	// this device needs. Retrying may succeed once a peer recovers.
	CodeLeaderLost Code = "LEADER_LOST"

	// CodeNotInitialized means the local working copy directory does not
	// exist yet; the operator must materialize it first.
	CodeNotInitialized Code = "NOT_INITIALIZED"

	// CodeUnsupported means a non-git repository reached a git-only path.
	CodeUnsupported Code = "UNSUPPORTED"

	// CodeProgrammer marks an API misuse, like completing a write that was
	// never started.
	CodeProgrammer Code = "PROGRAMMER"
)

// Error is a categorized synchronization failure tied to a repository.
type Error struct {
	Code       Code
	Repository string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Repository != "" {
		return fmt.Sprintf("%s: repository %q: %s", e.Code, e.Repository, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, repository, format string, args ...any) *Error {
	return &Error{Code: code, Repository: repository, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, repository string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Repository: repository, Message: fmt.Sprintf(format, args...), Err: err}
}

func codeIs(err error, code Code) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool { return codeIs(err, CodeTransient) }

// IsFrozen reports whether err froze (or found frozen) the repository.
func IsFrozen(err error) bool { return codeIs(err, CodeFrozen) }

// IsConfig reports whether err requires a configuration fix.
func IsConfig(err error) bool { return codeIs(err, CodeConfig) }

// IsLeaderLost reports whether no fetchable leader was available.
func IsLeaderLost(err error) bool { return codeIs(err, CodeLeaderLost) }

// IsNotInitialized reports whether the working copy is missing.
func IsNotInitialized(err error) bool { return codeIs(err, CodeNotInitialized) }

// IsUnsupported reports whether an unsupported repository family was used.
func IsUnsupported(err error) bool { return codeIs(err, CodeUnsupported) }

// IsProgrammer reports whether err marks an API misuse.
func IsProgrammer(err error) bool { return codeIs(err, CodeProgrammer) }
