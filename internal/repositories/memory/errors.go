package memory

import "fmt"

// Error implements repositories.RepositoryError for the in-memory backend so
// services observe the same failure categories as with Firestore.
type Error struct {
	op          string
	message     string
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %s", e.op, e.message)
	}
	return e.message
}

// IsNotFound reports whether the error represents a missing record.
func (e *Error) IsNotFound() bool {
	return e != nil && e.notFound
}

// IsConflict reports whether the error represents a conflicting write.
func (e *Error) IsConflict() bool {
	return e != nil && e.conflict
}

// IsUnavailable reports whether the error represents a backend outage.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.unavailable
}

func notFoundError(op, message string) *Error {
	return &Error{op: op, message: message, notFound: true}
}

func conflictError(op, message string) *Error {
	return &Error{op: op, message: message, conflict: true}
}
