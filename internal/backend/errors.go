package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Error is a failed backend call.
type Error struct {
	Op     string // e.g. "push branch"
	Status int    // HTTP status, 0 for transport failures
	Detail string // server-supplied error/message text, if any
	Err    error  // transport or decode error, if any
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "":
		return e.Op + ": " + e.Detail
	case e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Status != 0:
		return fmt.Sprintf("%s failed (HTTP %d)", e.Op, e.Status)
	default:
		return e.Op + " failed"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Detail returns the human-readable text to show for err: the server's own
// message when it sent one, then the underlying error text, then fallback.
func Detail(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	var be *Error
	if errors.As(err, &be) {
		switch {
		case be.Detail != "":
			return be.Detail
		case be.Err != nil:
			return be.Err.Error()
		}
		return fallback
	}
	if s := strings.TrimSpace(err.Error()); s != "" {
		return s
	}
	return fallback
}
