package executor

import "fmt"

// Kind partitions user-facing failures. The messages deliberately say
// nothing about credentials or proxy internals.
type Kind int

const (
	// KindProxyUnavailable: the token proxy could not be reached.
	KindProxyUnavailable Kind = iota
	// KindTransport: the provider or the network failed.
	KindTransport
	// KindInvalid: the request itself was rejected.
	KindInvalid
	// KindExhausted: every permitted attempt failed on credentials.
	KindExhausted
)

// Error is the single user-visible failure of a call. Unwrap exposes the
// underlying classified error for logs; Error() is safe to show verbatim.
type Error struct {
	Kind     Kind
	Attempts int
	Detail   string // only set for KindInvalid
	cause    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalid:
		if e.Detail != "" {
			return "request invalid: " + e.Detail
		}
		return "request invalid"
	case KindExhausted:
		return fmt.Sprintf("generation failed after %d attempts, please try again later", e.Attempts)
	default:
		return "service temporarily unavailable, please retry"
	}
}

func (e *Error) Unwrap() error { return e.cause }
