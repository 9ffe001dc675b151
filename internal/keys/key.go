// Package keys owns the session key lifecycle: fetching a key for a
// session UUID from the backend and holding the single trusted key until
// it expires or is replaced.
package keys

import (
	"errors"
	"time"
)

var (
	// ErrExpiredKey is returned for key material that is already past its
	// expiration time.
	ErrExpiredKey = errors.New("key already expired")

	// ErrTransientFetch marks a fetch failure that is retried: a 5xx
	// response or a network error.
	ErrTransientFetch = errors.New("transient key fetch failure")

	// ErrTerminalFetch marks a fetch failure that abandons the session:
	// any other non-2xx response or a malformed success payload.
	ErrTerminalFetch = errors.New("terminal key fetch failure")
)

// KeyData is a backend-issued public key bound to one session.
type KeyData struct {
	PublicKey      string
	ExpirationTime time.Time
	UUID           string
}

// ExpiredAt reports whether the key is no longer valid at now.
func (k KeyData) ExpiredAt(now time.Time) bool {
	return !now.Before(k.ExpirationTime)
}
