package kvgate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidIdentity is returned when the identity is empty. No store call
	// is made.
	ErrInvalidIdentity = errors.New("kvgate: invalid identity")

	// ErrInvalidToken is returned by SessionCache.Put for an empty token.
	ErrInvalidToken = errors.New("kvgate: invalid session token")

	// ErrStoreUnavailable wraps every failure talking to the backing store,
	// including timeouts. The underlying error stays in the chain.
	ErrStoreUnavailable = errors.New("kvgate: store unavailable")

	// ErrInvalidConfig is returned for out-of-range settings.
	ErrInvalidConfig = errors.New("kvgate: invalid config")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func checkIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return ErrInvalidIdentity
	}
	return nil
}
