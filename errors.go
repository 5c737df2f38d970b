package ipc

import (
	"errors"
	"fmt"
)

// Error taxonomy (§7 of SPEC_FULL.md). All are sentinel errors usable with
// errors.Is; wrapping adds context without hiding the sentinel.
var (
	// ErrBadMagic is returned by Open when the backing file exists but its
	// Magic field is neither zero nor the expected constant.
	ErrBadMagic = errors.New("mmapipc: bad magic")

	// ErrInUse is returned by Open when both OPA and OPB are already
	// claimed.
	ErrInUse = errors.New("mmapipc: file in use")

	// ErrTimeout is returned by Send/Recv when a blocking call with a
	// non-nil timeout exceeds its deadline.
	ErrTimeout = errors.New("mmapipc: timeout")

	// ErrClosed is returned by Send/Recv on an endpoint that has already
	// been closed. A repeated Close is a no-op and does not return it.
	ErrClosed = errors.New("mmapipc: endpoint closed")
)

// badMagicError formats ErrBadMagic with the four corrupted bytes in file
// order, per the spec's error-message contract (§8 "Corrupting Magic...").
func badMagicError(raw [4]byte) error {
	return fmt.Errorf("%w: %v", ErrBadMagic, raw)
}
