package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoActivePeer      = errors.New("no active peer")
	ErrPeerNotFound      = errors.New("remote peer not found")
	ErrCallNotFound      = errors.New("call not found")
	ErrUnregisteredUser  = errors.New("recipient is not registered")
	ErrRecipientBlocked  = errors.New("recipient is blocked")
	ErrCallEngine        = errors.New("call engine failure")
	ErrManagerStopped    = errors.New("call manager stopped")
	ErrCameraUnavailable = errors.New("camera unavailable")
)

// UntrustedIdentityError reports that the recipient's identity key changed
// since it was last trusted.
type UntrustedIdentityError struct {
	Recipient   RecipientID
	IdentityKey []byte
}

func (e *UntrustedIdentityError) Error() string {
	return fmt.Sprintf("untrusted identity for %s", e.Recipient)
}

// EngineError wraps a failure returned by the call engine.
func EngineError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCallEngine, op, err)
}
