package signal

import (
	"errors"
	"fmt"

	"callcore/internal/core/domain"
	"callcore/pkg/validation"
)

// FrameType names the frames exchanged between a device and the relay.
type FrameType string

const (
	// FrameRegister announces the device identity key. Sent once per connection.
	FrameRegister FrameType = "register"
	FrameSend     FrameType = "send"
	FrameAck      FrameType = "ack"
	FrameDeliver  FrameType = "deliver"
)

// AckError is the reason the relay refused a frame. Empty means accepted.
type AckError string

const (
	AckUnregisteredUser  AckError = "unregistered_user"
	AckUntrustedIdentity AckError = "untrusted_identity"
	AckInvalidFrame      AckError = "invalid_frame"
	AckRateLimited       AckError = "rate_limited"
	AckNotRegistered     AckError = "not_registered"
	AckInternal          AckError = "internal"
)

var (
	ErrNotConnected   = errors.New("signal: not connected")
	ErrConnectionLost = errors.New("signal: connection lost before ack")
	ErrRelayRejected  = errors.New("signal: relay rejected message")
)

// Frame is the JSON unit on the relay websocket. On a send frame IdentityKey
// is the key the sender trusts for the recipient; on an ack it is the key the
// recipient is registered with.
type Frame struct {
	Type        FrameType            `json:"type"`
	ID          string               `json:"id,omitempty"`
	Recipient   domain.RecipientID   `json:"recipient,omitempty"`
	IdentityKey []byte               `json:"identity_key,omitempty"`
	Message     *domain.CallMessage  `json:"message,omitempty"`
	Envelope    *domain.CallEnvelope `json:"envelope,omitempty"`
	Error       AckError             `json:"error,omitempty"`
}

func (f Frame) Validate() error {
	switch f.Type {
	case FrameRegister:
		if f.ID == "" {
			return fmt.Errorf("register frame without id")
		}
		return validation.ValidateIdentityKey(f.IdentityKey)
	case FrameSend:
		if f.ID == "" {
			return fmt.Errorf("send frame without id")
		}
		if err := validation.ValidateRecipientID(string(f.Recipient)); err != nil {
			return err
		}
		if f.Message == nil {
			return fmt.Errorf("send frame without message")
		}
		return f.Message.Validate()
	case FrameAck:
		if f.ID == "" {
			return fmt.Errorf("ack frame without id")
		}
	case FrameDeliver:
		if f.Envelope == nil {
			return fmt.Errorf("deliver frame without envelope")
		}
		return f.Envelope.Message.Validate()
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
	return nil
}

func ackFor(id string, err AckError) Frame {
	return Frame{Type: FrameAck, ID: id, Error: err}
}
