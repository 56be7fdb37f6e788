package domain

import (
	"fmt"
	"time"
)

type CallMessageType string

const (
	CallMessageOffer     CallMessageType = "offer"
	CallMessageAnswer    CallMessageType = "answer"
	CallMessageIceUpdate CallMessageType = "ice_update"
	CallMessageHangup    CallMessageType = "hangup"
	CallMessageBusy      CallMessageType = "busy"
)

// CallMessage is the signalling envelope relayed over the messaging transport.
// A zero DestinationDevice addresses every device of the recipient.
type CallMessage struct {
	Type              CallMessageType `json:"type"`
	CallID            CallID          `json:"call_id"`
	DestinationDevice DeviceID        `json:"destination_device,omitempty"`
	MultiRing         bool            `json:"multi_ring,omitempty"`

	Opaque        []byte         `json:"opaque,omitempty"`
	SDP           string         `json:"sdp,omitempty"`
	OfferType     OfferType      `json:"offer_type,omitempty"`
	IceCandidates []IceCandidate `json:"ice_candidates,omitempty"`
	HangupType    HangupType     `json:"hangup_type,omitempty"`
	HangupDevice  DeviceID       `json:"hangup_device,omitempty"`
}

func destination(call CallMetadata, broadcast bool) DeviceID {
	if broadcast {
		return 0
	}
	return call.RemoteDevice
}

func NewOfferMessage(call CallMetadata, offer OfferMetadata, broadcast bool) CallMessage {
	return CallMessage{
		Type:              CallMessageOffer,
		CallID:            call.CallID,
		DestinationDevice: destination(call, broadcast),
		MultiRing:         broadcast,
		Opaque:            offer.Opaque,
		SDP:               offer.SDP,
		OfferType:         offer.OfferType,
	}
}

func NewAnswerMessage(call CallMetadata, answer AnswerMetadata, broadcast bool) CallMessage {
	return CallMessage{
		Type:              CallMessageAnswer,
		CallID:            call.CallID,
		DestinationDevice: destination(call, broadcast),
		MultiRing:         broadcast,
		Opaque:            answer.Opaque,
		SDP:               answer.SDP,
	}
}

func NewIceUpdateMessage(call CallMetadata, candidates []IceCandidate, broadcast bool) CallMessage {
	return CallMessage{
		Type:              CallMessageIceUpdate,
		CallID:            call.CallID,
		DestinationDevice: destination(call, broadcast),
		MultiRing:         broadcast,
		IceCandidates:     candidates,
	}
}

func NewHangupMessage(call CallMetadata, hangup HangupMetadata, broadcast bool) CallMessage {
	return CallMessage{
		Type:              CallMessageHangup,
		CallID:            call.CallID,
		DestinationDevice: destination(call, broadcast),
		MultiRing:         broadcast,
		HangupType:        hangup.Type,
		HangupDevice:      hangup.DeviceID,
	}
}

func NewBusyMessage(call CallMetadata, broadcast bool) CallMessage {
	return CallMessage{
		Type:              CallMessageBusy,
		CallID:            call.CallID,
		DestinationDevice: destination(call, broadcast),
		MultiRing:         broadcast,
	}
}

func (m CallMessage) Validate() error {
	if !m.CallID.IsSet() {
		return fmt.Errorf("%s message without call id", m.Type)
	}
	switch m.Type {
	case CallMessageOffer:
		if len(m.Opaque) == 0 && m.SDP == "" {
			return fmt.Errorf("offer %d carries no session description", m.CallID)
		}
	case CallMessageAnswer:
		if len(m.Opaque) == 0 && m.SDP == "" {
			return fmt.Errorf("answer %d carries no session description", m.CallID)
		}
	case CallMessageIceUpdate:
		if len(m.IceCandidates) == 0 {
			return fmt.Errorf("ice update %d carries no candidates", m.CallID)
		}
	case CallMessageHangup, CallMessageBusy:
	default:
		return fmt.Errorf("unknown call message type %q", m.Type)
	}
	return nil
}

// CallEnvelope is a received call message together with what the transport
// knows about its sender.
type CallEnvelope struct {
	Sender          RecipientID `json:"sender"`
	SenderDevice    DeviceID    `json:"sender_device"`
	IdentityKey     []byte      `json:"identity_key,omitempty"`
	ServerReceived  time.Time   `json:"server_received"`
	ServerDelivered time.Time   `json:"server_delivered"`
	Message         CallMessage `json:"message"`
}
