package domain

import (
	"fmt"
	"time"
)

// OfferType is the media requested by an offer on the wire.
type OfferType string

const (
	OfferTypeAudio OfferType = "audio_call"
	OfferTypeVideo OfferType = "video_call"
)

func ParseOfferType(s string) (OfferType, error) {
	switch OfferType(s) {
	case OfferTypeAudio, OfferTypeVideo:
		return OfferType(s), nil
	case "audio":
		return OfferTypeAudio, nil
	case "video":
		return OfferTypeVideo, nil
	default:
		return "", fmt.Errorf("unknown offer type %q", s)
	}
}

// CallMediaType is the media type understood by the call engine.
type CallMediaType int

const (
	CallMediaTypeAudio CallMediaType = iota
	CallMediaTypeVideo
)

func (t CallMediaType) String() string {
	if t == CallMediaTypeVideo {
		return "video"
	}
	return "audio"
}

// HangupType says why the remote side hung up.
type HangupType string

const (
	HangupNormal         HangupType = "normal"
	HangupAccepted       HangupType = "accepted"
	HangupDeclined       HangupType = "declined"
	HangupBusy           HangupType = "busy"
	HangupNeedPermission HangupType = "need_permission"
)

// CallMetadata identifies a call on a specific remote device.
type CallMetadata struct {
	Peer         RemotePeer
	CallID       CallID
	RemoteDevice DeviceID
}

func NewCallMetadata(peer RemotePeer, remoteDevice DeviceID) CallMetadata {
	return CallMetadata{Peer: peer, CallID: peer.CallID, RemoteDevice: remoteDevice}
}

func (m CallMetadata) String() string {
	return m.CallID.Format(m.RemoteDevice)
}

type OfferMetadata struct {
	Opaque    []byte
	SDP       string
	OfferType OfferType
}

type AnswerMetadata struct {
	Opaque []byte
	SDP    string
}

type ReceivedOfferMetadata struct {
	RemoteIdentityKey        []byte
	ServerReceivedTimestamp  time.Time
	ServerDeliveredTimestamp time.Time
	IsMultiRing              bool
}

// MessageAge is how long the offer sat on the server before delivery.
func (m ReceivedOfferMetadata) MessageAge() time.Duration {
	if m.ServerReceivedTimestamp.IsZero() || m.ServerDeliveredTimestamp.IsZero() {
		return 0
	}
	age := m.ServerDeliveredTimestamp.Sub(m.ServerReceivedTimestamp)
	if age < 0 {
		return 0
	}
	return age
}

type ReceivedAnswerMetadata struct {
	RemoteIdentityKey []byte
	IsMultiRing       bool
}

type HangupMetadata struct {
	Type     HangupType
	DeviceID DeviceID
}
