package ports

import (
	"time"

	"callcore/internal/core/domain"
)

// ProceedParams configure the media session once TURN servers are known.
type ProceedParams struct {
	IceServers  []domain.IceServer
	HideIP      bool
	EnableVideo bool
	LocalSink   domain.VideoSink
	RemoteSink  domain.VideoSink
}

// CallEngine is the media engine that negotiates SDP and ICE and moves media.
// Calls are synchronous; a returned error is treated as fatal for the call.
type CallEngine interface {
	Call(peer domain.RemotePeer, mediaType domain.CallMediaType, localDevice domain.DeviceID) error
	Proceed(callID domain.CallID, params ProceedParams) error
	ReceivedOffer(call domain.CallMetadata, offer domain.OfferMetadata, received domain.ReceivedOfferMetadata, messageAge time.Duration, localDevice domain.DeviceID, localIdentityKey []byte) error
	ReceivedAnswer(call domain.CallMetadata, answer domain.AnswerMetadata, received domain.ReceivedAnswerMetadata, localIdentityKey []byte) error
	ReceivedIceCandidates(call domain.CallMetadata, candidates []domain.IceCandidate) error
	ReceivedHangup(call domain.CallMetadata, hangup domain.HangupMetadata) error
	ReceivedBusy(call domain.CallMetadata) error
	AcceptCall(callID domain.CallID) error
	Hangup() error
	Drop(callID domain.CallID) error
	Reset() error
	MessageSent(callID domain.CallID) error
	MessageSendFailure(callID domain.CallID) error
	SetCommunicationMode() error
	SetAudioEnable(enable bool) error
	SetVideoEnable(enable bool) error
	Close() error
}

// EngineObserver receives engine callbacks. Implementations must not block:
// callbacks arrive on the engine's own goroutines.
type EngineObserver interface {
	OnStartCall(key domain.PeerKey, callID domain.CallID, isOutgoing bool, mediaType domain.CallMediaType)
	OnCallEvent(key domain.PeerKey, callID domain.CallID, event domain.CallEvent)
	OnCallConcluded(key domain.PeerKey)
	OnSendOffer(callID domain.CallID, key domain.PeerKey, remoteDevice domain.DeviceID, broadcast bool, offer domain.OfferMetadata)
	OnSendAnswer(callID domain.CallID, key domain.PeerKey, remoteDevice domain.DeviceID, broadcast bool, answer domain.AnswerMetadata)
	OnSendIceCandidates(callID domain.CallID, key domain.PeerKey, remoteDevice domain.DeviceID, broadcast bool, candidates []domain.IceCandidate)
	OnSendHangup(callID domain.CallID, key domain.PeerKey, remoteDevice domain.DeviceID, broadcast bool, hangup domain.HangupMetadata)
	OnSendBusy(callID domain.CallID, key domain.PeerKey, remoteDevice domain.DeviceID, broadcast bool)
}
