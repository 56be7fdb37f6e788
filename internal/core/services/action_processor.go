package services

import (
	"callcore/internal/core/domain"
	"callcore/internal/core/state"

	"go.uber.org/zap"
)

// ActionProcessor handles call lifecycle actions for one phase of a call.
// Every handler returns the next state; returning the given state unchanged
// means the action did not apply.
type ActionProcessor interface {
	Name() string

	HandleIsInCallQuery(s *state.ServiceState, reply func(inCall bool)) *state.ServiceState

	HandleOutgoingCall(s *state.ServiceState, peer domain.RemotePeer, offerType domain.OfferType) *state.ServiceState
	HandleStartOutgoingCall(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState
	HandleSendOffer(s *state.ServiceState, call domain.CallMetadata, offer domain.OfferMetadata, broadcast bool) *state.ServiceState
	HandleRemoteRinging(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState
	HandleReceivedAnswer(s *state.ServiceState, call domain.CallMetadata, answer domain.AnswerMetadata, received domain.ReceivedAnswerMetadata) *state.ServiceState
	HandleReceivedBusy(s *state.ServiceState, call domain.CallMetadata) *state.ServiceState

	HandleReceivedOffer(s *state.ServiceState, call domain.CallMetadata, offer domain.OfferMetadata, received domain.ReceivedOfferMetadata) *state.ServiceState
	HandleReceivedOfferExpired(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState
	HandleStartIncomingCall(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState
	HandleAcceptCall(s *state.ServiceState, answerWithVideo bool) *state.ServiceState
	HandleDenyCall(s *state.ServiceState) *state.ServiceState
	HandleLocalRinging(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState
	HandleSendAnswer(s *state.ServiceState, call domain.CallMetadata, answer domain.AnswerMetadata, broadcast bool) *state.ServiceState

	HandleCallConnected(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState
	HandleCallReconnect(s *state.ServiceState, event domain.CallEvent) *state.ServiceState
	HandleReceivedOfferWhileActive(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState
	HandleSendBusy(s *state.ServiceState, call domain.CallMetadata, broadcast bool) *state.ServiceState
	HandleCallConcluded(s *state.ServiceState, key domain.PeerKey) *state.ServiceState
	HandleRemoteVideoEnable(s *state.ServiceState, enable bool) *state.ServiceState
	HandleReceivedHangup(s *state.ServiceState, call domain.CallMetadata, hangup domain.HangupMetadata) *state.ServiceState
	HandleLocalHangup(s *state.ServiceState) *state.ServiceState
	HandleSendHangup(s *state.ServiceState, call domain.CallMetadata, hangup domain.HangupMetadata, broadcast bool) *state.ServiceState
	HandleMessageSentSuccess(s *state.ServiceState, callID domain.CallID) *state.ServiceState
	HandleMessageSentError(s *state.ServiceState, callID domain.CallID, errorState domain.CallState, identityKey []byte) *state.ServiceState

	HandleSendIceCandidates(s *state.ServiceState, call domain.CallMetadata, broadcast bool, candidates []domain.IceCandidate) *state.ServiceState
	HandleReceivedIceCandidates(s *state.ServiceState, call domain.CallMetadata, candidates []domain.IceCandidate) *state.ServiceState
	HandleTurnServerUpdate(s *state.ServiceState, iceServers []domain.IceServer, alwaysTurn bool) *state.ServiceState

	HandleSetEnableVideo(s *state.ServiceState, enable bool) *state.ServiceState
	HandleSetMuteAudio(s *state.ServiceState, muted bool) *state.ServiceState
	HandleSetSpeakerAudio(s *state.ServiceState, speaker bool) *state.ServiceState
	HandleSetBluetoothAudio(s *state.ServiceState, bluetooth bool) *state.ServiceState
	HandleSetCameraFlip(s *state.ServiceState) *state.ServiceState
	HandleScreenOffChange(s *state.ServiceState) *state.ServiceState
	HandleBluetoothChange(s *state.ServiceState, available bool) *state.ServiceState
	HandleWiredHeadsetChange(s *state.ServiceState, present bool) *state.ServiceState
	HandleCameraSwitchCompleted(s *state.ServiceState, cameraState domain.CameraState) *state.ServiceState
	HandleNetworkChanged(s *state.ServiceState, available bool) *state.ServiceState

	HandleEndedRemote(s *state.ServiceState, event domain.CallEvent, peer domain.RemotePeer) *state.ServiceState
	HandleEnded(s *state.ServiceState, event domain.CallEvent, peer domain.RemotePeer) *state.ServiceState
	HandleSetupFailure(s *state.ServiceState, callID domain.CallID) *state.ServiceState

	// CallFailure resets the engine and terminates the active call.
	CallFailure(s *state.ServiceState, message string, err error) *state.ServiceState
	// Terminate tears down the call of peer if it is the active peer.
	Terminate(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState
}

// processorTable maps each phase to the processor that handles it.
type processorTable map[state.Phase]ActionProcessor

func (t processorTable) forPhase(p state.Phase) ActionProcessor {
	if proc, ok := t[p]; ok {
		return proc
	}
	return t[state.PhaseIdle]
}

func newProcessorTable(ia *WebRtcInteractor, logger *zap.SugaredLogger) processorTable {
	table := processorTable{}
	base := func(name string) *baseProcessor {
		return &baseProcessor{
			name:       name,
			logger:     logger.With("processor", name),
			interactor: ia,
			processors: table,
		}
	}

	table[state.PhaseIdle] = newIdleProcessor(base("idle"))
	table[state.PhaseOutgoing] = newOutgoingProcessor(base("outgoing"))
	table[state.PhaseIncoming] = newIncomingProcessor(base("incoming"))
	table[state.PhaseConnected] = newConnectedProcessor(base("connected"))
	table[state.PhaseDisconnecting] = newDisconnectingProcessor(base("disconnecting"))
	return table
}
