package services

import (
	"callcore/internal/core/domain"
	"callcore/internal/core/state"

	"go.uber.org/zap"
)

// baseProcessor is embedded by every processor. Its handlers either carry the
// behaviour shared by all phases or log that the action does not apply.
type baseProcessor struct {
	name       string
	logger     *zap.SugaredLogger
	interactor *WebRtcInteractor
	processors processorTable
}

func (b *baseProcessor) Name() string { return b.name }

func (b *baseProcessor) notProcessed(s *state.ServiceState, handler string) *state.ServiceState {
	b.logger.Debugw("action not processed", "handler", handler, "phase", s.Phase().String())
	return s
}

// current is the processor for the phase s is in, which is not necessarily b.
func (b *baseProcessor) current(s *state.ServiceState) ActionProcessor {
	return b.processors.forPhase(s.Phase())
}

func (b *baseProcessor) HandleIsInCallQuery(s *state.ServiceState, reply func(bool)) *state.ServiceState {
	if reply != nil {
		reply(false)
	}
	return s
}

func (b *baseProcessor) HandleOutgoingCall(s *state.ServiceState, _ domain.RemotePeer, _ domain.OfferType) *state.ServiceState {
	return b.notProcessed(s, "HandleOutgoingCall")
}

func (b *baseProcessor) HandleStartOutgoingCall(s *state.ServiceState, _ domain.RemotePeer) *state.ServiceState {
	return b.notProcessed(s, "HandleStartOutgoingCall")
}

func (b *baseProcessor) HandleSendOffer(s *state.ServiceState, call domain.CallMetadata, offer domain.OfferMetadata, broadcast bool) *state.ServiceState {
	b.logger.Infow("sending offer", "call", call.String(), "offer_type", offer.OfferType, "broadcast", broadcast)
	b.interactor.SendCallMessage(s, call.Peer, domain.NewOfferMessage(call, offer, broadcast))
	return s
}

func (b *baseProcessor) HandleRemoteRinging(s *state.ServiceState, _ domain.RemotePeer) *state.ServiceState {
	return b.notProcessed(s, "HandleRemoteRinging")
}

func (b *baseProcessor) HandleReceivedAnswer(s *state.ServiceState, _ domain.CallMetadata, _ domain.AnswerMetadata, _ domain.ReceivedAnswerMetadata) *state.ServiceState {
	return b.notProcessed(s, "HandleReceivedAnswer")
}

func (b *baseProcessor) HandleReceivedBusy(s *state.ServiceState, _ domain.CallMetadata) *state.ServiceState {
	return b.notProcessed(s, "HandleReceivedBusy")
}

// HandleReceivedOffer runs in every phase: the engine decides whether the
// offer starts a call, collides with ours or has to be answered busy.
func (b *baseProcessor) HandleReceivedOffer(s *state.ServiceState, call domain.CallMetadata, offer domain.OfferMetadata, received domain.ReceivedOfferMetadata) *state.ServiceState {
	ia := b.interactor
	peer := call.Peer
	isVideo := offer.OfferType == domain.OfferTypeVideo
	b.logger.Infow("received offer", "call", call.String(), "offer_type", offer.OfferType, "recipient", peer.Recipient)

	if ia.IsAnyPstnLineBusy() {
		b.logger.Infow("pstn line busy, answering busy", "call", call.String())
		s = b.current(s).HandleSendBusy(s, call, true)
		ia.InsertMissedCall(peer, false, received.ServerReceivedTimestamp, isVideo)
		return s
	}

	if !ia.IsCallRequestAccepted(peer.Recipient) {
		b.logger.Infow("call request not accepted, asking for permission", "call", call.String())
		hangup := domain.HangupMetadata{Type: domain.HangupNeedPermission, DeviceID: ia.LocalDevice()}
		ia.SendCallMessage(s, peer, domain.NewHangupMessage(call, hangup, true))
		ia.InsertMissedCall(peer, true, received.ServerReceivedTimestamp, isVideo)
		return s
	}

	peer = peer.WithCallStartTimestamp(received.ServerReceivedTimestamp)
	call.Peer = peer

	builder := s.Builder()
	if !s.CallInfo().HasActivePeer() {
		builder = builder.ChangeCallSetupState().IsRemoteVideoOffer(isVideo).Commit()
	}
	s = builder.ChangeCallInfoState().PutRemotePeer(peer).Build()

	err := ia.CallEngine().ReceivedOffer(call, offer, received, received.MessageAge(), ia.LocalDevice(), ia.LocalIdentityKey())
	if err != nil {
		return b.CallFailure(s, "unable to process received offer", err)
	}
	return s
}

func (b *baseProcessor) HandleReceivedOfferExpired(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	b.logger.Infow("received offer expired", "peer", peer.String())
	b.interactor.InsertMissedCall(peer, true, peer.CallStartTimestamp, s.CallSetup().IsRemoteVideoOffer())
	return b.Terminate(s, peer)
}

func (b *baseProcessor) HandleStartIncomingCall(s *state.ServiceState, _ domain.RemotePeer) *state.ServiceState {
	return b.notProcessed(s, "HandleStartIncomingCall")
}

func (b *baseProcessor) HandleAcceptCall(s *state.ServiceState, _ bool) *state.ServiceState {
	return b.notProcessed(s, "HandleAcceptCall")
}

func (b *baseProcessor) HandleDenyCall(s *state.ServiceState) *state.ServiceState {
	return b.notProcessed(s, "HandleDenyCall")
}

func (b *baseProcessor) HandleLocalRinging(s *state.ServiceState, _ domain.RemotePeer) *state.ServiceState {
	return b.notProcessed(s, "HandleLocalRinging")
}

func (b *baseProcessor) HandleSendAnswer(s *state.ServiceState, call domain.CallMetadata, answer domain.AnswerMetadata, broadcast bool) *state.ServiceState {
	b.logger.Infow("sending answer", "call", call.String(), "broadcast", broadcast)
	b.interactor.SendCallMessage(s, call.Peer, domain.NewAnswerMessage(call, answer, broadcast))
	return s
}

func (b *baseProcessor) HandleCallConnected(s *state.ServiceState, _ domain.RemotePeer) *state.ServiceState {
	return b.notProcessed(s, "HandleCallConnected")
}

func (b *baseProcessor) HandleCallReconnect(s *state.ServiceState, _ domain.CallEvent) *state.ServiceState {
	return b.notProcessed(s, "HandleCallReconnect")
}

func (b *baseProcessor) HandleReceivedOfferWhileActive(s *state.ServiceState, _ domain.RemotePeer) *state.ServiceState {
	return b.notProcessed(s, "HandleReceivedOfferWhileActive")
}

func (b *baseProcessor) HandleSendBusy(s *state.ServiceState, call domain.CallMetadata, broadcast bool) *state.ServiceState {
	b.logger.Infow("sending busy", "call", call.String(), "broadcast", broadcast)
	b.interactor.SendCallMessage(s, call.Peer, domain.NewBusyMessage(call, broadcast))
	return s
}

func (b *baseProcessor) HandleCallConcluded(s *state.ServiceState, _ domain.PeerKey) *state.ServiceState {
	return b.notProcessed(s, "HandleCallConcluded")
}

func (b *baseProcessor) HandleRemoteVideoEnable(s *state.ServiceState, _ bool) *state.ServiceState {
	return b.notProcessed(s, "HandleRemoteVideoEnable")
}

func (b *baseProcessor) HandleReceivedHangup(s *state.ServiceState, call domain.CallMetadata, hangup domain.HangupMetadata) *state.ServiceState {
	b.logger.Infow("received hangup", "call", call.String(), "hangup_type", hangup.Type)
	if err := b.interactor.CallEngine().ReceivedHangup(call, hangup); err != nil {
		return b.CallFailure(s, "receivedHangup failed", err)
	}
	return s
}

func (b *baseProcessor) HandleLocalHangup(s *state.ServiceState) *state.ServiceState {
	return b.notProcessed(s, "HandleLocalHangup")
}

func (b *baseProcessor) HandleSendHangup(s *state.ServiceState, call domain.CallMetadata, hangup domain.HangupMetadata, broadcast bool) *state.ServiceState {
	b.logger.Infow("sending hangup", "call", call.String(), "hangup_type", hangup.Type, "broadcast", broadcast)
	b.interactor.SendCallMessage(s, call.Peer, domain.NewHangupMessage(call, hangup, broadcast))
	return s
}

func (b *baseProcessor) HandleMessageSentSuccess(s *state.ServiceState, callID domain.CallID) *state.ServiceState {
	if err := b.interactor.CallEngine().MessageSent(callID); err != nil {
		return b.CallFailure(s, "messageSent failed", err)
	}
	return s
}

func (b *baseProcessor) HandleMessageSentError(s *state.ServiceState, callID domain.CallID, errorState domain.CallState, identityKey []byte) *state.ServiceState {
	b.logger.Warnw("call message send failed", "call_id", callID, "error_state", errorState.String())

	if err := b.interactor.CallEngine().MessageSendFailure(callID); err != nil {
		return b.CallFailure(s, "messageSendFailure failed", err)
	}

	active, ok := s.CallInfo().ActivePeer()
	if !ok {
		return s
	}

	info := s.Builder().ChangeCallInfoState().CallState(errorState)
	if errorState == domain.CallStateUntrustedIdentity && len(identityKey) > 0 {
		participant, found := s.CallInfo().RemoteParticipant(active.Recipient)
		if !found {
			participant = domain.NewRemoteParticipant(active.Recipient, s.Video().RemoteSink(), false, true)
		}
		info = info.PutParticipant(participant.WithIdentityKey(identityKey))
	}
	return info.Build()
}

func (b *baseProcessor) HandleSendIceCandidates(s *state.ServiceState, call domain.CallMetadata, broadcast bool, candidates []domain.IceCandidate) *state.ServiceState {
	b.logger.Debugw("sending ice candidates", "call", call.String(), "count", len(candidates), "broadcast", broadcast)
	b.interactor.SendCallMessage(s, call.Peer, domain.NewIceUpdateMessage(call, candidates, broadcast))
	return s
}

func (b *baseProcessor) HandleReceivedIceCandidates(s *state.ServiceState, call domain.CallMetadata, candidates []domain.IceCandidate) *state.ServiceState {
	b.logger.Debugw("received ice candidates", "call", call.String(), "count", len(candidates))
	if err := b.interactor.CallEngine().ReceivedIceCandidates(call, candidates); err != nil {
		return b.CallFailure(s, "receivedIceCandidates failed", err)
	}
	return s
}

func (b *baseProcessor) HandleTurnServerUpdate(s *state.ServiceState, _ []domain.IceServer, _ bool) *state.ServiceState {
	return b.notProcessed(s, "HandleTurnServerUpdate")
}

func (b *baseProcessor) HandleSetEnableVideo(s *state.ServiceState, _ bool) *state.ServiceState {
	return b.notProcessed(s, "HandleSetEnableVideo")
}

func (b *baseProcessor) HandleSetMuteAudio(s *state.ServiceState, _ bool) *state.ServiceState {
	return b.notProcessed(s, "HandleSetMuteAudio")
}

func (b *baseProcessor) HandleSetSpeakerAudio(s *state.ServiceState, _ bool) *state.ServiceState {
	return b.notProcessed(s, "HandleSetSpeakerAudio")
}

func (b *baseProcessor) HandleSetBluetoothAudio(s *state.ServiceState, _ bool) *state.ServiceState {
	return b.notProcessed(s, "HandleSetBluetoothAudio")
}

func (b *baseProcessor) HandleSetCameraFlip(s *state.ServiceState) *state.ServiceState {
	return b.notProcessed(s, "HandleSetCameraFlip")
}

func (b *baseProcessor) HandleScreenOffChange(s *state.ServiceState) *state.ServiceState {
	return b.notProcessed(s, "HandleScreenOffChange")
}

func (b *baseProcessor) HandleBluetoothChange(s *state.ServiceState, available bool) *state.ServiceState {
	return s.Builder().ChangeLocalDeviceState().IsBluetoothAvailable(available).Build()
}

func (b *baseProcessor) HandleWiredHeadsetChange(s *state.ServiceState, _ bool) *state.ServiceState {
	return b.notProcessed(s, "HandleWiredHeadsetChange")
}

func (b *baseProcessor) HandleCameraSwitchCompleted(s *state.ServiceState, cameraState domain.CameraState) *state.ServiceState {
	return s.Builder().ChangeLocalDeviceState().CameraState(cameraState).Build()
}

func (b *baseProcessor) HandleNetworkChanged(s *state.ServiceState, available bool) *state.ServiceState {
	return s.Builder().ChangeLocalDeviceState().IsNetworkAvailable(available).Build()
}

func (b *baseProcessor) HandleEndedRemote(s *state.ServiceState, _ domain.CallEvent, _ domain.RemotePeer) *state.ServiceState {
	return b.notProcessed(s, "HandleEndedRemote")
}

func (b *baseProcessor) HandleEnded(s *state.ServiceState, _ domain.CallEvent, _ domain.RemotePeer) *state.ServiceState {
	return b.notProcessed(s, "HandleEnded")
}

func (b *baseProcessor) HandleSetupFailure(s *state.ServiceState, _ domain.CallID) *state.ServiceState {
	return b.notProcessed(s, "HandleSetupFailure")
}

func (b *baseProcessor) CallFailure(s *state.ServiceState, message string, err error) *state.ServiceState {
	b.logger.Errorw(message, "error", err, "phase", s.Phase().String())
	ia := b.interactor

	active, hasActive := s.CallInfo().ActivePeer()
	if hasActive {
		s = s.Builder().ChangeCallInfoState().CallState(domain.CallStateDisconnected).Build()
		ia.PostStateUpdate(s)
	}

	if resetErr := ia.CallEngine().Reset(); resetErr != nil {
		b.logger.Errorw("unable to reset call engine", "error", resetErr)
	}

	s = s.Builder().ChangeCallInfoState().ClearPeerMap().Build()

	if !hasActive {
		// Nothing to terminate, but a call being set up still owns video and a phase.
		if s.Phase() == state.PhaseIdle {
			return s
		}
		s = deinitializeVideo(s, ia)
		return s.Builder().Phase(state.PhaseIdle).Terminate().Build()
	}
	return b.Terminate(s, active)
}

func (b *baseProcessor) Terminate(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	active, ok := s.CallInfo().ActivePeer()
	if !ok {
		b.logger.Infow("no active peer to terminate", "peer", peer.String())
		return s
	}
	if !active.CallIDEquals(&peer) {
		b.logger.Infow("peer is not the active peer, not terminating", "peer", peer.String(), "active", active.String())
		return s
	}

	b.logger.Infow("terminating call", "peer", active.String(), "call_state", s.CallInfo().CallState().String())
	ia := b.interactor

	ia.RemoveAppForegroundListener()
	ia.UpdatePhoneState(domain.PhoneStateProcessing)
	ia.StopAudio(active.PlaysDisconnectTone())
	ia.SetWantsBluetoothConnection(false)
	ia.UpdatePhoneState(domain.PhoneStateIdle)
	ia.StopForegroundService()

	s = deinitializeVideo(s, ia)

	next := state.PhaseIdle
	if s.CallInfo().CallState() == domain.CallStateDisconnected {
		next = state.PhaseDisconnecting
	}
	return s.Builder().Phase(next).Terminate().Build()
}
