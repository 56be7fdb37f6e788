package services

import (
	"callcore/internal/core/domain"
	"callcore/internal/core/state"
)

// The methods in this file implement ports.EngineObserver. They run on engine
// goroutines and only enqueue actions.

func (m *CallManager) OnStartCall(key domain.PeerKey, callID domain.CallID, isOutgoing bool, mediaType domain.CallMediaType) {
	m.process("start_call", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		peer, ok := s.CallInfo().Peer(key)
		if !ok {
			m.logger.Warnw("start call for unknown peer, dropping", "peer_key", key, "call_id", callID)
			if err := m.engine.Drop(callID); err != nil {
				return p.CallFailure(s, "drop failed", err)
			}
			return s
		}

		m.logger.Infow("engine started call", "peer", peer.String(), "call_id", callID, "outgoing", isOutgoing, "media_type", mediaType.String())
		if peer.CallID != callID {
			peer = peer.WithCallID(callID)
			s = s.Builder().ChangeCallInfoState().PutRemotePeer(peer).Build()
		}
		if isOutgoing {
			return p.HandleStartOutgoingCall(s, peer)
		}
		// The offer may have won glare while our outgoing call was still
		// active, in which case its media type was not recorded on receipt.
		if !s.CallInfo().HasActivePeer() {
			s = s.Builder().ChangeCallSetupState().IsRemoteVideoOffer(mediaType == domain.CallMediaTypeVideo).Build()
		}
		return p.HandleStartIncomingCall(s, peer)
	})
}

func (m *CallManager) OnCallEvent(key domain.PeerKey, callID domain.CallID, event domain.CallEvent) {
	m.process("call_event", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		peer, ok := s.CallInfo().Peer(key)
		if !ok {
			m.logger.Warnw("call event for unknown peer, dropping", "peer_key", key, "call_id", callID, "event", event.String())
			if err := m.engine.Drop(callID); err != nil {
				return p.CallFailure(s, "drop failed", err)
			}
			return s
		}
		m.logger.Infow("call event", "peer", peer.String(), "event", event.String())

		switch event {
		case domain.CallEventLocalRinging:
			return p.HandleLocalRinging(s, peer)
		case domain.CallEventRemoteRinging:
			return p.HandleRemoteRinging(s, peer)
		case domain.CallEventReconnecting, domain.CallEventReconnected:
			return p.HandleCallReconnect(s, event)
		case domain.CallEventLocalConnected, domain.CallEventRemoteConnected:
			return p.HandleCallConnected(s, peer)
		case domain.CallEventRemoteVideoEnable:
			return p.HandleRemoteVideoEnable(s, true)
		case domain.CallEventRemoteVideoDisable:
			return p.HandleRemoteVideoEnable(s, false)
		case domain.CallEventEndedRemoteHangup,
			domain.CallEventEndedRemoteHangupNeedPermission,
			domain.CallEventEndedRemoteHangupAccepted,
			domain.CallEventEndedRemoteHangupDeclined,
			domain.CallEventEndedRemoteHangupBusy,
			domain.CallEventEndedRemoteBusy,
			domain.CallEventEndedRemoteGlare:
			return p.HandleEndedRemote(s, event, peer)
		case domain.CallEventEndedTimeout,
			domain.CallEventEndedInternalFailure,
			domain.CallEventEndedSignalingFailure,
			domain.CallEventEndedConnectionFailure:
			return p.HandleEnded(s, event, peer)
		case domain.CallEventEndedReceivedOfferExpired:
			return p.HandleReceivedOfferExpired(s, peer)
		case domain.CallEventEndedReceivedOfferWhileActive,
			domain.CallEventEndedReceivedOfferWithGlare:
			return p.HandleReceivedOfferWhileActive(s, peer)
		case domain.CallEventEndedLocalHangup, domain.CallEventEndedAppDroppedCall:
			m.logger.Debugw("unhandled call event", "event", event.String())
			return s
		default:
			m.logger.Warnw("unknown call event", "event", event.String())
			return s
		}
	})
}

func (m *CallManager) OnCallConcluded(key domain.PeerKey) {
	m.process("call_concluded", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleCallConcluded(s, key)
	})
}

// withPeer runs fn for the peer filed under key, or drops the engine call if
// the peer has already been cleaned up.
func (m *CallManager) withPeer(name string, key domain.PeerKey, callID domain.CallID, fn func(s *state.ServiceState, p ActionProcessor, peer domain.RemotePeer) *state.ServiceState) {
	m.process(name, func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		peer, ok := s.CallInfo().Peer(key)
		if !ok {
			m.logger.Warnw("engine request for unknown peer, dropping", "action", name, "peer_key", key, "call_id", callID)
			if err := m.engine.Drop(callID); err != nil {
				return p.CallFailure(s, "drop failed", err)
			}
			return s
		}
		return fn(s, p, peer)
	})
}

func (m *CallManager) OnSendOffer(callID domain.CallID, key domain.PeerKey, remoteDevice domain.DeviceID, broadcast bool, offer domain.OfferMetadata) {
	m.withPeer("send_offer", key, callID, func(s *state.ServiceState, p ActionProcessor, peer domain.RemotePeer) *state.ServiceState {
		call := domain.CallMetadata{Peer: peer, CallID: callID, RemoteDevice: remoteDevice}
		return p.HandleSendOffer(s, call, offer, broadcast)
	})
}

func (m *CallManager) OnSendAnswer(callID domain.CallID, key domain.PeerKey, remoteDevice domain.DeviceID, broadcast bool, answer domain.AnswerMetadata) {
	m.withPeer("send_answer", key, callID, func(s *state.ServiceState, p ActionProcessor, peer domain.RemotePeer) *state.ServiceState {
		call := domain.CallMetadata{Peer: peer, CallID: callID, RemoteDevice: remoteDevice}
		return p.HandleSendAnswer(s, call, answer, broadcast)
	})
}

func (m *CallManager) OnSendIceCandidates(callID domain.CallID, key domain.PeerKey, remoteDevice domain.DeviceID, broadcast bool, candidates []domain.IceCandidate) {
	m.withPeer("send_ice_candidates", key, callID, func(s *state.ServiceState, p ActionProcessor, peer domain.RemotePeer) *state.ServiceState {
		call := domain.CallMetadata{Peer: peer, CallID: callID, RemoteDevice: remoteDevice}
		return p.HandleSendIceCandidates(s, call, broadcast, candidates)
	})
}

func (m *CallManager) OnSendHangup(callID domain.CallID, key domain.PeerKey, remoteDevice domain.DeviceID, broadcast bool, hangup domain.HangupMetadata) {
	m.withPeer("send_hangup", key, callID, func(s *state.ServiceState, p ActionProcessor, peer domain.RemotePeer) *state.ServiceState {
		call := domain.CallMetadata{Peer: peer, CallID: callID, RemoteDevice: remoteDevice}
		return p.HandleSendHangup(s, call, hangup, broadcast)
	})
}

func (m *CallManager) OnSendBusy(callID domain.CallID, key domain.PeerKey, remoteDevice domain.DeviceID, broadcast bool) {
	m.withPeer("send_busy", key, callID, func(s *state.ServiceState, p ActionProcessor, peer domain.RemotePeer) *state.ServiceState {
		call := domain.CallMetadata{Peer: peer, CallID: callID, RemoteDevice: remoteDevice}
		return p.HandleSendBusy(s, call, broadcast)
	})
}
