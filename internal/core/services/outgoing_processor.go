package services

import (
	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/internal/core/state"
)

// outgoingProcessor handles a dialled call until it connects.
type outgoingProcessor struct {
	*deviceAwareProcessor
	setup  *callSetupDelegate
	active *activeCallDelegate
}

func newOutgoingProcessor(base *baseProcessor) *outgoingProcessor {
	return &outgoingProcessor{
		deviceAwareProcessor: &deviceAwareProcessor{baseProcessor: base},
		setup:                &callSetupDelegate{base: base},
		active:               &activeCallDelegate{base: base},
	}
}

func (p *outgoingProcessor) HandleIsInCallQuery(s *state.ServiceState, reply func(bool)) *state.ServiceState {
	if reply != nil {
		reply(true)
	}
	return s
}

func (p *outgoingProcessor) HandleStartOutgoingCall(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	ia := p.interactor

	if active, ok := s.CallInfo().ActivePeer(); ok && !active.CallIDEquals(&peer) {
		p.logger.Warnw("outgoing call already active, dropping new call", "peer", peer.String(), "active", active.String())
		if err := ia.CallEngine().Drop(peer.CallID); err != nil {
			p.logger.Warnw("unable to drop call", "call_id", peer.CallID, "error", err)
		}
		return s
	}

	p.logger.Infow("start outgoing call", "peer", peer.String())
	peer = peer.Dialing()
	isVideo := s.CallSetup().EnableVideoOnCreate()

	ia.InitializeAudioForCall()
	ia.StartOutgoingRinger()
	ia.StartForegroundService(domain.NotificationOutgoingRinging, peer.Recipient)
	enableSpeakerphoneIfNeeded(ia.Audio(), isVideo)
	if isVideo {
		ia.UpdatePhoneState(domain.PhoneStateInVideo)
	} else {
		ia.UpdatePhoneState(inCallPhoneState(ia.Audio()))
	}
	ia.InsertOutgoingCall(peer, isVideo)
	ia.RetrieveTurnServers(peer)
	ia.SetWantsBluetoothConnection(true)

	return s.Builder().
		ChangeCallInfoState().
		ActivePeer(peer).
		Commit().
		ChangeLocalDeviceState().
		WantsBluetooth(true).
		Build()
}

func (p *outgoingProcessor) HandleTurnServerUpdate(s *state.ServiceState, iceServers []domain.IceServer, alwaysTurn bool) *state.ServiceState {
	active, err := s.CallInfo().RequireActivePeer()
	if err != nil {
		return p.notProcessed(s, "HandleTurnServerUpdate")
	}

	params := ports.ProceedParams{
		IceServers:  iceServers,
		HideIP:      alwaysTurn,
		EnableVideo: s.CallSetup().EnableVideoOnCreate(),
		LocalSink:   s.Video().LocalSink(),
		RemoteSink:  s.Video().RemoteSink(),
	}
	if err := p.interactor.CallEngine().Proceed(active.CallID, params); err != nil {
		return p.CallFailure(s, "proceed failed", err)
	}
	return s
}

func (p *outgoingProcessor) HandleRemoteRinging(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	if active, ok := s.CallInfo().ActivePeer(); !ok || !active.CallIDEquals(&peer) {
		return p.notProcessed(s, "HandleRemoteRinging")
	}
	p.logger.Infow("remote ringing", "peer", peer.String())
	return s.Builder().
		ChangeCallInfoState().
		PutRemotePeer(peer.RemoteRinging()).
		CallState(domain.CallStateRinging).
		Build()
}

func (p *outgoingProcessor) HandleReceivedAnswer(s *state.ServiceState, call domain.CallMetadata, answer domain.AnswerMetadata, received domain.ReceivedAnswerMetadata) *state.ServiceState {
	p.logger.Infow("received answer", "call", call.String())
	if err := p.interactor.CallEngine().ReceivedAnswer(call, answer, received, p.interactor.LocalIdentityKey()); err != nil {
		return p.CallFailure(s, "receivedAnswer failed", err)
	}
	return s
}

func (p *outgoingProcessor) HandleReceivedBusy(s *state.ServiceState, call domain.CallMetadata) *state.ServiceState {
	p.logger.Infow("received busy", "call", call.String())
	if err := p.interactor.CallEngine().ReceivedBusy(call); err != nil {
		return p.CallFailure(s, "receivedBusy failed", err)
	}
	return s
}

func (p *outgoingProcessor) HandleCallConnected(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	return p.setup.handleCallConnected(s, peer)
}

func (p *outgoingProcessor) HandleSetEnableVideo(s *state.ServiceState, enable bool) *state.ServiceState {
	return p.setup.handleSetEnableVideo(s, enable)
}

func (p *outgoingProcessor) HandleSetMuteAudio(s *state.ServiceState, muted bool) *state.ServiceState {
	return p.setup.handleSetMuteAudio(s, muted)
}

func (p *outgoingProcessor) HandleRemoteVideoEnable(s *state.ServiceState, enable bool) *state.ServiceState {
	return p.active.handleRemoteVideoEnable(s, enable)
}

func (p *outgoingProcessor) HandleLocalHangup(s *state.ServiceState) *state.ServiceState {
	return p.active.handleLocalHangup(s)
}

func (p *outgoingProcessor) HandleReceivedOfferWhileActive(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	return p.active.handleReceivedOfferWhileActive(s, peer)
}

func (p *outgoingProcessor) HandleEndedRemote(s *state.ServiceState, event domain.CallEvent, peer domain.RemotePeer) *state.ServiceState {
	return p.active.handleEndedRemote(s, event, peer)
}

func (p *outgoingProcessor) HandleEnded(s *state.ServiceState, event domain.CallEvent, peer domain.RemotePeer) *state.ServiceState {
	return p.active.handleEnded(s, event, peer)
}

func (p *outgoingProcessor) HandleSetupFailure(s *state.ServiceState, callID domain.CallID) *state.ServiceState {
	return p.active.handleSetupFailure(s, callID)
}

func (p *outgoingProcessor) HandleCallConcluded(s *state.ServiceState, key domain.PeerKey) *state.ServiceState {
	return p.active.handleCallConcluded(s, key)
}
