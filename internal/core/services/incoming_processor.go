package services

import (
	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/internal/core/state"
)

// incomingProcessor handles a call offered to us until it connects.
type incomingProcessor struct {
	*deviceAwareProcessor
	setup  *callSetupDelegate
	active *activeCallDelegate
}

func newIncomingProcessor(base *baseProcessor) *incomingProcessor {
	return &incomingProcessor{
		deviceAwareProcessor: &deviceAwareProcessor{baseProcessor: base},
		setup:                &callSetupDelegate{base: base},
		active:               &activeCallDelegate{base: base},
	}
}

func (p *incomingProcessor) HandleIsInCallQuery(s *state.ServiceState, reply func(bool)) *state.ServiceState {
	if reply != nil {
		reply(true)
	}
	return s
}

func (p *incomingProcessor) HandleTurnServerUpdate(s *state.ServiceState, iceServers []domain.IceServer, alwaysTurn bool) *state.ServiceState {
	active, err := s.CallInfo().RequireActivePeer()
	if err != nil {
		return p.notProcessed(s, "HandleTurnServerUpdate")
	}

	// Strangers never learn our address.
	hideIP := alwaysTurn || !p.interactor.IsSystemContact(active.Recipient)
	params := ports.ProceedParams{
		IceServers:  iceServers,
		HideIP:      hideIP,
		EnableVideo: false,
		LocalSink:   s.Video().LocalSink(),
		RemoteSink:  s.Video().RemoteSink(),
	}
	if err := p.interactor.CallEngine().Proceed(active.CallID, params); err != nil {
		return p.CallFailure(s, "proceed failed", err)
	}

	p.interactor.UpdatePhoneState(domain.PhoneStateProcessing)
	p.interactor.PostStateUpdate(s)
	return s
}

func (p *incomingProcessor) HandleAcceptCall(s *state.ServiceState, answerWithVideo bool) *state.ServiceState {
	active, err := s.CallInfo().RequireActivePeer()
	if err != nil {
		return p.notProcessed(s, "HandleAcceptCall")
	}
	p.logger.Infow("accepting call", "peer", active.String(), "with_video", answerWithVideo)

	s = s.Builder().ChangeCallSetupState().AcceptWithVideo(answerWithVideo).Build()
	if err := p.interactor.CallEngine().AcceptCall(active.CallID); err != nil {
		return p.CallFailure(s, "accept call failed", err)
	}
	return s
}

func (p *incomingProcessor) HandleDenyCall(s *state.ServiceState) *state.ServiceState {
	active, err := s.CallInfo().RequireActivePeer()
	if err != nil {
		return p.notProcessed(s, "HandleDenyCall")
	}
	if active.State != domain.PeerStateLocalRinging {
		p.logger.Warnw("can only deny a call that is ringing", "peer", active.String())
		return s
	}

	ia := p.interactor
	p.logger.Infow("denying call", "peer", active.String())
	if err := ia.CallEngine().Hangup(); err != nil {
		return p.CallFailure(s, "hangup failed", err)
	}

	s = s.Builder().ChangeCallInfoState().CallState(domain.CallStateDisconnected).Build()
	ia.PostStateUpdate(s)
	ia.InsertMissedCall(active, true, active.CallStartTimestamp, s.CallSetup().IsRemoteVideoOffer())
	return p.Terminate(s, active)
}

func (p *incomingProcessor) HandleLocalRinging(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	if active, ok := s.CallInfo().ActivePeer(); !ok || !active.CallIDEquals(&peer) {
		return p.notProcessed(s, "HandleLocalRinging")
	}

	ia := p.interactor
	p.logger.Infow("local ringing", "peer", peer.String())
	peer = peer.LocalRinging()

	ia.UpdatePhoneState(domain.PhoneStateInteractive)
	ia.StartForegroundService(domain.NotificationIncomingRinging, peer.Recipient)
	ia.StartIncomingRinger(true)

	return s.Builder().
		ChangeCallInfoState().
		PutRemotePeer(peer).
		CallState(domain.CallStateIncoming).
		Build()
}

func (p *incomingProcessor) HandleScreenOffChange(s *state.ServiceState) *state.ServiceState {
	p.interactor.SilenceIncomingRinger()
	return s
}

func (p *incomingProcessor) HandleCallConnected(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	return p.setup.handleCallConnected(s, peer)
}

func (p *incomingProcessor) HandleSetEnableVideo(s *state.ServiceState, enable bool) *state.ServiceState {
	return p.setup.handleSetEnableVideo(s, enable)
}

func (p *incomingProcessor) HandleSetMuteAudio(s *state.ServiceState, muted bool) *state.ServiceState {
	return p.setup.handleSetMuteAudio(s, muted)
}

func (p *incomingProcessor) HandleRemoteVideoEnable(s *state.ServiceState, enable bool) *state.ServiceState {
	return p.active.handleRemoteVideoEnable(s, enable)
}

func (p *incomingProcessor) HandleLocalHangup(s *state.ServiceState) *state.ServiceState {
	return p.active.handleLocalHangup(s)
}

func (p *incomingProcessor) HandleReceivedOfferWhileActive(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	return p.active.handleReceivedOfferWhileActive(s, peer)
}

func (p *incomingProcessor) HandleEndedRemote(s *state.ServiceState, event domain.CallEvent, peer domain.RemotePeer) *state.ServiceState {
	return p.active.handleEndedRemote(s, event, peer)
}

func (p *incomingProcessor) HandleEnded(s *state.ServiceState, event domain.CallEvent, peer domain.RemotePeer) *state.ServiceState {
	return p.active.handleEnded(s, event, peer)
}

func (p *incomingProcessor) HandleSetupFailure(s *state.ServiceState, callID domain.CallID) *state.ServiceState {
	return p.active.handleSetupFailure(s, callID)
}

func (p *incomingProcessor) HandleCallConcluded(s *state.ServiceState, key domain.PeerKey) *state.ServiceState {
	return p.active.handleCallConcluded(s, key)
}
