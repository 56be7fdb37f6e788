package services

import (
	"callcore/internal/core/domain"
	"callcore/internal/core/state"
)

// activeCallDelegate holds the behaviour of a call that has an active peer,
// whether it is still ringing or already connected.
type activeCallDelegate struct {
	base *baseProcessor
}

func (d *activeCallDelegate) handleRemoteVideoEnable(s *state.ServiceState, enable bool) *state.ServiceState {
	active, err := s.CallInfo().RequireActivePeer()
	if err != nil {
		return d.base.notProcessed(s, "HandleRemoteVideoEnable")
	}
	participant, ok := s.CallInfo().RemoteParticipant(active.Recipient)
	if !ok {
		return s
	}
	return s.Builder().ChangeCallInfoState().PutParticipant(participant.WithVideoEnabled(enable)).Build()
}

func (d *activeCallDelegate) handleLocalHangup(s *state.ServiceState) *state.ServiceState {
	active, ok := s.CallInfo().ActivePeer()
	if !ok {
		return d.base.notProcessed(s, "HandleLocalHangup")
	}
	d.base.logger.Infow("local hangup", "peer", active.String())

	if err := d.base.interactor.CallEngine().Hangup(); err != nil {
		return d.base.CallFailure(s, "hangup failed", err)
	}

	s = s.Builder().ChangeCallInfoState().CallState(domain.CallStateDisconnected).Build()
	d.base.interactor.PostStateUpdate(s)
	return d.base.Terminate(s, active)
}

// handleReceivedOfferWhileActive keeps the notification of the current call
// and records the second caller as missed.
func (d *activeCallDelegate) handleReceivedOfferWhileActive(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	ia := d.base.interactor
	if active, ok := s.CallInfo().ActivePeer(); ok {
		d.base.logger.Infow("offer received while a call is active", "peer", peer.String(), "active", active.String())
		switch active.State {
		case domain.PeerStateDialing, domain.PeerStateRemoteRinging:
			ia.SetCallInProgressNotification(domain.NotificationOutgoingRinging, active.Recipient)
		case domain.PeerStateAnswering, domain.PeerStateLocalRinging:
			ia.SetCallInProgressNotification(domain.NotificationIncomingRinging, active.Recipient)
		case domain.PeerStateConnected:
			ia.SetCallInProgressNotification(domain.NotificationEstablished, active.Recipient)
		}
	}

	ia.InsertMissedCall(peer, true, peer.CallStartTimestamp, false)
	return d.base.Terminate(s, peer)
}

func (d *activeCallDelegate) handleEndedRemote(s *state.ServiceState, event domain.CallEvent, peer domain.RemotePeer) *state.ServiceState {
	ia := d.base.interactor
	d.base.logger.Infow("call ended remotely", "event", event.String(), "peer", peer.String())

	active, hasActive := s.CallInfo().ActivePeer()
	isActive := hasActive && active.CallIDEquals(&peer)
	outgoingBeforeAccept := peer.IsOutgoingBeforeAccept()
	incomingBeforeAccept := peer.IsIncomingBeforeAccept()

	if event.IsRemoteHangup() && isActive {
		callState := domain.CallStateDisconnected
		switch {
		case event == domain.CallEventEndedRemoteHangupNeedPermission:
			callState = domain.CallStateNeedsPermission
		case outgoingBeforeAccept:
			callState = domain.CallStateRecipientUnavailable
		}
		s = s.Builder().ChangeCallInfoState().CallState(callState).Build()
		ia.PostStateUpdate(s)
	}

	// Picked up or declined on another of our devices: nothing was missed.
	answeredElsewhere := event == domain.CallEventEndedRemoteHangupAccepted || event == domain.CallEventEndedRemoteHangupDeclined
	if incomingBeforeAccept && !answeredElsewhere {
		if event.IsRemoteHangup() || event == domain.CallEventEndedRemoteGlare {
			ia.InsertMissedCall(peer, true, peer.CallStartTimestamp, s.CallSetup().IsRemoteVideoOffer())
		}
	}

	if event == domain.CallEventEndedRemoteBusy && isActive {
		peer = peer.ReceivedBusy()
		s = s.Builder().
			ChangeCallInfoState().
			PutRemotePeer(peer).
			CallState(domain.CallStateBusy).
			Build()
		ia.PlayBusyTone()
		ia.PostStateUpdate(s)
	}

	return d.base.Terminate(s, peer)
}

func (d *activeCallDelegate) handleEnded(s *state.ServiceState, event domain.CallEvent, peer domain.RemotePeer) *state.ServiceState {
	ia := d.base.interactor
	d.base.logger.Infow("call ended", "event", event.String(), "peer", peer.String())

	active, hasActive := s.CallInfo().ActivePeer()
	if hasActive && active.CallIDEquals(&peer) && !s.CallInfo().CallState().IsErrorState() {
		s = s.Builder().ChangeCallInfoState().CallState(domain.CallStateNetworkFailure).Build()
		ia.PostStateUpdate(s)
	}

	if peer.IsIncomingBeforeAccept() {
		ia.InsertMissedCall(peer, true, peer.CallStartTimestamp, s.CallSetup().IsRemoteVideoOffer())
	}

	return d.base.Terminate(s, peer)
}

func (d *activeCallDelegate) handleSetupFailure(s *state.ServiceState, callID domain.CallID) *state.ServiceState {
	active, ok := s.CallInfo().ActivePeer()
	if !ok || active.CallID != callID {
		d.base.logger.Infow("setup failure for a call that is not active", "call_id", callID)
		return s
	}

	ia := d.base.interactor
	d.base.logger.Warnw("call setup failed", "peer", active.String())

	var err error
	if active.IsOutgoingBeforeAccept() {
		err = ia.CallEngine().Hangup()
	} else {
		err = ia.CallEngine().Drop(callID)
	}
	if err != nil {
		d.base.logger.Warnw("unable to end call after setup failure", "call_id", callID, "error", err)
	}

	s = s.Builder().ChangeCallInfoState().CallState(domain.CallStateNetworkFailure).Build()
	ia.PostStateUpdate(s)

	if active.IsIncomingBeforeAccept() {
		ia.InsertMissedCall(active, true, active.CallStartTimestamp, s.CallSetup().IsRemoteVideoOffer())
	}

	return d.base.Terminate(s, active)
}

func (d *activeCallDelegate) handleCallReconnect(s *state.ServiceState, event domain.CallEvent) *state.ServiceState {
	if !s.CallInfo().HasActivePeer() {
		return d.base.notProcessed(s, "HandleCallReconnect")
	}
	callState := domain.CallStateConnected
	if event == domain.CallEventReconnecting {
		callState = domain.CallStateReconnecting
	}
	d.base.logger.Infow("call reconnect", "event", event.String())
	return s.Builder().ChangeCallInfoState().CallState(callState).Build()
}

func (d *activeCallDelegate) handleCallConcluded(s *state.ServiceState, key domain.PeerKey) *state.ServiceState {
	return removeConcludedPeer(s, key)
}

func removeConcludedPeer(s *state.ServiceState, key domain.PeerKey) *state.ServiceState {
	if _, ok := s.CallInfo().Peer(key); !ok {
		return s
	}
	return s.Builder().ChangeCallInfoState().RemoveRemotePeer(key).Build()
}
