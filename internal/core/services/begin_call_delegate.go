package services

import (
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/state"
)

// beginCallDelegate starts calls from a phase with no call in progress.
type beginCallDelegate struct {
	base *baseProcessor
}

func (d *beginCallDelegate) handleOutgoingCall(s *state.ServiceState, peer domain.RemotePeer, offerType domain.OfferType) *state.ServiceState {
	ia := d.base.interactor
	isVideo := offerType == domain.OfferTypeVideo
	d.base.logger.Infow("starting outgoing call", "recipient", peer.Recipient, "offer_type", offerType)

	s = initializeVideo(s, ia, peer.Recipient)
	peer = peer.WithCallStartTimestamp(time.Now())

	s = s.Builder().
		Phase(state.PhaseOutgoing).
		ChangeCallInfoState().
		CallState(domain.CallStateOutgoing).
		CallRecipient(peer.Recipient).
		PutRemotePeer(peer).
		PutParticipant(domain.NewRemoteParticipant(peer.Recipient, s.Video().RemoteSink(), false, true)).
		Commit().
		ChangeCallSetupState().
		EnableVideoOnCreate(isVideo).
		Commit().
		Build()

	if camera, ok := s.Video().Camera(); ok {
		var cs domain.CameraState
		ia.RunOnMain(func() {
			camera.SetEnabled(isVideo)
			cs = camera.CameraState()
		})
		s = s.Builder().ChangeLocalDeviceState().CameraState(cs).Build()
	}

	if err := ia.CallEngine().Call(peer, offerTypeToMediaType(offerType), ia.LocalDevice()); err != nil {
		return d.base.CallFailure(s, "unable to create outgoing call", err)
	}
	return s
}

func (d *beginCallDelegate) handleStartIncomingCall(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	ia := d.base.interactor
	d.base.logger.Infow("starting incoming call", "peer", peer.String())

	s = initializeVideo(s, ia, peer.Recipient)
	peer = peer.Answering()

	s = s.Builder().
		Phase(state.PhaseIncoming).
		ChangeCallInfoState().
		ActivePeer(peer).
		CallRecipient(peer.Recipient).
		CallState(domain.CallStateIncoming).
		PutParticipant(domain.NewRemoteParticipant(peer.Recipient, s.Video().RemoteSink(), s.CallSetup().IsRemoteVideoOffer(), true)).
		Build()

	ia.StartForegroundService(domain.NotificationConnecting, peer.Recipient)
	ia.RetrieveTurnServers(peer)
	ia.InitializeAudioForCall()
	return s
}
