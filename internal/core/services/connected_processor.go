package services

import (
	"callcore/internal/core/domain"
	"callcore/internal/core/state"
)

// connectedProcessor handles an established call.
type connectedProcessor struct {
	*deviceAwareProcessor
	active *activeCallDelegate
}

func newConnectedProcessor(base *baseProcessor) *connectedProcessor {
	return &connectedProcessor{
		deviceAwareProcessor: &deviceAwareProcessor{baseProcessor: base},
		active:               &activeCallDelegate{base: base},
	}
}

func (p *connectedProcessor) HandleIsInCallQuery(s *state.ServiceState, reply func(bool)) *state.ServiceState {
	if reply != nil {
		reply(true)
	}
	return s
}

func (p *connectedProcessor) HandleSetEnableVideo(s *state.ServiceState, enable bool) *state.ServiceState {
	ia := p.interactor
	p.logger.Infow("set enable video", "enable", enable)

	if err := ia.CallEngine().SetVideoEnable(enable); err != nil {
		return p.CallFailure(s, "setVideoEnable failed", err)
	}

	s = setCameraEnabled(s, ia, enable)
	if s.LocalDevice().CameraState().IsEnabled() {
		ia.UpdatePhoneState(domain.PhoneStateInVideo)
	} else {
		ia.UpdatePhoneState(inCallPhoneState(ia.Audio()))
	}
	enableSpeakerphoneIfNeeded(ia.Audio(), s.LocalDevice().CameraState().IsEnabled())
	return s
}

func (p *connectedProcessor) HandleSetMuteAudio(s *state.ServiceState, muted bool) *state.ServiceState {
	s = s.Builder().ChangeLocalDeviceState().IsMicrophoneEnabled(!muted).Build()
	if err := p.interactor.CallEngine().SetAudioEnable(!muted); err != nil {
		return p.CallFailure(s, "setAudioEnable failed", err)
	}
	return s
}

func (p *connectedProcessor) HandleCallReconnect(s *state.ServiceState, event domain.CallEvent) *state.ServiceState {
	return p.active.handleCallReconnect(s, event)
}

func (p *connectedProcessor) HandleRemoteVideoEnable(s *state.ServiceState, enable bool) *state.ServiceState {
	return p.active.handleRemoteVideoEnable(s, enable)
}

func (p *connectedProcessor) HandleLocalHangup(s *state.ServiceState) *state.ServiceState {
	return p.active.handleLocalHangup(s)
}

func (p *connectedProcessor) HandleReceivedOfferWhileActive(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	return p.active.handleReceivedOfferWhileActive(s, peer)
}

func (p *connectedProcessor) HandleEndedRemote(s *state.ServiceState, event domain.CallEvent, peer domain.RemotePeer) *state.ServiceState {
	return p.active.handleEndedRemote(s, event, peer)
}

func (p *connectedProcessor) HandleEnded(s *state.ServiceState, event domain.CallEvent, peer domain.RemotePeer) *state.ServiceState {
	return p.active.handleEnded(s, event, peer)
}

func (p *connectedProcessor) HandleSetupFailure(s *state.ServiceState, callID domain.CallID) *state.ServiceState {
	return p.active.handleSetupFailure(s, callID)
}

func (p *connectedProcessor) HandleCallConcluded(s *state.ServiceState, key domain.PeerKey) *state.ServiceState {
	return p.active.handleCallConcluded(s, key)
}
