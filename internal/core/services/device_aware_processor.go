package services

import (
	"callcore/internal/core/domain"
	"callcore/internal/core/state"
)

// deviceAwareProcessor adds audio routing and camera handling to the phases
// that own a call.
type deviceAwareProcessor struct {
	*baseProcessor
}

func (p *deviceAwareProcessor) HandleWiredHeadsetChange(s *state.ServiceState, present bool) *state.ServiceState {
	audio := p.interactor.Audio()
	switch {
	case present && audio.IsSpeakerphoneOn():
		audio.SetSpeakerphoneOn(false)
		audio.SetBluetoothScoOn(false)
	case !present && !audio.IsSpeakerphoneOn() && !audio.IsBluetoothScoOn() && s.LocalDevice().CameraState().IsEnabled():
		audio.SetSpeakerphoneOn(true)
	}
	p.interactor.PostStateUpdate(s)
	return s
}

func (p *deviceAwareProcessor) HandleSetSpeakerAudio(s *state.ServiceState, speaker bool) *state.ServiceState {
	ia := p.interactor
	audio := ia.Audio()

	ia.SetWantsBluetoothConnection(false)
	audio.SetSpeakerphoneOn(speaker)
	if speaker && audio.IsBluetoothScoOn() {
		audio.SetBluetoothScoOn(false)
	}
	if !s.LocalDevice().CameraState().IsEnabled() {
		ia.UpdatePhoneState(inCallPhoneState(audio))
	}
	return s.Builder().ChangeLocalDeviceState().WantsBluetooth(false).Build()
}

func (p *deviceAwareProcessor) HandleSetBluetoothAudio(s *state.ServiceState, bluetooth bool) *state.ServiceState {
	ia := p.interactor
	audio := ia.Audio()

	ia.SetWantsBluetoothConnection(bluetooth)
	audio.SetBluetoothScoOn(bluetooth)
	if bluetooth {
		audio.SetSpeakerphoneOn(false)
	}
	if !s.LocalDevice().CameraState().IsEnabled() {
		ia.UpdatePhoneState(inCallPhoneState(audio))
	}
	return s.Builder().ChangeLocalDeviceState().WantsBluetooth(bluetooth).Build()
}

func (p *deviceAwareProcessor) HandleSetCameraFlip(s *state.ServiceState) *state.ServiceState {
	camera, ok := s.Video().Camera()
	if !ok || !s.LocalDevice().CameraState().IsEnabled() {
		return p.notProcessed(s, "HandleSetCameraFlip")
	}
	var cs domain.CameraState
	p.interactor.RunOnMain(func() {
		camera.Flip()
		cs = camera.CameraState()
	})
	return s.Builder().ChangeLocalDeviceState().CameraState(cs).Build()
}

func (p *deviceAwareProcessor) HandleBluetoothChange(s *state.ServiceState, available bool) *state.ServiceState {
	s = p.baseProcessor.HandleBluetoothChange(s, available)
	if !available && s.LocalDevice().WantsBluetooth() {
		p.interactor.Audio().SetBluetoothScoOn(false)
	}
	p.interactor.PostStateUpdate(s)
	return s
}
