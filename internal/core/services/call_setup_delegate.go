package services

import (
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/state"
)

// callSetupDelegate covers the part of a call between start and connect that
// outgoing and incoming calls share.
type callSetupDelegate struct {
	base *baseProcessor
}

func (d *callSetupDelegate) handleCallConnected(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	active, ok := s.CallInfo().ActivePeer()
	if !ok || !active.CallIDEquals(&peer) {
		d.base.logger.Warnw("connected event for a peer that is not active", "peer", peer.String())
		return s
	}

	ia := d.base.interactor
	d.base.logger.Infow("call connected", "peer", active.String())

	ia.StartAudioCommunication(active.State == domain.PeerStateRemoteRinging)
	ia.SetWantsBluetoothConnection(true)

	active = active.Connected()
	isVideo := s.LocalDevice().CameraState().IsEnabled()
	if isVideo {
		ia.UpdatePhoneState(domain.PhoneStateInVideo)
	} else {
		ia.UpdatePhoneState(inCallPhoneState(ia.Audio()))
	}
	ia.SetCallInProgressNotification(domain.NotificationEstablished, active.Recipient)
	ia.RegisterAppForegroundListener(active.Recipient)

	s = s.Builder().
		Phase(state.PhaseConnected).
		ChangeCallInfoState().
		PutRemotePeer(active).
		CallState(domain.CallStateConnected).
		CallConnectedTime(time.Now()).
		Commit().
		ChangeLocalDeviceState().
		WantsBluetooth(true).
		Build()

	engine := ia.CallEngine()
	if err := engine.SetCommunicationMode(); err != nil {
		return d.base.CallFailure(s, "enabling communication mode failed", err)
	}
	if err := engine.SetAudioEnable(s.LocalDevice().IsMicrophoneEnabled()); err != nil {
		return d.base.CallFailure(s, "enabling audio failed", err)
	}
	if err := engine.SetVideoEnable(isVideo); err != nil {
		return d.base.CallFailure(s, "enabling video failed", err)
	}

	if s.CallSetup().AcceptWithVideo() {
		return d.base.current(s).HandleSetEnableVideo(s, true)
	}
	return s
}

// handleSetEnableVideo only prepares the camera; the engine learns about video
// once the call is connected.
func (d *callSetupDelegate) handleSetEnableVideo(s *state.ServiceState, enable bool) *state.ServiceState {
	ia := d.base.interactor
	s = setCameraEnabled(s, ia, enable)
	enableSpeakerphoneIfNeeded(ia.Audio(), s.LocalDevice().CameraState().IsEnabled())
	return s
}

func (d *callSetupDelegate) handleSetMuteAudio(s *state.ServiceState, muted bool) *state.ServiceState {
	return s.Builder().ChangeLocalDeviceState().IsMicrophoneEnabled(!muted).Build()
}
