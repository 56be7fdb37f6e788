package services

import (
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/internal/core/state"
)

func offerTypeToMediaType(t domain.OfferType) domain.CallMediaType {
	if t == domain.OfferTypeVideo {
		return domain.CallMediaTypeVideo
	}
	return domain.CallMediaTypeAudio
}

func mediaTypeToOfferType(t domain.CallMediaType) domain.OfferType {
	if t == domain.CallMediaTypeVideo {
		return domain.OfferTypeVideo
	}
	return domain.OfferTypeAudio
}

// inCallPhoneState picks the lock state for an audio call: hands-free routes
// must not blank the screen on proximity.
func inCallPhoneState(audio ports.AudioController) domain.PhoneState {
	if audio.IsSpeakerphoneOn() || audio.IsBluetoothScoOn() || audio.IsWiredHeadsetOn() {
		return domain.PhoneStateInHandsFree
	}
	return domain.PhoneStateInCall
}

// enableSpeakerphoneIfNeeded turns the speaker on for video unless audio is
// already routed to a headset.
func enableSpeakerphoneIfNeeded(audio ports.AudioController, enable bool) {
	if !enable {
		return
	}
	if audio.IsSpeakerphoneOn() || audio.IsBluetoothScoOn() || audio.IsWiredHeadsetOn() {
		return
	}
	audio.SetSpeakerphoneOn(true)
}

func newViewModel(s *state.ServiceState) domain.WebRtcViewModel {
	info := s.CallInfo()
	local := s.LocalDevice()
	vm := domain.WebRtcViewModel{
		State:              info.CallState(),
		Recipient:          info.Recipient(),
		RemoteParticipants: info.Participants(),
		LocalCameraState:   local.CameraState(),
		MicrophoneEnabled:  local.IsMicrophoneEnabled(),
		BluetoothAvailable: local.IsBluetoothAvailable(),
		WantsBluetooth:     local.WantsBluetooth(),
		RemoteVideoOffer:   s.CallSetup().IsRemoteVideoOffer(),
		CallConnectedTime:  info.CallConnectedTime(),
		PostedAt:           time.Now(),
	}
	if active, ok := info.ActivePeer(); ok {
		vm.CallID = active.CallID
		vm.PeerState = active.State.String()
	}
	return vm
}
