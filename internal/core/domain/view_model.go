package domain

import "time"

// WebRtcViewModel is the snapshot posted to observers after every state
// change that matters to the UI.
type WebRtcViewModel struct {
	State              CallState         `json:"state"`
	Recipient          RecipientID       `json:"recipient,omitempty"`
	CallID             CallID            `json:"call_id,omitempty"`
	PeerState          string            `json:"peer_state,omitempty"`
	RemoteParticipants []CallParticipant `json:"remote_participants"`
	LocalCameraState   CameraState       `json:"local_camera_state"`
	MicrophoneEnabled  bool              `json:"microphone_enabled"`
	BluetoothAvailable bool              `json:"bluetooth_available"`
	WantsBluetooth     bool              `json:"wants_bluetooth"`
	RemoteVideoOffer   bool              `json:"remote_video_offer"`
	CallConnectedTime  time.Time         `json:"call_connected_time,omitempty"`
	PostedAt           time.Time         `json:"posted_at"`
}

// IsRemoteVideoEnabled reports whether any remote participant is sending video.
func (vm WebRtcViewModel) IsRemoteVideoEnabled() bool {
	for _, p := range vm.RemoteParticipants {
		if p.VideoEnabled {
			return true
		}
	}
	return false
}
