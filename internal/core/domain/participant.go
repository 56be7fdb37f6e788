package domain

import (
	"sort"
	"time"
)

// DeviceOrdinal distinguishes the devices of a single human in a call.
type DeviceOrdinal int

const (
	DeviceOrdinalPrimary DeviceOrdinal = iota
	DeviceOrdinalSecondary
)

func (o DeviceOrdinal) String() string {
	if o == DeviceOrdinalSecondary {
		return "secondary"
	}
	return "primary"
}

// ParticipantID keys the participants map. There is exactly one participant
// per (recipient, device) pair.
type ParticipantID struct {
	Recipient RecipientID   `json:"recipient"`
	Ordinal   DeviceOrdinal `json:"ordinal"`
}

// VideoSink receives raw RTP packets of a video stream. The engine forwards
// remote video into it; the camera produces local video into another one.
type VideoSink interface {
	Write(packet []byte) (int, error)
}

// CallParticipant is the display projection of one party in the call.
type CallParticipant struct {
	Recipient         RecipientID   `json:"recipient"`
	IdentityKey       []byte        `json:"identity_key,omitempty"`
	VideoSink         VideoSink     `json:"-"`
	VideoEnabled      bool          `json:"video_enabled"`
	MicrophoneEnabled bool          `json:"microphone_enabled"`
	LastSpoke         time.Time     `json:"last_spoke,omitempty"`
	MediaKeysReceived bool          `json:"media_keys_received"`
	Ordinal           DeviceOrdinal `json:"ordinal"`
}

func NewRemoteParticipant(recipient RecipientID, sink VideoSink, videoEnabled, microphoneEnabled bool) CallParticipant {
	return CallParticipant{
		Recipient:         recipient,
		VideoSink:         sink,
		VideoEnabled:      videoEnabled,
		MicrophoneEnabled: microphoneEnabled,
		MediaKeysReceived: true,
		Ordinal:           DeviceOrdinalPrimary,
	}
}

func (p CallParticipant) ID() ParticipantID {
	return ParticipantID{Recipient: p.Recipient, Ordinal: p.Ordinal}
}

func (p CallParticipant) WithVideoEnabled(enabled bool) CallParticipant {
	p.VideoEnabled = enabled
	return p
}

func (p CallParticipant) WithMicrophoneEnabled(enabled bool) CallParticipant {
	p.MicrophoneEnabled = enabled
	return p
}

func (p CallParticipant) WithIdentityKey(key []byte) CallParticipant {
	p.IdentityKey = append([]byte(nil), key...)
	return p
}

func (p CallParticipant) WithLastSpoke(t time.Time) CallParticipant {
	p.LastSpoke = t
	return p
}

// SortParticipants orders participants by recipient, primary device first.
func SortParticipants(ps []CallParticipant) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Recipient != ps[j].Recipient {
			return ps[i].Recipient < ps[j].Recipient
		}
		return ps[i].Ordinal < ps[j].Ordinal
	})
}
