package webrtc

import (
	"encoding/json"
	"fmt"

	"callcore/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

const controlLabel = "control"

const (
	controlAccepted = "accepted"
	controlHangup   = "hangup"
	controlVideo    = "video"
)

// controlMessage travels on the in-band data channel once media flows.
type controlMessage struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled,omitempty"`
}

func (s *session) watchControl(dc *webrtc.DataChannel) {
	dc.OnOpen(s.onControlOpen)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		var m controlMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			s.logger.Debugw("dropping undecodable control message", "error", err)
			return
		}
		s.onControlMessage(m)
	})
}

func (s *session) onControlOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateEnded {
		return
	}
	if s.videoEnabled {
		if err := s.sendControlLocked(controlMessage{Type: controlVideo, Enabled: true}); err != nil {
			s.logger.Debugw("failed to send video status", "error", err)
		}
	}
	s.sendAcceptLocked()
}

func (s *session) sendControlLocked(m controlMessage) error {
	if s.control == nil {
		return fmt.Errorf("control channel not open")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.control.Send(data)
}

func (s *session) onControlMessage(m controlMessage) {
	switch m.Type {
	case controlAccepted:
		s.mu.Lock()
		if !s.outgoing || s.state == stateEnded || s.state == stateConnected {
			s.mu.Unlock()
			return
		}
		s.state = stateConnected
		s.stopRingTimerLocked()
		device := s.remoteDevice
		s.mu.Unlock()

		s.logger.Infow("remote accepted", "remote_device", device)
		s.observer().OnCallEvent(s.key, s.id, domain.CallEventRemoteConnected)
		// Stop the callee's other devices from ringing.
		s.observer().OnSendHangup(s.id, s.key, 0, true, domain.HangupMetadata{Type: domain.HangupAccepted, DeviceID: device})

	case controlHangup:
		if s.engine.endSession(s) {
			s.observer().OnCallEvent(s.key, s.id, domain.CallEventEndedRemoteHangup)
			s.observer().OnCallConcluded(s.key)
		}

	case controlVideo:
		event := domain.CallEventRemoteVideoDisable
		if m.Enabled {
			event = domain.CallEventRemoteVideoEnable
			s.requestKeyframe()
		}
		s.observer().OnCallEvent(s.key, s.id, event)

	default:
		s.logger.Debugw("ignoring control message", "type", m.Type)
	}
}
