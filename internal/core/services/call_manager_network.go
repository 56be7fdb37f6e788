package services

import (
	"context"
	"errors"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/internal/core/state"
	"callcore/pkg/tracing"

	"github.com/google/uuid"
)

// HandleCallMessage routes a call message received from the messaging
// transport.
func (m *CallManager) HandleCallMessage(env domain.CallEnvelope) {
	msg := env.Message
	if err := msg.Validate(); err != nil {
		m.logger.Warnw("discarding invalid call message", "sender", env.Sender, "error", err)
		return
	}

	switch msg.Type {
	case domain.CallMessageOffer:
		offerType := msg.OfferType
		if offerType == "" {
			offerType = domain.OfferTypeAudio
		}
		m.ReceivedOffer(env.Sender, msg.CallID, env.SenderDevice,
			domain.OfferMetadata{Opaque: msg.Opaque, SDP: msg.SDP, OfferType: offerType},
			domain.ReceivedOfferMetadata{
				RemoteIdentityKey:        env.IdentityKey,
				ServerReceivedTimestamp:  env.ServerReceived,
				ServerDeliveredTimestamp: env.ServerDelivered,
				IsMultiRing:              msg.MultiRing,
			})
	case domain.CallMessageAnswer:
		m.ReceivedAnswer(env.Sender, msg.CallID, env.SenderDevice,
			domain.AnswerMetadata{Opaque: msg.Opaque, SDP: msg.SDP},
			domain.ReceivedAnswerMetadata{RemoteIdentityKey: env.IdentityKey, IsMultiRing: msg.MultiRing})
	case domain.CallMessageIceUpdate:
		m.ReceivedIceCandidates(env.Sender, msg.CallID, env.SenderDevice, msg.IceCandidates)
	case domain.CallMessageHangup:
		hangupType := msg.HangupType
		if hangupType == "" {
			hangupType = domain.HangupNormal
		}
		m.ReceivedHangup(env.Sender, msg.CallID, env.SenderDevice, domain.HangupMetadata{Type: hangupType, DeviceID: msg.HangupDevice})
	case domain.CallMessageBusy:
		m.ReceivedBusy(env.Sender, msg.CallID, env.SenderDevice)
	}
}

func (m *CallManager) ReceivedOffer(sender domain.RecipientID, callID domain.CallID, remoteDevice domain.DeviceID, offer domain.OfferMetadata, received domain.ReceivedOfferMetadata) {
	m.process("received_offer", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		peer := domain.NewIncomingRemotePeer(sender, callID)
		return p.HandleReceivedOffer(s, domain.NewCallMetadata(peer, remoteDevice), offer, received)
	})
}

func (m *CallManager) ReceivedAnswer(sender domain.RecipientID, callID domain.CallID, remoteDevice domain.DeviceID, answer domain.AnswerMetadata, received domain.ReceivedAnswerMetadata) {
	m.process("received_answer", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		call := domain.CallMetadata{Peer: peerForCall(s, sender, callID), CallID: callID, RemoteDevice: remoteDevice}
		return p.HandleReceivedAnswer(s, call, answer, received)
	})
}

func (m *CallManager) ReceivedIceCandidates(sender domain.RecipientID, callID domain.CallID, remoteDevice domain.DeviceID, candidates []domain.IceCandidate) {
	m.process("received_ice_candidates", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		call := domain.CallMetadata{Peer: peerForCall(s, sender, callID), CallID: callID, RemoteDevice: remoteDevice}
		return p.HandleReceivedIceCandidates(s, call, candidates)
	})
}

func (m *CallManager) ReceivedHangup(sender domain.RecipientID, callID domain.CallID, remoteDevice domain.DeviceID, hangup domain.HangupMetadata) {
	m.process("received_hangup", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		call := domain.CallMetadata{Peer: peerForCall(s, sender, callID), CallID: callID, RemoteDevice: remoteDevice}
		return p.HandleReceivedHangup(s, call, hangup)
	})
}

func (m *CallManager) ReceivedBusy(sender domain.RecipientID, callID domain.CallID, remoteDevice domain.DeviceID) {
	m.process("received_busy", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		call := domain.CallMetadata{Peer: peerForCall(s, sender, callID), CallID: callID, RemoteDevice: remoteDevice}
		return p.HandleReceivedBusy(s, call)
	})
}

// peerForCall finds the known peer for a call, or a detached handle the engine
// can still address by call id.
func peerForCall(s *state.ServiceState, sender domain.RecipientID, callID domain.CallID) domain.RemotePeer {
	if peer, ok := s.CallInfo().PeerByCallID(sender, callID); ok {
		return peer
	}
	return domain.NewIncomingRemotePeer(sender, callID)
}

// sendCallMessage runs on the state goroutine; the send itself happens on the
// network goroutine and its outcome comes back as an action. generation is
// that of the state the sending action returns, not the one it started from.
func (m *CallManager) sendCallMessage(generation uint64, peer domain.RemotePeer, msg domain.CallMessage) {
	err := m.networkExecutor.Submit(func() {
		if m.recipients.IsBlocked(peer.Recipient) {
			m.logger.Infow("not sending call message to blocked recipient", "recipient", peer.Recipient, "type", msg.Type)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.config.SendTimeout)
		defer cancel()
		ctx, span := tracing.TraceSignaling(ctx, string(msg.Type), string(peer.Recipient))
		defer span.End()

		err := m.signaling.SendCallMessage(ctx, peer.Recipient, msg)
		if err == nil {
			m.process("message_sent_success", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
				return p.HandleMessageSentSuccess(s, msg.CallID)
			})
			return
		}
		tracing.RecordError(ctx, err)

		var untrusted *domain.UntrustedIdentityError
		switch {
		case errors.As(err, &untrusted):
			m.recordSignalingFailure("untrusted_identity")
			m.processSendFailure(peer, generation, domain.CallStateUntrustedIdentity, untrusted.IdentityKey)
		case errors.Is(err, domain.ErrUnregisteredUser):
			m.recordSignalingFailure("unregistered_user")
			m.processSendFailure(peer, generation, domain.CallStateNoSuchUser, nil)
		default:
			m.logger.Warnw("call message send failed", "type", msg.Type, "call_id", msg.CallID, "error", err)
			m.recordSignalingFailure("network")
			m.processSendFailure(peer, generation, domain.CallStateNetworkFailure, nil)
		}
	})
	if err != nil {
		m.logger.Warnw("dropping call message", "type", msg.Type, "error", err)
	}
}

// processSendFailure reports a failed send, unless the call it belonged to is
// no longer the active one. Such a failure is stale and is reported as sent.
func (m *CallManager) processSendFailure(peer domain.RemotePeer, generation uint64, errorState domain.CallState, identityKey []byte) {
	m.process("message_sent_error", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		info := s.CallInfo()
		active, ok := info.ActivePeer()
		if !ok || active.CallID != peer.CallID || info.Generation() != generation {
			m.logger.Infow("ignoring send failure for a call that is no longer active", "call_id", peer.CallID)
			return p.HandleMessageSentSuccess(s, peer.CallID)
		}
		return p.HandleMessageSentError(s, peer.CallID, errorState, identityKey)
	})
}

func (m *CallManager) recordSignalingFailure(kind string) {
	if m.metrics != nil {
		m.metrics.SignalingFailure(kind)
	}
}

func (m *CallManager) retrieveTurnServers(peer domain.RemotePeer) {
	err := m.networkExecutor.Submit(func() {
		servers := append([]domain.IceServer(nil), m.config.DefaultIceServers...)

		if m.turn != nil {
			ctx, cancel := context.WithTimeout(context.Background(), m.config.TurnTimeout)
			info, err := m.turn.TurnServerInfo(ctx)
			cancel()
			if m.metrics != nil {
				m.metrics.TurnServerFetch(err == nil)
			}
			if err != nil {
				m.logger.Warnw("unable to retrieve turn servers", "call_id", peer.CallID, "error", err)
				m.process("setup_failure", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
					return p.HandleSetupFailure(s, peer.CallID)
				})
				return
			}
			if len(info.URLs) > 0 {
				servers = append(servers, info.IceServer())
			}
		}

		m.process("turn_server_update", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
			active, ok := s.CallInfo().ActivePeer()
			if !ok || active.CallID != peer.CallID {
				m.logger.Infow("turn servers arrived for a call that is no longer active", "call_id", peer.CallID)
				return s
			}
			return p.HandleTurnServerUpdate(s, servers, m.config.AlwaysTurn)
		})
	})
	if err != nil {
		m.logger.Warnw("unable to schedule turn server fetch", "error", err)
	}
}

func (m *CallManager) postStateUpdate(s *state.ServiceState) {
	vm := newViewModel(s)
	m.lastPosted.Store(&vm)
	for _, o := range m.observers {
		o.OnCallStateChanged(vm)
	}
}

func (m *CallManager) insertMissedCall(peer domain.RemotePeer, signal bool, timestamp time.Time, video bool) {
	m.insertCallLog(domain.CallLogEntry{
		ID:        uuid.NewString(),
		Recipient: peer.Recipient,
		CallID:    peer.CallID,
		Direction: domain.CallDirectionIncoming,
		Type:      domain.CallLogMissed,
		Video:     video,
		Timestamp: timestamp,
		Signal:    signal,
	})
}

func (m *CallManager) insertOutgoingCall(peer domain.RemotePeer, video bool) {
	timestamp := peer.CallStartTimestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	m.insertCallLog(domain.CallLogEntry{
		ID:        uuid.NewString(),
		Recipient: peer.Recipient,
		CallID:    peer.CallID,
		Direction: domain.CallDirectionOutgoing,
		Type:      domain.CallLogOutgoing,
		Video:     video,
		Timestamp: timestamp,
		Signal:    true,
	})
}

func (m *CallManager) insertCallLog(entry domain.CallLogEntry) {
	if m.callLog == nil {
		return
	}
	err := m.networkExecutor.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.CallLogTimeout)
		defer cancel()
		if err := m.callLog.Insert(ctx, entry); err != nil {
			m.logger.Errorw("failed to record call", "type", entry.Type, "recipient", entry.Recipient, "error", err)
		}
	})
	if err != nil {
		m.logger.Warnw("unable to schedule call log insert", "error", err)
	}
}

func (m *CallManager) cameraListener() ports.CameraEventListener {
	return m
}

// allowAllRecipients is used when no directory is configured.
type allowAllRecipients struct{}

func (allowAllRecipients) IsBlocked(domain.RecipientID) bool             { return false }
func (allowAllRecipients) IsSystemContact(domain.RecipientID) bool       { return true }
func (allowAllRecipients) IsCallRequestAccepted(domain.RecipientID) bool { return true }
