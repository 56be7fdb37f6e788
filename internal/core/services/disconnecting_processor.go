package services

import (
	"callcore/internal/core/domain"
	"callcore/internal/core/state"
)

// disconnectingProcessor waits for the engine to conclude a call that ended
// visibly. A new call may start before that happens.
type disconnectingProcessor struct {
	*baseProcessor
	begin *beginCallDelegate
}

func newDisconnectingProcessor(base *baseProcessor) *disconnectingProcessor {
	return &disconnectingProcessor{baseProcessor: base, begin: &beginCallDelegate{base: base}}
}

func (p *disconnectingProcessor) HandleOutgoingCall(s *state.ServiceState, peer domain.RemotePeer, offerType domain.OfferType) *state.ServiceState {
	return p.begin.handleOutgoingCall(s, peer, offerType)
}

func (p *disconnectingProcessor) HandleStartIncomingCall(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	return p.begin.handleStartIncomingCall(s, peer)
}

func (p *disconnectingProcessor) HandleCallConcluded(s *state.ServiceState, key domain.PeerKey) *state.ServiceState {
	p.logger.Infow("call concluded", "peer_key", key)
	return removeConcludedPeer(s, key).Builder().Phase(state.PhaseIdle).Build()
}
