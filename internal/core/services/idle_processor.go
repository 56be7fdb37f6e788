package services

import (
	"callcore/internal/core/domain"
	"callcore/internal/core/state"
)

// idleProcessor handles the phase without a call. Offers are handled by the
// base processor; the engine reports back through start-incoming.
type idleProcessor struct {
	*baseProcessor
	begin *beginCallDelegate
}

func newIdleProcessor(base *baseProcessor) *idleProcessor {
	return &idleProcessor{baseProcessor: base, begin: &beginCallDelegate{base: base}}
}

func (p *idleProcessor) HandleOutgoingCall(s *state.ServiceState, peer domain.RemotePeer, offerType domain.OfferType) *state.ServiceState {
	return p.begin.handleOutgoingCall(s, peer, offerType)
}

func (p *idleProcessor) HandleStartIncomingCall(s *state.ServiceState, peer domain.RemotePeer) *state.ServiceState {
	return p.begin.handleStartIncomingCall(s, peer)
}

func (p *idleProcessor) HandleCallConcluded(s *state.ServiceState, key domain.PeerKey) *state.ServiceState {
	return removeConcludedPeer(s, key)
}
