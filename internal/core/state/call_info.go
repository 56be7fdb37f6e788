package state

import (
	"time"

	"callcore/internal/core/domain"
)

// CallInfoState describes the call and its remote side. Maps are shared
// between snapshots and only ever copied before being written.
type CallInfoState struct {
	callState     domain.CallState
	recipient     domain.RecipientID
	participants  map[domain.ParticipantID]domain.CallParticipant
	peers         map[domain.PeerKey]domain.RemotePeer
	activePeer    *domain.RemotePeer
	connectedTime time.Time
	generation    uint64
}

func newCallInfoState() CallInfoState {
	return CallInfoState{
		callState:    domain.CallStateIdle,
		participants: map[domain.ParticipantID]domain.CallParticipant{},
		peers:        map[domain.PeerKey]domain.RemotePeer{},
	}
}

func (c CallInfoState) clone() CallInfoState {
	participants := make(map[domain.ParticipantID]domain.CallParticipant, len(c.participants))
	for k, v := range c.participants {
		participants[k] = v
	}
	peers := make(map[domain.PeerKey]domain.RemotePeer, len(c.peers))
	for k, v := range c.peers {
		peers[k] = v
	}
	c.participants = participants
	c.peers = peers
	if c.activePeer != nil {
		active := *c.activePeer
		c.activePeer = &active
	}
	return c
}

func (c CallInfoState) CallState() domain.CallState   { return c.callState }
func (c CallInfoState) Recipient() domain.RecipientID { return c.recipient }
func (c CallInfoState) CallConnectedTime() time.Time  { return c.connectedTime }
func (c CallInfoState) Generation() uint64            { return c.generation }
func (c CallInfoState) PeerCount() int                { return len(c.peers) }
func (c CallInfoState) ParticipantCount() int         { return len(c.participants) }
func (c CallInfoState) HasActivePeer() bool           { return c.activePeer != nil }

// ActivePeer returns the peer whose call is locally routed, if there is one.
func (c CallInfoState) ActivePeer() (domain.RemotePeer, bool) {
	if c.activePeer == nil {
		return domain.RemotePeer{}, false
	}
	return *c.activePeer, true
}

// RequireActivePeer is ActivePeer for handlers that only run during a call.
func (c CallInfoState) RequireActivePeer() (domain.RemotePeer, error) {
	if c.activePeer == nil {
		return domain.RemotePeer{}, domain.ErrNoActivePeer
	}
	return *c.activePeer, nil
}

func (c CallInfoState) Peer(key domain.PeerKey) (domain.RemotePeer, bool) {
	p, ok := c.peers[key]
	return p, ok
}

// PeerByCallID finds the peer of recipient that carries callID.
func (c CallInfoState) PeerByCallID(recipient domain.RecipientID, callID domain.CallID) (domain.RemotePeer, bool) {
	for _, p := range c.peers {
		if p.Recipient == recipient && p.CallID == callID {
			return p, true
		}
	}
	return domain.RemotePeer{}, false
}

func (c CallInfoState) Participant(id domain.ParticipantID) (domain.CallParticipant, bool) {
	p, ok := c.participants[id]
	return p, ok
}

// RemoteParticipant returns the primary-device participant of recipient.
func (c CallInfoState) RemoteParticipant(recipient domain.RecipientID) (domain.CallParticipant, bool) {
	return c.Participant(domain.ParticipantID{Recipient: recipient, Ordinal: domain.DeviceOrdinalPrimary})
}

// Participants returns a sorted copy of the participants.
func (c CallInfoState) Participants() []domain.CallParticipant {
	out := make([]domain.CallParticipant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	domain.SortParticipants(out)
	return out
}
