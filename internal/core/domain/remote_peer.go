package domain

import (
	"fmt"
	"time"
)

// PeerState is the call-protocol lifecycle of one remote endpoint.
type PeerState int

const (
	PeerStateIdle PeerState = iota
	PeerStateDialing
	PeerStateAnswering
	PeerStateRemoteRinging
	PeerStateLocalRinging
	PeerStateConnected
	PeerStateReceivedBusy
)

func (s PeerState) String() string {
	switch s {
	case PeerStateIdle:
		return "IDLE"
	case PeerStateDialing:
		return "DIALING"
	case PeerStateAnswering:
		return "ANSWERING"
	case PeerStateRemoteRinging:
		return "REMOTE_RINGING"
	case PeerStateLocalRinging:
		return "LOCAL_RINGING"
	case PeerStateConnected:
		return "CONNECTED"
	case PeerStateReceivedBusy:
		return "RECEIVED_BUSY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// RemotePeer is the call-protocol handle for one remote call endpoint. It is a
// value: every lifecycle step returns an updated copy that has to be put back
// into the call-info partition.
type RemotePeer struct {
	Key                PeerKey
	Recipient          RecipientID
	CallID             CallID
	State              PeerState
	CallStartTimestamp time.Time
}

// NewRemotePeer creates a peer for an outgoing call. The call id is assigned
// later by the engine.
func NewRemotePeer(recipient RecipientID) RemotePeer {
	return RemotePeer{
		Key:       nextPeerKey(),
		Recipient: recipient,
		State:     PeerStateIdle,
	}
}

// NewIncomingRemotePeer creates a peer for an offer that already carries its
// call id.
func NewIncomingRemotePeer(recipient RecipientID, callID CallID) RemotePeer {
	p := NewRemotePeer(recipient)
	p.CallID = callID
	return p
}

func (p RemotePeer) WithCallID(callID CallID) RemotePeer {
	p.CallID = callID
	return p
}

func (p RemotePeer) WithCallStartTimestamp(t time.Time) RemotePeer {
	p.CallStartTimestamp = t
	return p
}

func (p RemotePeer) Dialing() RemotePeer       { return p.withState(PeerStateDialing) }
func (p RemotePeer) Answering() RemotePeer     { return p.withState(PeerStateAnswering) }
func (p RemotePeer) RemoteRinging() RemotePeer { return p.withState(PeerStateRemoteRinging) }
func (p RemotePeer) LocalRinging() RemotePeer  { return p.withState(PeerStateLocalRinging) }
func (p RemotePeer) Connected() RemotePeer     { return p.withState(PeerStateConnected) }
func (p RemotePeer) ReceivedBusy() RemotePeer  { return p.withState(PeerStateReceivedBusy) }

func (p RemotePeer) withState(s PeerState) RemotePeer {
	p.State = s
	return p
}

// CallIDEquals reports whether both peers carry the same assigned call id.
// A nil other or an unassigned id never matches.
func (p RemotePeer) CallIDEquals(other *RemotePeer) bool {
	if other == nil || !p.CallID.IsSet() {
		return false
	}
	return p.CallID == other.CallID
}

// IsOutgoingBeforeAccept is true while a dialled call has not been picked up.
func (p RemotePeer) IsOutgoingBeforeAccept() bool {
	return p.State == PeerStateDialing || p.State == PeerStateRemoteRinging
}

// IsIncomingBeforeAccept is true while an incoming call has not been picked up.
func (p RemotePeer) IsIncomingBeforeAccept() bool {
	return p.State == PeerStateAnswering || p.State == PeerStateLocalRinging
}

// PlaysDisconnectTone reports whether tearing the call down should be audible.
// A call still ringing locally never started from the user's point of view.
func (p RemotePeer) PlaysDisconnectTone() bool {
	switch p.State {
	case PeerStateDialing, PeerStateRemoteRinging, PeerStateReceivedBusy, PeerStateConnected:
		return true
	default:
		return false
	}
}

func (p RemotePeer) String() string {
	return fmt.Sprintf("peer{key=%d recipient=%s call_id=%d state=%s}", p.Key, p.Recipient, p.CallID, p.State)
}
