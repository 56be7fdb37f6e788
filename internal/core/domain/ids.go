package domain

import (
	"fmt"
	"sync/atomic"
)

// RecipientID identifies a human on the messaging service. One recipient may
// own several devices.
type RecipientID string

// DeviceID is a device number within a recipient's account. Zero addresses all
// devices of the recipient.
type DeviceID uint32

// CallID is the identifier the call engine assigns to a call. Zero means the
// engine has not assigned one yet.
type CallID uint64

// PeerKey is the stable key a RemotePeer is filed under in the peer map. The
// call engine hands it back on every callback.
type PeerKey uint64

// Format renders the call id the way call logs print it: "<call>-<device>".
func (c CallID) Format(device DeviceID) string {
	return fmt.Sprintf("%d-%d", uint64(c), uint32(device))
}

func (c CallID) IsSet() bool {
	return c != 0
}

var peerKeySeq atomic.Uint64

func nextPeerKey() PeerKey {
	return PeerKey(peerKeySeq.Add(1))
}
