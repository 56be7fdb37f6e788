package domain

import "fmt"

// CallEvent is a lifecycle event reported by the call engine for one peer.
type CallEvent int

const (
	CallEventLocalRinging CallEvent = iota
	CallEventRemoteRinging
	CallEventReconnecting
	CallEventReconnected
	CallEventLocalConnected
	CallEventRemoteConnected
	CallEventRemoteVideoEnable
	CallEventRemoteVideoDisable
	CallEventEndedRemoteHangup
	CallEventEndedRemoteHangupNeedPermission
	CallEventEndedRemoteHangupAccepted
	CallEventEndedRemoteHangupDeclined
	CallEventEndedRemoteHangupBusy
	CallEventEndedRemoteBusy
	CallEventEndedRemoteGlare
	CallEventEndedTimeout
	CallEventEndedInternalFailure
	CallEventEndedSignalingFailure
	CallEventEndedConnectionFailure
	CallEventEndedReceivedOfferExpired
	CallEventEndedReceivedOfferWhileActive
	CallEventEndedReceivedOfferWithGlare
	CallEventEndedLocalHangup
	CallEventEndedAppDroppedCall
)

var callEventNames = [...]string{
	"LOCAL_RINGING",
	"REMOTE_RINGING",
	"RECONNECTING",
	"RECONNECTED",
	"LOCAL_CONNECTED",
	"REMOTE_CONNECTED",
	"REMOTE_VIDEO_ENABLE",
	"REMOTE_VIDEO_DISABLE",
	"ENDED_REMOTE_HANGUP",
	"ENDED_REMOTE_HANGUP_NEED_PERMISSION",
	"ENDED_REMOTE_HANGUP_ACCEPTED",
	"ENDED_REMOTE_HANGUP_DECLINED",
	"ENDED_REMOTE_HANGUP_BUSY",
	"ENDED_REMOTE_BUSY",
	"ENDED_REMOTE_GLARE",
	"ENDED_TIMEOUT",
	"ENDED_INTERNAL_FAILURE",
	"ENDED_SIGNALING_FAILURE",
	"ENDED_CONNECTION_FAILURE",
	"ENDED_RECEIVED_OFFER_EXPIRED",
	"ENDED_RECEIVED_OFFER_WHILE_ACTIVE",
	"ENDED_RECEIVED_OFFER_WITH_GLARE",
	"ENDED_LOCAL_HANGUP",
	"ENDED_APP_DROPPED_CALL",
}

func (e CallEvent) String() string {
	if int(e) >= 0 && int(e) < len(callEventNames) {
		return callEventNames[e]
	}
	return fmt.Sprintf("CallEvent(%d)", int(e))
}

// IsRemoteHangup reports the hangup variants that end the call because the
// other side hung up.
func (e CallEvent) IsRemoteHangup() bool {
	switch e {
	case CallEventEndedRemoteHangup,
		CallEventEndedRemoteHangupNeedPermission,
		CallEventEndedRemoteHangupAccepted,
		CallEventEndedRemoteHangupDeclined,
		CallEventEndedRemoteHangupBusy:
		return true
	default:
		return false
	}
}

// HangupEvent maps a received hangup type to the engine event it ends in.
func HangupEvent(t HangupType) CallEvent {
	switch t {
	case HangupAccepted:
		return CallEventEndedRemoteHangupAccepted
	case HangupDeclined:
		return CallEventEndedRemoteHangupDeclined
	case HangupBusy:
		return CallEventEndedRemoteHangupBusy
	case HangupNeedPermission:
		return CallEventEndedRemoteHangupNeedPermission
	default:
		return CallEventEndedRemoteHangup
	}
}
