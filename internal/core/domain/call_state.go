package domain

import "fmt"

// CallState is the user-visible state of the call as carried by the view model.
type CallState int

const (
	CallStateIdle CallState = iota
	CallStatePreJoin
	CallStateIncoming
	CallStateOutgoing
	CallStateConnected
	CallStateRinging
	CallStateBusy
	CallStateDisconnected
	CallStateNeedsPermission
	CallStateReconnecting
	CallStateNetworkFailure
	CallStateRecipientUnavailable
	CallStateNoSuchUser
	CallStateUntrustedIdentity
)

var callStateNames = map[CallState]string{
	CallStateIdle:                 "IDLE",
	CallStatePreJoin:              "CALL_PRE_JOIN",
	CallStateIncoming:             "CALL_INCOMING",
	CallStateOutgoing:             "CALL_OUTGOING",
	CallStateConnected:            "CALL_CONNECTED",
	CallStateRinging:              "CALL_RINGING",
	CallStateBusy:                 "CALL_BUSY",
	CallStateDisconnected:         "CALL_DISCONNECTED",
	CallStateNeedsPermission:      "CALL_NEEDS_PERMISSION",
	CallStateReconnecting:         "CALL_RECONNECTING",
	CallStateNetworkFailure:       "NETWORK_FAILURE",
	CallStateRecipientUnavailable: "RECIPIENT_UNAVAILABLE",
	CallStateNoSuchUser:           "NO_SUCH_USER",
	CallStateUntrustedIdentity:    "UNTRUSTED_IDENTITY",
}

func (s CallState) String() string {
	if name, ok := callStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CallState(%d)", int(s))
}

// IsErrorState reports whether the state terminates the call with a reason.
func (s CallState) IsErrorState() bool {
	switch s {
	case CallStateNetworkFailure, CallStateRecipientUnavailable, CallStateNoSuchUser, CallStateUntrustedIdentity:
		return true
	default:
		return false
	}
}

func (s CallState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *CallState) UnmarshalText(text []byte) error {
	for state, name := range callStateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown call state %q", text)
}

// PhoneState drives the proximity and wake locks.
type PhoneState int

const (
	PhoneStateIdle PhoneState = iota
	PhoneStateProcessing
	PhoneStateInteractive
	PhoneStateInCall
	PhoneStateInHandsFree
	PhoneStateInVideo
)

func (s PhoneState) String() string {
	switch s {
	case PhoneStateIdle:
		return "IDLE"
	case PhoneStateProcessing:
		return "PROCESSING"
	case PhoneStateInteractive:
		return "INTERACTIVE"
	case PhoneStateInCall:
		return "IN_CALL"
	case PhoneStateInHandsFree:
		return "IN_HANDS_FREE"
	case PhoneStateInVideo:
		return "IN_VIDEO"
	default:
		return fmt.Sprintf("PhoneState(%d)", int(s))
	}
}

// NotificationType selects the ongoing-call notification shown by the
// foreground service.
type NotificationType int

const (
	NotificationIncomingRinging NotificationType = iota
	NotificationOutgoingRinging
	NotificationEstablished
	NotificationConnecting
)

func (t NotificationType) String() string {
	switch t {
	case NotificationIncomingRinging:
		return "incoming_ringing"
	case NotificationOutgoingRinging:
		return "outgoing_ringing"
	case NotificationEstablished:
		return "established"
	case NotificationConnecting:
		return "connecting"
	default:
		return fmt.Sprintf("notification(%d)", int(t))
	}
}
