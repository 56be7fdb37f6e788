package domain

import "time"

type CallDirection string

const (
	CallDirectionIncoming CallDirection = "incoming"
	CallDirectionOutgoing CallDirection = "outgoing"
)

type CallLogType string

const (
	CallLogMissed   CallLogType = "missed"
	CallLogOutgoing CallLogType = "outgoing"
)

// CallLogEntry is a missed or outgoing call record.
type CallLogEntry struct {
	ID        string        `json:"id"`
	Recipient RecipientID   `json:"recipient"`
	CallID    CallID        `json:"call_id"`
	Direction CallDirection `json:"direction"`
	Type      CallLogType   `json:"type"`
	Video     bool          `json:"video"`
	Timestamp time.Time     `json:"timestamp"`
	// Signal is false when the missed call came from a PSTN collision and no
	// notification should be shown.
	Signal bool `json:"signal"`
}
