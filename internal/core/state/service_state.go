// Package state holds the immutable call-service snapshot and its builder.
//
// A ServiceState is never mutated after Build. Handlers derive a new snapshot
// through Builder and hand it back to the call manager, which installs it as
// the current state.
package state

import "fmt"

// Phase selects the action processor that handles the next action.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOutgoing
	PhaseIncoming
	PhaseConnected
	PhaseDisconnecting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOutgoing:
		return "outgoing"
	case PhaseIncoming:
		return "incoming"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type ServiceState struct {
	phase       Phase
	callInfo    CallInfoState
	localDevice LocalDeviceState
	callSetup   CallSetupState
	video       VideoState
}

// New returns the idle snapshot the call manager starts from.
func New() *ServiceState {
	return &ServiceState{
		phase:       PhaseIdle,
		callInfo:    newCallInfoState(),
		localDevice: newLocalDeviceState(),
		callSetup:   CallSetupState{},
		video:       VideoState{},
	}
}

func (s *ServiceState) Phase() Phase                  { return s.phase }
func (s *ServiceState) CallInfo() CallInfoState       { return s.callInfo }
func (s *ServiceState) LocalDevice() LocalDeviceState { return s.localDevice }
func (s *ServiceState) CallSetup() CallSetupState     { return s.callSetup }
func (s *ServiceState) Video() VideoState             { return s.video }

// Builder starts a derivation of s. s itself is left untouched.
func (s *ServiceState) Builder() *Builder {
	return &Builder{toBuild: *s}
}
