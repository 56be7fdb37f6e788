package state

// CallSetupState holds flags that only matter until the call connects.
type CallSetupState struct {
	enableVideoOnCreate bool
	remoteVideoOffer    bool
	acceptWithVideo     bool
}

func (c CallSetupState) EnableVideoOnCreate() bool { return c.enableVideoOnCreate }
func (c CallSetupState) IsRemoteVideoOffer() bool  { return c.remoteVideoOffer }
func (c CallSetupState) AcceptWithVideo() bool     { return c.acceptWithVideo }
