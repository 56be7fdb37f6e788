package device

import (
	"sync"

	"go.uber.org/zap"
)

// AudioRouter is the audio controller of a headless device. It has no
// hardware to drive, so it keeps the routing state the call manager asks for
// and logs every transition.
type AudioRouter struct {
	mu            sync.Mutex
	speakerphone  bool
	bluetoothSco  bool
	wantsSco      bool
	wiredHeadset  bool
	ringing       bool
	communicating bool
	logger        *zap.SugaredLogger
}

func NewAudioRouter(logger *zap.SugaredLogger) *AudioRouter {
	return &AudioRouter{logger: logger.With("component", "audio")}
}

func (a *AudioRouter) InitializeAudioForCall() {
	a.logger.Debug("audio initialized for call")
}

func (a *AudioRouter) StartIncomingRinger(vibrate bool) {
	a.mu.Lock()
	a.ringing = true
	a.mu.Unlock()
	a.logger.Infow("incoming ringer started", "vibrate", vibrate)
}

func (a *AudioRouter) StartOutgoingRinger() {
	a.mu.Lock()
	a.ringing = true
	a.mu.Unlock()
	a.logger.Info("outgoing ringback started")
}

func (a *AudioRouter) SilenceIncomingRinger() {
	a.mu.Lock()
	a.ringing = false
	a.mu.Unlock()
	a.logger.Info("incoming ringer silenced")
}

func (a *AudioRouter) StartAudioCommunication(preserveSpeakerphone bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ringing = false
	a.communicating = true
	if !preserveSpeakerphone {
		a.speakerphone = false
	}
	a.logger.Infow("audio communication started", "speakerphone", a.speakerphone)
}

func (a *AudioRouter) StopAudio(playDisconnect bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ringing = false
	a.communicating = false
	a.bluetoothSco = false
	a.wantsSco = false
	a.logger.Infow("audio stopped", "play_disconnect", playDisconnect)
}

func (a *AudioRouter) PlayBusyTone() {
	a.logger.Info("playing busy tone")
}

func (a *AudioRouter) SetSpeakerphoneOn(on bool) {
	a.mu.Lock()
	a.speakerphone = on
	a.mu.Unlock()
}

func (a *AudioRouter) IsSpeakerphoneOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speakerphone
}

func (a *AudioRouter) SetBluetoothScoOn(on bool) {
	a.mu.Lock()
	a.bluetoothSco = on
	a.mu.Unlock()
}

func (a *AudioRouter) IsBluetoothScoOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bluetoothSco
}

// SetWiredHeadset records a headset being plugged in or removed.
func (a *AudioRouter) SetWiredHeadset(plugged bool) {
	a.mu.Lock()
	a.wiredHeadset = plugged
	a.mu.Unlock()
	a.logger.Infow("wired headset changed", "plugged", plugged)
}

func (a *AudioRouter) IsWiredHeadsetOn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.wiredHeadset
}

func (a *AudioRouter) SetWantsBluetoothConnection(wants bool) {
	a.mu.Lock()
	a.wantsSco = wants
	a.mu.Unlock()
}

// Ringing reports whether a ringer or ringback tone is playing.
func (a *AudioRouter) Ringing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ringing
}

func (a *AudioRouter) Communicating() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.communicating
}
