package services

import (
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/internal/core/state"

	"go.uber.org/zap"
)

// callServices is what the processors need from the call manager.
type callServices interface {
	sendCallMessage(generation uint64, peer domain.RemotePeer, msg domain.CallMessage)
	retrieveTurnServers(peer domain.RemotePeer)
	postStateUpdate(s *state.ServiceState)
	insertMissedCall(peer domain.RemotePeer, signal bool, timestamp time.Time, video bool)
	insertOutgoingCall(peer domain.RemotePeer, video bool)
	cameraListener() ports.CameraEventListener
}

type InteractorConfig struct {
	LocalDevice      domain.DeviceID
	LocalIdentityKey []byte
}

// WebRtcInteractor is the façade processors use for every side effect outside
// the state snapshot.
type WebRtcInteractor struct {
	manager       callServices
	engine        ports.CallEngine
	audio         ports.AudioController
	phoneLock     ports.PhoneLock
	foreground    ports.ForegroundService
	appForeground ports.AppForegroundObserver
	video         ports.VideoFactory
	telephony     ports.Telephony
	mainThread    ports.MainThread
	recipients    ports.RecipientDirectory
	config        InteractorConfig
	logger        *zap.SugaredLogger
}

func (ia *WebRtcInteractor) CallEngine() ports.CallEngine         { return ia.engine }
func (ia *WebRtcInteractor) Audio() ports.AudioController         { return ia.audio }
func (ia *WebRtcInteractor) LocalDevice() domain.DeviceID         { return ia.config.LocalDevice }
func (ia *WebRtcInteractor) LocalIdentityKey() []byte             { return ia.config.LocalIdentityKey }
func (ia *WebRtcInteractor) IsAnyPstnLineBusy() bool              { return ia.telephony.IsAnyPstnLineBusy() }
func (ia *WebRtcInteractor) UpdatePhoneState(s domain.PhoneState) { ia.phoneLock.UpdatePhoneState(s) }

func (ia *WebRtcInteractor) IsCallRequestAccepted(recipient domain.RecipientID) bool {
	return ia.recipients.IsCallRequestAccepted(recipient)
}

func (ia *WebRtcInteractor) IsSystemContact(recipient domain.RecipientID) bool {
	return ia.recipients.IsSystemContact(recipient)
}

// SendCallMessage ties the send to the call generation of s, the state the
// calling action is producing.
func (ia *WebRtcInteractor) SendCallMessage(s *state.ServiceState, peer domain.RemotePeer, msg domain.CallMessage) {
	ia.manager.sendCallMessage(s.CallInfo().Generation(), peer, msg)
}

func (ia *WebRtcInteractor) RetrieveTurnServers(peer domain.RemotePeer) {
	ia.manager.retrieveTurnServers(peer)
}

func (ia *WebRtcInteractor) PostStateUpdate(s *state.ServiceState) {
	ia.manager.postStateUpdate(s)
}

func (ia *WebRtcInteractor) InsertMissedCall(peer domain.RemotePeer, signal bool, timestamp time.Time, video bool) {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	ia.manager.insertMissedCall(peer, signal, timestamp, video)
}

func (ia *WebRtcInteractor) InsertOutgoingCall(peer domain.RemotePeer, video bool) {
	ia.manager.insertOutgoingCall(peer, video)
}

func (ia *WebRtcInteractor) StartForegroundService(kind domain.NotificationType, recipient domain.RecipientID) {
	ia.foreground.StartForegroundService(kind, recipient)
}

func (ia *WebRtcInteractor) SetCallInProgressNotification(kind domain.NotificationType, recipient domain.RecipientID) {
	ia.foreground.SetCallInProgressNotification(kind, recipient)
}

func (ia *WebRtcInteractor) StopForegroundService() {
	ia.foreground.StopForegroundService()
}

// RegisterAppForegroundListener re-shows the established-call notification
// whenever the UI comes back to the foreground.
func (ia *WebRtcInteractor) RegisterAppForegroundListener(recipient domain.RecipientID) {
	if ia.appForeground == nil {
		return
	}
	ia.appForeground.AddListener(func(foreground bool) {
		if foreground {
			ia.foreground.SetCallInProgressNotification(domain.NotificationEstablished, recipient)
		}
	})
}

func (ia *WebRtcInteractor) RemoveAppForegroundListener() {
	if ia.appForeground != nil {
		ia.appForeground.RemoveListener()
	}
}

func (ia *WebRtcInteractor) InitializeAudioForCall()          { ia.audio.InitializeAudioForCall() }
func (ia *WebRtcInteractor) StartIncomingRinger(vibrate bool) { ia.audio.StartIncomingRinger(vibrate) }
func (ia *WebRtcInteractor) StartOutgoingRinger()             { ia.audio.StartOutgoingRinger() }
func (ia *WebRtcInteractor) SilenceIncomingRinger()           { ia.audio.SilenceIncomingRinger() }
func (ia *WebRtcInteractor) StopAudio(playDisconnect bool)    { ia.audio.StopAudio(playDisconnect) }
func (ia *WebRtcInteractor) PlayBusyTone()                    { ia.audio.PlayBusyTone() }

func (ia *WebRtcInteractor) StartAudioCommunication(preserveSpeakerphone bool) {
	ia.audio.StartAudioCommunication(preserveSpeakerphone)
}

func (ia *WebRtcInteractor) SetWantsBluetoothConnection(wants bool) {
	ia.audio.SetWantsBluetoothConnection(wants)
}

// RunOnMain runs fn with main-thread affinity and waits for it.
func (ia *WebRtcInteractor) RunOnMain(fn func()) {
	if ia.mainThread == nil {
		fn()
		return
	}
	ia.mainThread.RunSync(fn)
}
