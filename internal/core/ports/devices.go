package ports

import "callcore/internal/core/domain"

// AudioController routes call audio and plays the ringers and tones.
type AudioController interface {
	InitializeAudioForCall()
	StartIncomingRinger(vibrate bool)
	StartOutgoingRinger()
	SilenceIncomingRinger()
	StartAudioCommunication(preserveSpeakerphone bool)
	StopAudio(playDisconnect bool)
	PlayBusyTone()
	SetSpeakerphoneOn(on bool)
	IsSpeakerphoneOn() bool
	SetBluetoothScoOn(on bool)
	IsBluetoothScoOn() bool
	IsWiredHeadsetOn() bool
	SetWantsBluetoothConnection(wants bool)
}

// PhoneLock maps the phone state onto proximity and wake locks.
type PhoneLock interface {
	UpdatePhoneState(state domain.PhoneState)
}

type ForegroundService interface {
	StartForegroundService(kind domain.NotificationType, recipient domain.RecipientID)
	SetCallInProgressNotification(kind domain.NotificationType, recipient domain.RecipientID)
	StopForegroundService()
}

// AppForegroundObserver tells whether the UI is visible and lets the call
// core refresh its notification when it becomes visible again.
type AppForegroundObserver interface {
	AddListener(listener func(foreground bool))
	RemoveListener()
}

type Camera interface {
	SetEnabled(enabled bool)
	Flip()
	CameraState() domain.CameraState
	Dispose()
}

// CameraEventListener is told when an asynchronous camera flip finished.
type CameraEventListener interface {
	OnCameraSwitchCompleted(state domain.CameraState)
}

// VideoFactory creates the local camera together with the sink it renders
// into, and the sink remote video is rendered into.
type VideoFactory interface {
	NewCamera(listener CameraEventListener) (Camera, domain.VideoSink, error)
	NewRenderSink(recipient domain.RecipientID) domain.VideoSink
}

// Telephony reports on the cellular line.
type Telephony interface {
	IsAnyPstnLineBusy() bool
}

// MainThread runs work with UI-thread affinity and waits for it to finish.
type MainThread interface {
	RunSync(fn func())
}

// RecipientDirectory answers the questions the call core has about contacts.
type RecipientDirectory interface {
	IsBlocked(recipient domain.RecipientID) bool
	IsSystemContact(recipient domain.RecipientID) bool
	IsCallRequestAccepted(recipient domain.RecipientID) bool
}
