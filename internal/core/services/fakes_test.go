package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

// MockCallEngine is a testify mock of the native call engine.
type MockCallEngine struct {
	mock.Mock
}

func (m *MockCallEngine) Call(peer domain.RemotePeer, mediaType domain.CallMediaType, localDevice domain.DeviceID) error {
	return m.Called(peer, mediaType, localDevice).Error(0)
}

func (m *MockCallEngine) Proceed(callID domain.CallID, params ports.ProceedParams) error {
	return m.Called(callID, params).Error(0)
}

func (m *MockCallEngine) ReceivedOffer(call domain.CallMetadata, offer domain.OfferMetadata, received domain.ReceivedOfferMetadata, messageAge time.Duration, localDevice domain.DeviceID, localIdentityKey []byte) error {
	return m.Called(call, offer, received, messageAge, localDevice, localIdentityKey).Error(0)
}

func (m *MockCallEngine) ReceivedAnswer(call domain.CallMetadata, answer domain.AnswerMetadata, received domain.ReceivedAnswerMetadata, localIdentityKey []byte) error {
	return m.Called(call, answer, received, localIdentityKey).Error(0)
}

func (m *MockCallEngine) ReceivedIceCandidates(call domain.CallMetadata, candidates []domain.IceCandidate) error {
	return m.Called(call, candidates).Error(0)
}

func (m *MockCallEngine) ReceivedHangup(call domain.CallMetadata, hangup domain.HangupMetadata) error {
	return m.Called(call, hangup).Error(0)
}

func (m *MockCallEngine) ReceivedBusy(call domain.CallMetadata) error {
	return m.Called(call).Error(0)
}

func (m *MockCallEngine) AcceptCall(callID domain.CallID) error { return m.Called(callID).Error(0) }
func (m *MockCallEngine) Hangup() error                         { return m.Called().Error(0) }
func (m *MockCallEngine) Drop(callID domain.CallID) error       { return m.Called(callID).Error(0) }
func (m *MockCallEngine) Reset() error                          { return m.Called().Error(0) }
func (m *MockCallEngine) MessageSent(callID domain.CallID) error {
	return m.Called(callID).Error(0)
}

func (m *MockCallEngine) MessageSendFailure(callID domain.CallID) error {
	return m.Called(callID).Error(0)
}

func (m *MockCallEngine) SetCommunicationMode() error      { return m.Called().Error(0) }
func (m *MockCallEngine) SetAudioEnable(enable bool) error { return m.Called(enable).Error(0) }
func (m *MockCallEngine) SetVideoEnable(enable bool) error { return m.Called(enable).Error(0) }
func (m *MockCallEngine) Close() error                     { return m.Called().Error(0) }

// allowAll registers a nil-returning expectation for every engine method.
// Expectations registered earlier take precedence.
func (m *MockCallEngine) allowAll() {
	anything := mock.Anything
	m.On("Call", anything, anything, anything).Return(nil).Maybe()
	m.On("Proceed", anything, anything).Return(nil).Maybe()
	m.On("ReceivedOffer", anything, anything, anything, anything, anything, anything).Return(nil).Maybe()
	m.On("ReceivedAnswer", anything, anything, anything, anything).Return(nil).Maybe()
	m.On("ReceivedIceCandidates", anything, anything).Return(nil).Maybe()
	m.On("ReceivedHangup", anything, anything).Return(nil).Maybe()
	m.On("ReceivedBusy", anything).Return(nil).Maybe()
	m.On("AcceptCall", anything).Return(nil).Maybe()
	m.On("Hangup").Return(nil).Maybe()
	m.On("Drop", anything).Return(nil).Maybe()
	m.On("Reset").Return(nil).Maybe()
	m.On("MessageSent", anything).Return(nil).Maybe()
	m.On("MessageSendFailure", anything).Return(nil).Maybe()
	m.On("SetCommunicationMode").Return(nil).Maybe()
	m.On("SetAudioEnable", anything).Return(nil).Maybe()
	m.On("SetVideoEnable", anything).Return(nil).Maybe()
	m.On("Close").Return(nil).Maybe()
}

// calledPeer returns the peer passed to the most recent Call. Read it only
// after Sync so the action goroutine has finished with the mock.
func (m *MockCallEngine) calledPeer() (domain.RemotePeer, bool) {
	for i := len(m.Calls) - 1; i >= 0; i-- {
		if m.Calls[i].Method == "Call" {
			return m.Calls[i].Arguments.Get(0).(domain.RemotePeer), true
		}
	}
	return domain.RemotePeer{}, false
}

// proceedParams returns the params of the most recent Proceed.
func (m *MockCallEngine) proceedParams() (ports.ProceedParams, bool) {
	for i := len(m.Calls) - 1; i >= 0; i-- {
		if m.Calls[i].Method == "Proceed" {
			return m.Calls[i].Arguments.Get(1).(ports.ProceedParams), true
		}
	}
	return ports.ProceedParams{}, false
}

type sentMessage struct {
	recipient  domain.RecipientID
	msg        domain.CallMessage
	generation uint64
}

type fakeSignaling struct {
	mu   sync.Mutex
	sent []sentMessage
	fail func(msg domain.CallMessage) error
}

func (f *fakeSignaling) SendCallMessage(_ context.Context, recipient domain.RecipientID, msg domain.CallMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(msg); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, sentMessage{recipient: recipient, msg: msg})
	return nil
}

func (f *fakeSignaling) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeSignaling) setFailure(fn func(msg domain.CallMessage) error) {
	f.mu.Lock()
	f.fail = fn
	f.mu.Unlock()
}

type fakeTurn struct {
	info domain.TurnServerInfo
	err  error
}

func (f *fakeTurn) TurnServerInfo(context.Context) (domain.TurnServerInfo, error) {
	return f.info, f.err
}

type fakeCallLog struct {
	mu      sync.Mutex
	entries []domain.CallLogEntry
}

func (f *fakeCallLog) Insert(_ context.Context, entry domain.CallLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeCallLog) List(_ context.Context, limit int) ([]domain.CallLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > len(f.entries) {
		limit = len(f.entries)
	}
	return append([]domain.CallLogEntry(nil), f.entries[:limit]...), nil
}

func (f *fakeCallLog) ListByRecipient(ctx context.Context, recipient domain.RecipientID, limit int) ([]domain.CallLogEntry, error) {
	all, _ := f.List(ctx, 0)
	var out []domain.CallLogEntry
	for _, e := range all {
		if e.Recipient == recipient {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeCallLog) all() []domain.CallLogEntry {
	entries, _ := f.List(context.Background(), 0)
	return entries
}

// recorder collects the names of device calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(format string, args ...interface{}) {
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeAudio struct {
	recorder
	speaker   bool
	bluetooth bool
	headset   bool
}

func (a *fakeAudio) InitializeAudioForCall()          { a.record("InitializeAudioForCall") }
func (a *fakeAudio) StartIncomingRinger(vibrate bool) { a.record("StartIncomingRinger(%t)", vibrate) }
func (a *fakeAudio) StartOutgoingRinger()             { a.record("StartOutgoingRinger") }
func (a *fakeAudio) SilenceIncomingRinger()           { a.record("SilenceIncomingRinger") }
func (a *fakeAudio) StopAudio(playDisconnect bool)    { a.record("StopAudio(%t)", playDisconnect) }
func (a *fakeAudio) PlayBusyTone()                    { a.record("PlayBusyTone") }
func (a *fakeAudio) IsSpeakerphoneOn() bool           { return a.speaker }
func (a *fakeAudio) IsBluetoothScoOn() bool           { return a.bluetooth }
func (a *fakeAudio) IsWiredHeadsetOn() bool           { return a.headset }

func (a *fakeAudio) StartAudioCommunication(preserveSpeakerphone bool) {
	a.record("StartAudioCommunication(%t)", preserveSpeakerphone)
}

func (a *fakeAudio) SetSpeakerphoneOn(on bool) {
	a.speaker = on
	a.record("SetSpeakerphoneOn(%t)", on)
}

func (a *fakeAudio) SetBluetoothScoOn(on bool) {
	a.bluetooth = on
	a.record("SetBluetoothScoOn(%t)", on)
}

func (a *fakeAudio) SetWantsBluetoothConnection(wants bool) {
	a.record("SetWantsBluetoothConnection(%t)", wants)
}

type fakePhoneLock struct {
	mu     sync.Mutex
	states []domain.PhoneState
}

func (l *fakePhoneLock) UpdatePhoneState(s domain.PhoneState) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *fakePhoneLock) last() domain.PhoneState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.states) == 0 {
		return domain.PhoneStateIdle
	}
	return l.states[len(l.states)-1]
}

type fakeForeground struct {
	recorder
}

func (f *fakeForeground) StartForegroundService(kind domain.NotificationType, recipient domain.RecipientID) {
	f.record("Start(%d,%s)", kind, recipient)
}

func (f *fakeForeground) SetCallInProgressNotification(kind domain.NotificationType, recipient domain.RecipientID) {
	f.record("Update(%d,%s)", kind, recipient)
}

func (f *fakeForeground) StopForegroundService() { f.record("Stop") }

type fakeSink struct{ name string }

func (s *fakeSink) Write(p []byte) (int, error) { return len(p), nil }

type fakeCamera struct {
	mu        sync.Mutex
	direction domain.CameraDirection
	enabled   bool
	disposed  bool
}

func (c *fakeCamera) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if enabled && c.direction == domain.CameraDirectionNone {
		c.direction = domain.CameraDirectionFront
	}
}

func (c *fakeCamera) Flip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.direction = c.direction.Switch()
}

func (c *fakeCamera) CameraState() domain.CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return domain.CameraState{ActiveDirection: domain.CameraDirectionNone, CameraCount: 2}
	}
	return domain.CameraState{ActiveDirection: c.direction, CameraCount: 2}
}

func (c *fakeCamera) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.mu.Unlock()
}

func (c *fakeCamera) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

type fakeVideo struct {
	mu      sync.Mutex
	cameras []*fakeCamera
	err     error
}

func (v *fakeVideo) NewCamera(ports.CameraEventListener) (ports.Camera, domain.VideoSink, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return nil, nil, v.err
	}
	c := &fakeCamera{}
	v.cameras = append(v.cameras, c)
	return c, &fakeSink{name: "local"}, nil
}

func (v *fakeVideo) NewRenderSink(recipient domain.RecipientID) domain.VideoSink {
	return &fakeSink{name: string(recipient)}
}

func (v *fakeVideo) lastCamera() *fakeCamera {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.cameras) == 0 {
		return nil
	}
	return v.cameras[len(v.cameras)-1]
}

type fakeTelephony struct {
	mu   sync.Mutex
	busy bool
}

func (t *fakeTelephony) IsAnyPstnLineBusy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy
}

type fakeRecipients struct {
	blocked     map[domain.RecipientID]bool
	strangers   map[domain.RecipientID]bool
	notAccepted map[domain.RecipientID]bool
}

func (r *fakeRecipients) IsBlocked(id domain.RecipientID) bool       { return r.blocked[id] }
func (r *fakeRecipients) IsSystemContact(id domain.RecipientID) bool { return !r.strangers[id] }
func (r *fakeRecipients) IsCallRequestAccepted(id domain.RecipientID) bool {
	return !r.notAccepted[id]
}

type fakeObserver struct {
	mu     sync.Mutex
	posted []domain.WebRtcViewModel
}

func (o *fakeObserver) OnCallStateChanged(vm domain.WebRtcViewModel) {
	o.mu.Lock()
	o.posted = append(o.posted, vm)
	o.mu.Unlock()
}

func (o *fakeObserver) states() []domain.CallState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.CallState, 0, len(o.posted))
	for _, vm := range o.posted {
		out = append(out, vm.State)
	}
	return out
}

func (o *fakeObserver) last() (domain.WebRtcViewModel, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.posted) == 0 {
		return domain.WebRtcViewModel{}, false
	}
	return o.posted[len(o.posted)-1], true
}
