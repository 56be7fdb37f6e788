package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/internal/core/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	bob   domain.RecipientID = "bob"
	carol domain.RecipientID = "carol"
)

type harness struct {
	t          *testing.T
	manager    *CallManager
	engine     *MockCallEngine
	signaling  *fakeSignaling
	turn       *fakeTurn
	callLog    *fakeCallLog
	audio      *fakeAudio
	phoneLock  *fakePhoneLock
	foreground *fakeForeground
	video      *fakeVideo
	telephony  *fakeTelephony
	recipients *fakeRecipients
	observer   *fakeObserver
}

// newHarness builds a manager around fakes. expect registers engine
// expectations that must win over the permissive defaults.
func newHarness(t *testing.T, expect func(e *MockCallEngine)) *harness {
	t.Helper()

	h := &harness{
		t:          t,
		engine:     &MockCallEngine{},
		signaling:  &fakeSignaling{},
		turn:       &fakeTurn{info: domain.TurnServerInfo{Username: "u", Password: "p", URLs: []string{"turn:turn.example.org:3478"}}},
		callLog:    &fakeCallLog{},
		audio:      &fakeAudio{},
		phoneLock:  &fakePhoneLock{},
		foreground: &fakeForeground{},
		video:      &fakeVideo{},
		telephony:  &fakeTelephony{},
		recipients: &fakeRecipients{blocked: map[domain.RecipientID]bool{}, strangers: map[domain.RecipientID]bool{}, notAccepted: map[domain.RecipientID]bool{}},
		observer:   &fakeObserver{},
	}
	if expect != nil {
		expect(h.engine)
	}
	h.engine.allowAll()

	cfg := DefaultManagerConfig()
	cfg.SendTimeout = time.Second
	cfg.TurnTimeout = time.Second

	m, err := NewCallManager(cfg, Dependencies{
		NewEngine:  func(ports.EngineObserver) (ports.CallEngine, error) { return h.engine, nil },
		Signaling:  h.signaling,
		Turn:       h.turn,
		CallLog:    h.callLog,
		Recipients: h.recipients,
		Audio:      h.audio,
		PhoneLock:  h.phoneLock,
		Foreground: h.foreground,
		Video:      h.video,
		Telephony:  h.telephony,
		Observers:  []ports.StateObserver{h.observer},
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	h.manager = m
	t.Cleanup(func() { _ = m.Close() })
	return h
}

func (h *harness) sync() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.manager.Sync(ctx))
}

// state reads the current snapshot on the action goroutine.
func (h *harness) state() *state.ServiceState {
	h.t.Helper()
	result := make(chan *state.ServiceState, 1)
	require.NoError(h.t, h.manager.serviceExecutor.Submit(func() { result <- h.manager.serviceState }))
	select {
	case s := <-result:
		return s
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out reading state")
		return nil
	}
}

func (h *harness) activePeer() domain.RemotePeer {
	h.t.Helper()
	peer, ok := h.state().CallInfo().ActivePeer()
	require.True(h.t, ok, "expected an active peer")
	return peer
}

// startOutgoing dials recipient and plays the engine's start callback.
func (h *harness) startOutgoing(recipient domain.RecipientID, callID domain.CallID) domain.RemotePeer {
	h.t.Helper()
	h.manager.OutgoingCall(recipient, domain.OfferTypeAudio)
	h.sync()

	peer, ok := h.engine.calledPeer()
	require.True(h.t, ok)
	require.Equal(h.t, recipient, peer.Recipient)

	h.manager.OnStartCall(peer.Key, callID, true, domain.CallMediaTypeAudio)
	h.sync()
	return h.activePeer()
}

// startIncoming delivers an offer from recipient and plays the engine's start
// callback.
func (h *harness) startIncoming(recipient domain.RecipientID, callID domain.CallID) domain.RemotePeer {
	h.t.Helper()
	h.manager.ReceivedOffer(recipient, callID, 1, domain.OfferMetadata{SDP: "v=0", OfferType: domain.OfferTypeAudio}, receivedNow())
	h.sync()

	peer, ok := h.state().CallInfo().PeerByCallID(recipient, callID)
	require.True(h.t, ok)

	h.manager.OnStartCall(peer.Key, callID, false, domain.CallMediaTypeAudio)
	h.sync()
	return h.activePeer()
}

func receivedNow() domain.ReceivedOfferMetadata {
	now := time.Now()
	return domain.ReceivedOfferMetadata{ServerReceivedTimestamp: now, ServerDeliveredTimestamp: now}
}

func messagesOfType(msgs []sentMessage, t domain.CallMessageType) []sentMessage {
	var out []sentMessage
	for _, m := range msgs {
		if m.msg.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func TestCallManager_OutgoingCallLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	h.manager.OutgoingCall(bob, domain.OfferTypeAudio)
	h.sync()

	s := h.state()
	assert.Equal(t, state.PhaseOutgoing, s.Phase())
	assert.Equal(t, domain.CallStateOutgoing, s.CallInfo().CallState())
	assert.False(t, s.CallInfo().HasActivePeer())
	assert.Equal(t, []domain.CallState{domain.CallStateOutgoing}, h.observer.states())

	peer, ok := h.engine.calledPeer()
	require.True(t, ok)
	h.engine.AssertCalled(t, "Call", peer, domain.CallMediaTypeAudio, domain.DeviceID(1))

	h.manager.OnStartCall(peer.Key, 42, true, domain.CallMediaTypeAudio)
	h.sync()

	active := h.activePeer()
	assert.Equal(t, domain.CallID(42), active.CallID)
	assert.Equal(t, domain.PeerStateDialing, active.State)
	assert.Contains(t, h.audio.recorded(), "InitializeAudioForCall")
	assert.Contains(t, h.audio.recorded(), "StartOutgoingRinger")

	params, ok := h.engine.proceedParams()
	require.True(t, ok, "turn servers should have been handed to the engine")
	assert.False(t, params.HideIP)
	require.Len(t, params.IceServers, 2)
	assert.Equal(t, []string{"turn:turn.example.org:3478"}, params.IceServers[1].URLs)

	entries := h.callLog.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.CallLogOutgoing, entries[0].Type)
	assert.Equal(t, bob, entries[0].Recipient)

	h.manager.OnSendOffer(42, peer.Key, 0, true, domain.OfferMetadata{SDP: "v=0", OfferType: domain.OfferTypeAudio})
	h.sync()

	offers := messagesOfType(h.signaling.messages(), domain.CallMessageOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, bob, offers[0].recipient)
	assert.Equal(t, domain.CallID(42), offers[0].msg.CallID)
	h.engine.AssertCalled(t, "MessageSent", domain.CallID(42))

	h.manager.OnCallEvent(peer.Key, 42, domain.CallEventRemoteRinging)
	h.sync()
	assert.Equal(t, domain.CallStateRinging, h.state().CallInfo().CallState())

	h.manager.ReceivedAnswer(bob, 42, 2, domain.AnswerMetadata{SDP: "v=0"}, domain.ReceivedAnswerMetadata{})
	h.sync()
	h.engine.AssertCalled(t, "ReceivedAnswer", mock.MatchedBy(func(c domain.CallMetadata) bool {
		return c.CallID == 42 && c.Peer.Key == peer.Key && c.RemoteDevice == 2
	}), mock.Anything, mock.Anything, mock.Anything)

	h.manager.OnCallEvent(peer.Key, 42, domain.CallEventRemoteConnected)
	h.sync()

	s = h.state()
	assert.Equal(t, state.PhaseConnected, s.Phase())
	assert.Equal(t, domain.CallStateConnected, s.CallInfo().CallState())
	assert.False(t, s.CallInfo().CallConnectedTime().IsZero())
	assert.Contains(t, h.audio.recorded(), "StartAudioCommunication(true)")
	h.engine.AssertCalled(t, "SetCommunicationMode")
	h.engine.AssertCalled(t, "SetAudioEnable", true)
	h.engine.AssertCalled(t, "SetVideoEnable", false)
	assert.Equal(t, domain.PhoneStateInCall, h.phoneLock.last())

	var inCall bool
	h.manager.IsInCall(func(v bool) { inCall = v })
	h.sync()
	assert.True(t, inCall)

	h.manager.LocalHangup()
	h.sync()

	s = h.state()
	assert.Equal(t, state.PhaseDisconnecting, s.Phase())
	assert.False(t, s.CallInfo().HasActivePeer())
	assert.Equal(t, 1, s.CallInfo().PeerCount(), "peer stays until the engine concludes the call")
	h.engine.AssertCalled(t, "Hangup")
	assert.Contains(t, h.audio.recorded(), "StopAudio(true)")
	assert.Equal(t, domain.PhoneStateIdle, h.phoneLock.last())
	assert.Contains(t, h.foreground.recorded(), "Stop")
	assert.True(t, h.video.lastCamera().isDisposed())

	states := h.observer.states()
	assert.Equal(t, domain.CallStateDisconnected, states[len(states)-1])

	h.manager.OnCallConcluded(peer.Key)
	h.sync()

	s = h.state()
	assert.Equal(t, state.PhaseIdle, s.Phase())
	assert.Equal(t, 0, s.CallInfo().PeerCount())

	h.manager.IsInCall(func(v bool) { inCall = v })
	h.sync()
	assert.False(t, inCall)
}

func TestCallManager_IncomingCallAccepted(t *testing.T) {
	h := newHarness(t, nil)
	h.recipients.strangers[carol] = true

	active := h.startIncoming(carol, 7)

	s := h.state()
	assert.Equal(t, state.PhaseIncoming, s.Phase())
	assert.Equal(t, domain.CallStateIncoming, s.CallInfo().CallState())
	assert.Equal(t, domain.PeerStateAnswering, active.State)

	params, ok := h.engine.proceedParams()
	require.True(t, ok)
	assert.True(t, params.HideIP, "callers outside the contact list must not learn our address")

	h.manager.OnCallEvent(active.Key, active.CallID, domain.CallEventLocalRinging)
	h.sync()
	assert.Equal(t, domain.PeerStateLocalRinging, h.activePeer().State)
	assert.Contains(t, h.audio.recorded(), "StartIncomingRinger(true)")

	h.manager.ScreenOff()
	h.sync()
	assert.Contains(t, h.audio.recorded(), "SilenceIncomingRinger")

	h.manager.AcceptCall(false)
	h.sync()
	h.engine.AssertCalled(t, "AcceptCall", domain.CallID(7))

	h.manager.OnCallEvent(active.Key, active.CallID, domain.CallEventLocalConnected)
	h.sync()

	s = h.state()
	assert.Equal(t, state.PhaseConnected, s.Phase())
	assert.Equal(t, domain.CallStateConnected, s.CallInfo().CallState())
	assert.Contains(t, h.audio.recorded(), "StartAudioCommunication(false)")
}

func TestCallManager_DenyIncomingCall(t *testing.T) {
	h := newHarness(t, nil)
	active := h.startIncoming(carol, 7)

	// Not ringing yet: deny is refused.
	h.manager.DenyCall()
	h.sync()
	h.engine.AssertNotCalled(t, "Hangup")

	h.manager.OnCallEvent(active.Key, active.CallID, domain.CallEventLocalRinging)
	h.manager.DenyCall()
	h.sync()

	h.engine.AssertCalled(t, "Hangup")
	s := h.state()
	assert.Equal(t, state.PhaseDisconnecting, s.Phase())
	assert.Contains(t, h.audio.recorded(), "StopAudio(false)")
	assert.NotContains(t, h.audio.recorded(), "StopAudio(true)")

	entries := h.callLog.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.CallLogMissed, entries[0].Type)
	assert.Equal(t, carol, entries[0].Recipient)
}

func TestCallManager_OfferWhilePstnBusy(t *testing.T) {
	h := newHarness(t, nil)
	h.telephony.busy = true

	h.manager.ReceivedOffer(carol, 9, 3, domain.OfferMetadata{SDP: "v=0", OfferType: domain.OfferTypeVideo}, receivedNow())
	h.sync()

	busy := messagesOfType(h.signaling.messages(), domain.CallMessageBusy)
	require.Len(t, busy, 1)
	assert.Equal(t, carol, busy[0].recipient)
	assert.Equal(t, domain.CallID(9), busy[0].msg.CallID)

	entries := h.callLog.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.CallLogMissed, entries[0].Type)
	assert.False(t, entries[0].Signal)
	assert.True(t, entries[0].Video)

	h.engine.AssertNotCalled(t, "ReceivedOffer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, state.PhaseIdle, h.state().Phase())
	assert.Empty(t, h.observer.states())
}

func TestCallManager_OfferWithoutAcceptedRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.recipients.notAccepted[carol] = true

	h.manager.ReceivedOffer(carol, 9, 3, domain.OfferMetadata{SDP: "v=0", OfferType: domain.OfferTypeAudio}, receivedNow())
	h.sync()

	hangups := messagesOfType(h.signaling.messages(), domain.CallMessageHangup)
	require.Len(t, hangups, 1)
	assert.Equal(t, domain.HangupNeedPermission, hangups[0].msg.HangupType)
	require.Len(t, h.callLog.all(), 1)
	h.engine.AssertNotCalled(t, "ReceivedOffer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCallManager_SecondCallerWhileActive(t *testing.T) {
	h := newHarness(t, nil)
	first := h.startOutgoing(bob, 42)

	h.manager.ReceivedOffer(carol, 50, 1, domain.OfferMetadata{SDP: "v=0", OfferType: domain.OfferTypeVideo}, receivedNow())
	h.sync()

	second, ok := h.state().CallInfo().PeerByCallID(carol, 50)
	require.True(t, ok)
	assert.False(t, h.state().CallSetup().IsRemoteVideoOffer(), "second offer must not change the active call's setup")

	h.manager.OnSendBusy(50, second.Key, 1, false)
	h.manager.OnCallEvent(second.Key, second.CallID, domain.CallEventEndedReceivedOfferWhileActive)
	h.sync()

	busy := messagesOfType(h.signaling.messages(), domain.CallMessageBusy)
	require.Len(t, busy, 1)
	assert.Equal(t, carol, busy[0].recipient)
	assert.Equal(t, domain.DeviceID(1), busy[0].msg.DestinationDevice)

	active := h.activePeer()
	assert.Equal(t, first.Key, active.Key)
	assert.Equal(t, state.PhaseOutgoing, h.state().Phase())

	var missed []domain.CallLogEntry
	for _, e := range h.callLog.all() {
		if e.Type == domain.CallLogMissed {
			missed = append(missed, e)
		}
	}
	require.Len(t, missed, 1)
	assert.Equal(t, carol, missed[0].Recipient)
}

func TestCallManager_GlareTakeoverRecordsOfferMediaType(t *testing.T) {
	h := newHarness(t, nil)
	outgoing := h.startOutgoing(bob, 42)

	h.manager.ReceivedOffer(bob, 50, 1, domain.OfferMetadata{SDP: "v=0", OfferType: domain.OfferTypeVideo}, receivedNow())
	h.sync()
	assert.False(t, h.state().CallSetup().IsRemoteVideoOffer())

	incoming, ok := h.state().CallInfo().PeerByCallID(bob, 50)
	require.True(t, ok)

	h.manager.OnCallEvent(outgoing.Key, outgoing.CallID, domain.CallEventEndedRemoteGlare)
	h.manager.OnCallConcluded(outgoing.Key)
	h.manager.OnStartCall(incoming.Key, 50, false, domain.CallMediaTypeVideo)
	h.sync()

	s := h.state()
	assert.Equal(t, state.PhaseIncoming, s.Phase())
	assert.True(t, s.CallSetup().IsRemoteVideoOffer())
	assert.Equal(t, domain.CallID(50), h.activePeer().CallID)

	participant, ok := s.CallInfo().RemoteParticipant(bob)
	require.True(t, ok)
	assert.True(t, participant.VideoEnabled)
}

func TestCallManager_RemoteBusy(t *testing.T) {
	h := newHarness(t, nil)
	peer := h.startOutgoing(bob, 42)

	h.manager.OnCallEvent(peer.Key, peer.CallID, domain.CallEventEndedRemoteBusy)
	h.sync()

	assert.Contains(t, h.observer.states(), domain.CallStateBusy)
	assert.Contains(t, h.audio.recorded(), "PlayBusyTone")
	assert.Contains(t, h.audio.recorded(), "StopAudio(true)")
	assert.Equal(t, state.PhaseIdle, h.state().Phase())
}

func TestCallManager_RemoteHangupBeforeAnswer(t *testing.T) {
	h := newHarness(t, nil)
	peer := h.startOutgoing(bob, 42)

	h.manager.OnCallEvent(peer.Key, peer.CallID, domain.CallEventEndedRemoteHangup)
	h.sync()

	assert.Contains(t, h.observer.states(), domain.CallStateRecipientUnavailable)
	assert.Equal(t, state.PhaseIdle, h.state().Phase())
}

func TestCallManager_EngineCallbackForUnknownPeerIsDropped(t *testing.T) {
	h := newHarness(t, nil)

	h.manager.OnSendOffer(99, domain.PeerKey(123456789), 0, true, domain.OfferMetadata{SDP: "v=0"})
	h.manager.OnStartCall(domain.PeerKey(123456789), 100, true, domain.CallMediaTypeAudio)
	h.manager.OnCallEvent(domain.PeerKey(123456789), 101, domain.CallEventRemoteRinging)
	h.sync()

	h.engine.AssertCalled(t, "Drop", domain.CallID(99))
	h.engine.AssertCalled(t, "Drop", domain.CallID(100))
	h.engine.AssertCalled(t, "Drop", domain.CallID(101))
	h.engine.AssertNumberOfCalls(t, "Drop", 3)
	assert.Empty(t, h.signaling.messages())
	assert.Equal(t, state.PhaseIdle, h.state().Phase())
}

func TestCallManager_EngineFailureOnDial(t *testing.T) {
	h := newHarness(t, func(e *MockCallEngine) {
		e.On("Call", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("no audio device"))
	})

	h.manager.OutgoingCall(bob, domain.OfferTypeVideo)
	h.sync()

	s := h.state()
	assert.Equal(t, state.PhaseIdle, s.Phase())
	assert.Equal(t, 0, s.CallInfo().PeerCount())
	assert.False(t, s.Video().IsInitialized())
	assert.True(t, h.video.lastCamera().isDisposed())
	h.engine.AssertCalled(t, "Reset")
	assert.Empty(t, h.observer.states())
}

func TestCallManager_SendFailureMapsToErrorState(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		state domain.CallState
	}{
		{"unregistered recipient", domain.ErrUnregisteredUser, domain.CallStateNoSuchUser},
		{"untrusted identity", &domain.UntrustedIdentityError{Recipient: bob, IdentityKey: []byte{1, 2, 3}}, domain.CallStateUntrustedIdentity},
		{"transport failure", errors.New("connection reset"), domain.CallStateNetworkFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			peer := h.startOutgoing(bob, 42)

			h.signaling.setFailure(func(domain.CallMessage) error { return tt.err })
			h.manager.OnSendOffer(42, peer.Key, 0, true, domain.OfferMetadata{SDP: "v=0"})
			h.sync()

			h.engine.AssertCalled(t, "MessageSendFailure", domain.CallID(42))
			h.engine.AssertNotCalled(t, "MessageSent", domain.CallID(42))
			assert.Equal(t, tt.state, h.state().CallInfo().CallState())

			vm, ok := h.observer.last()
			require.True(t, ok)
			assert.Equal(t, tt.state, vm.State)

			if tt.state == domain.CallStateUntrustedIdentity {
				participant, found := h.state().CallInfo().RemoteParticipant(bob)
				require.True(t, found)
				assert.Equal(t, []byte{1, 2, 3}, participant.IdentityKey)
			}
		})
	}
}

func TestCallManager_StaleSendFailureIsReportedAsSent(t *testing.T) {
	h := newHarness(t, nil)
	first := h.startOutgoing(bob, 42)
	generation := h.state().CallInfo().Generation()

	h.manager.LocalHangup()
	h.manager.OnCallConcluded(first.Key)
	h.sync()

	h.startOutgoing(carol, 43)
	before := h.state().CallInfo().CallState()

	h.manager.processSendFailure(first, generation, domain.CallStateNetworkFailure, nil)
	h.sync()

	h.engine.AssertCalled(t, "MessageSent", domain.CallID(42))
	h.engine.AssertNotCalled(t, "MessageSendFailure", domain.CallID(42))
	assert.Equal(t, before, h.state().CallInfo().CallState())
	assert.Equal(t, carol, h.activePeer().Recipient)
}

func TestCallManager_SendFailureForCurrentCall(t *testing.T) {
	h := newHarness(t, nil)
	peer := h.startOutgoing(bob, 42)
	generation := h.state().CallInfo().Generation()

	h.manager.processSendFailure(peer, generation, domain.CallStateNetworkFailure, nil)
	h.sync()

	h.engine.AssertCalled(t, "MessageSendFailure", domain.CallID(42))
	assert.Equal(t, domain.CallStateNetworkFailure, h.state().CallInfo().CallState())
}

func TestCallManager_SendFailureAfterActivationInSameAction(t *testing.T) {
	h := newHarness(t, nil)
	h.manager.OutgoingCall(bob, domain.OfferTypeAudio)
	h.sync()

	dialed, ok := h.engine.calledPeer()
	require.True(t, ok)
	before := h.state().CallInfo().Generation()

	h.signaling.setFailure(func(domain.CallMessage) error { return errors.New("connection reset") })
	h.manager.process("start_and_offer", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		peer, ok := s.CallInfo().Peer(dialed.Key)
		if !ok {
			return s
		}
		s = p.HandleStartOutgoingCall(s, peer.WithCallID(42))
		active, _ := s.CallInfo().ActivePeer()
		call := domain.CallMetadata{Peer: active, CallID: 42}
		return p.HandleSendOffer(s, call, domain.OfferMetadata{SDP: "v=0"}, true)
	})
	h.sync()

	assert.NotEqual(t, before, h.state().CallInfo().Generation())
	h.engine.AssertCalled(t, "MessageSendFailure", domain.CallID(42))
	h.engine.AssertNotCalled(t, "MessageSent", domain.CallID(42))
	assert.Equal(t, domain.CallStateNetworkFailure, h.state().CallInfo().CallState())
}

func TestCallManager_BlockedRecipientIsNotSignalled(t *testing.T) {
	h := newHarness(t, nil)
	h.recipients.blocked[bob] = true
	peer := h.startOutgoing(bob, 42)

	h.manager.OnSendOffer(42, peer.Key, 0, true, domain.OfferMetadata{SDP: "v=0"})
	h.sync()

	assert.Empty(t, h.signaling.messages())
}

func TestCallManager_TurnFailureEndsSetup(t *testing.T) {
	h := newHarness(t, nil)
	h.turn.err = errors.New("turn endpoint down")

	h.manager.OutgoingCall(bob, domain.OfferTypeAudio)
	h.sync()
	peer, ok := h.engine.calledPeer()
	require.True(t, ok)
	h.manager.OnStartCall(peer.Key, 42, true, domain.CallMediaTypeAudio)
	h.sync()

	h.engine.AssertCalled(t, "Hangup")
	h.engine.AssertNotCalled(t, "Proceed", mock.Anything, mock.Anything)
	assert.Contains(t, h.observer.states(), domain.CallStateNetworkFailure)
	assert.Equal(t, state.PhaseIdle, h.state().Phase())
}

func TestCallManager_ActionsRunInSubmissionOrder(t *testing.T) {
	h := newHarness(t, nil)

	var order []int
	for i := 0; i < 100; i++ {
		i := i
		h.manager.IsInCall(func(bool) { order = append(order, i) })
	}
	h.sync()

	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestCallManager_ConcurrentSubmittersAreSerialized(t *testing.T) {
	h := newHarness(t, nil)
	peer := h.startOutgoing(bob, 42)
	h.manager.OnCallEvent(peer.Key, peer.CallID, domain.CallEventRemoteConnected)
	h.sync()

	const submitters, perSubmitter = 8, 50
	var (
		running atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	// Only touched on the action goroutine.
	seen := make([][]int, submitters)

	for g := 0; g < submitters; g++ {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSubmitter; i++ {
				i := i
				h.manager.SetMuteAudio((g+i)%2 == 0)
				h.manager.IsInCall(func(inCall bool) {
					if running.Add(1) > 1 {
						overlap.Store(true)
					}
					if inCall {
						seen[g] = append(seen[g], i)
					}
					running.Add(-1)
				})
			}
		}()
	}
	wg.Wait()
	h.sync()

	assert.False(t, overlap.Load(), "two actions ran at the same time")
	for g := range seen {
		require.Len(t, seen[g], perSubmitter)
		for i, v := range seen[g] {
			assert.Equal(t, i, v, "submitter %d saw its actions out of order", g)
		}
	}

	// The final state is the one left by the mute that reached the engine last.
	var last *bool
	for _, c := range h.engine.Calls {
		if c.Method == "SetAudioEnable" {
			v := c.Arguments.Bool(0)
			last = &v
		}
	}
	require.NotNil(t, last)
	assert.Equal(t, *last, h.state().LocalDevice().IsMicrophoneEnabled())
	h.engine.AssertNumberOfCalls(t, "SetAudioEnable", submitters*perSubmitter+1)
}

func TestCallManager_MuteAndDevicesInCall(t *testing.T) {
	h := newHarness(t, nil)
	peer := h.startOutgoing(bob, 42)
	h.manager.OnCallEvent(peer.Key, peer.CallID, domain.CallEventRemoteConnected)
	h.sync()

	h.manager.SetMuteAudio(true)
	h.sync()
	assert.False(t, h.state().LocalDevice().IsMicrophoneEnabled())
	h.engine.AssertCalled(t, "SetAudioEnable", false)

	h.manager.SetEnableVideo(true)
	h.sync()
	assert.True(t, h.state().LocalDevice().CameraState().IsEnabled())
	assert.Equal(t, domain.PhoneStateInVideo, h.phoneLock.last())
	assert.True(t, h.audio.IsSpeakerphoneOn())

	h.manager.FlipCamera()
	h.sync()
	assert.Equal(t, domain.CameraDirectionBack, h.state().LocalDevice().CameraState().ActiveDirection)

	h.manager.BluetoothChange(true)
	h.sync()
	assert.True(t, h.state().LocalDevice().IsBluetoothAvailable())

	h.manager.OnCallEvent(peer.Key, peer.CallID, domain.CallEventRemoteVideoEnable)
	h.sync()
	vm, ok := h.observer.last()
	require.True(t, ok)
	assert.True(t, vm.IsRemoteVideoEnabled())

	h.manager.OnCallEvent(peer.Key, peer.CallID, domain.CallEventReconnecting)
	h.sync()
	assert.Equal(t, domain.CallStateReconnecting, h.state().CallInfo().CallState())

	h.manager.OnCallEvent(peer.Key, peer.CallID, domain.CallEventReconnected)
	h.sync()
	assert.Equal(t, domain.CallStateConnected, h.state().CallInfo().CallState())
}

func TestCallManager_PstnOffHookHangsUp(t *testing.T) {
	h := newHarness(t, nil)
	h.startOutgoing(bob, 42)

	h.manager.PstnCallStateChanged(true)
	h.sync()

	h.engine.AssertCalled(t, "Hangup")
	assert.Equal(t, state.PhaseDisconnecting, h.state().Phase())
}

func TestCallManager_HandleCallMessage(t *testing.T) {
	h := newHarness(t, nil)

	h.manager.HandleCallMessage(domain.CallEnvelope{
		Sender:       carol,
		SenderDevice: 2,
		Message:      domain.CallMessage{Type: domain.CallMessageOffer, CallID: 11},
	})
	h.sync()
	h.engine.AssertNotCalled(t, "ReceivedOffer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	now := time.Now()
	h.manager.HandleCallMessage(domain.CallEnvelope{
		Sender:          carol,
		SenderDevice:    2,
		ServerReceived:  now.Add(-3 * time.Second),
		ServerDelivered: now,
		Message:         domain.CallMessage{Type: domain.CallMessageOffer, CallID: 11, SDP: "v=0"},
	})
	h.sync()

	h.engine.AssertCalled(t, "ReceivedOffer",
		mock.MatchedBy(func(c domain.CallMetadata) bool { return c.CallID == 11 && c.RemoteDevice == 2 }),
		mock.MatchedBy(func(o domain.OfferMetadata) bool { return o.OfferType == domain.OfferTypeAudio }),
		mock.Anything,
		3*time.Second,
		domain.DeviceID(1),
		mock.Anything,
	)
}

func TestCallManager_CurrentViewModelAndClose(t *testing.T) {
	h := newHarness(t, nil)

	vm, err := h.manager.CurrentViewModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CallStateIdle, vm.State)
	assert.True(t, vm.MicrophoneEnabled)

	_, posted := h.manager.LastPosted()
	assert.False(t, posted)

	require.NoError(t, h.manager.Close())
	_, err = h.manager.CurrentViewModel(context.Background())
	assert.ErrorIs(t, err, domain.ErrManagerStopped)
	h.engine.AssertCalled(t, "Close")
}
