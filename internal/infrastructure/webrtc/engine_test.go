package webrtc

import (
	"strings"
	"sync"
	"testing"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sentHangup struct {
	callID    domain.CallID
	device    domain.DeviceID
	broadcast bool
	hangup    domain.HangupMetadata
}

type sentSignal struct {
	callID    domain.CallID
	device    domain.DeviceID
	broadcast bool
	sdp       string
	offerType domain.OfferType
}

type recordedEvent struct {
	key    domain.PeerKey
	callID domain.CallID
	event  domain.CallEvent
}

type started struct {
	key      domain.PeerKey
	callID   domain.CallID
	outgoing bool
	media    domain.CallMediaType
}

// recorder is an EngineObserver that keeps every callback.
type recorder struct {
	mu        sync.Mutex
	started   []started
	events    []recordedEvent
	concluded []domain.PeerKey
	offers    []sentSignal
	answers   []sentSignal
	hangups   []sentHangup
	busies    []sentSignal
	ice       int
}

func (r *recorder) OnStartCall(key domain.PeerKey, callID domain.CallID, isOutgoing bool, mediaType domain.CallMediaType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, started{key, callID, isOutgoing, mediaType})
}

func (r *recorder) OnCallEvent(key domain.PeerKey, callID domain.CallID, event domain.CallEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{key, callID, event})
}

func (r *recorder) OnCallConcluded(key domain.PeerKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.concluded = append(r.concluded, key)
}

func (r *recorder) OnSendOffer(callID domain.CallID, _ domain.PeerKey, device domain.DeviceID, broadcast bool, offer domain.OfferMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, sentSignal{callID: callID, device: device, broadcast: broadcast, sdp: offer.SDP, offerType: offer.OfferType})
}

func (r *recorder) OnSendAnswer(callID domain.CallID, _ domain.PeerKey, device domain.DeviceID, broadcast bool, answer domain.AnswerMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, sentSignal{callID: callID, device: device, broadcast: broadcast, sdp: answer.SDP})
}

func (r *recorder) OnSendIceCandidates(domain.CallID, domain.PeerKey, domain.DeviceID, bool, []domain.IceCandidate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ice++
}

func (r *recorder) OnSendHangup(callID domain.CallID, _ domain.PeerKey, device domain.DeviceID, broadcast bool, hangup domain.HangupMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hangups = append(r.hangups, sentHangup{callID, device, broadcast, hangup})
}

func (r *recorder) OnSendBusy(callID domain.CallID, _ domain.PeerKey, device domain.DeviceID, broadcast bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busies = append(r.busies, sentSignal{callID: callID, device: device, broadcast: broadcast})
}

func (r *recorder) eventsFor(key domain.PeerKey) []domain.CallEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CallEvent
	for _, e := range r.events {
		if e.key == key {
			out = append(out, e.event)
		}
	}
	return out
}

func (r *recorder) snapshot() recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorder{
		started:   append([]started(nil), r.started...),
		events:    append([]recordedEvent(nil), r.events...),
		concluded: append([]domain.PeerKey(nil), r.concluded...),
		offers:    append([]sentSignal(nil), r.offers...),
		answers:   append([]sentSignal(nil), r.answers...),
		hangups:   append([]sentHangup(nil), r.hangups...),
		busies:    append([]sentSignal(nil), r.busies...),
	}
}

type fakeMetrics struct {
	mu        sync.Mutex
	connected int
}

func (m *fakeMetrics) MediaForwarded(string, int) {}

func (m *fakeMetrics) PeerConnected() {
	m.mu.Lock()
	m.connected++
	m.mu.Unlock()
}

func newTestEngine(t *testing.T, cfg EngineConfig) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e, err := NewEngine(rec, cfg, &fakeMetrics{}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, rec
}

func withCallID(e *Engine, id domain.CallID) {
	e.newID = func() domain.CallID { return id }
}

// dial places an outgoing call and proceeds it, returning the offer.
func dial(t *testing.T, e *Engine, rec *recorder, peer domain.RemotePeer, media domain.CallMediaType) (domain.CallID, sentSignal) {
	t.Helper()
	require.NoError(t, e.Call(peer, media, 1))
	snap := rec.snapshot()
	require.NotEmpty(t, snap.started)
	callID := snap.started[len(snap.started)-1].callID

	require.NoError(t, e.Proceed(callID, ports.ProceedParams{}))
	snap = rec.snapshot()
	require.NotEmpty(t, snap.offers)
	return callID, snap.offers[len(snap.offers)-1]
}

func TestEngine_OutgoingCallSendsBroadcastOffer(t *testing.T) {
	e, rec := newTestEngine(t, EngineConfig{})
	peer := domain.NewRemotePeer("bob")

	callID, offer := dial(t, e, rec, peer, domain.CallMediaTypeVideo)

	snap := rec.snapshot()
	require.Len(t, snap.started, 1)
	assert.Equal(t, peer.Key, snap.started[0].key)
	assert.True(t, snap.started[0].outgoing)
	assert.Equal(t, domain.CallMediaTypeVideo, snap.started[0].media)

	assert.Equal(t, callID, offer.callID)
	assert.True(t, offer.broadcast)
	assert.Zero(t, offer.device)
	assert.Equal(t, domain.OfferTypeVideo, offer.offerType)
	assert.Contains(t, offer.sdp, "m=audio")
	assert.Contains(t, offer.sdp, "m=video")
	assert.Contains(t, offer.sdp, "m=application")

	assert.Error(t, e.Call(domain.NewRemotePeer("carol"), domain.CallMediaTypeAudio, 1), "one call at a time")
}

func TestEngine_IncomingCallAnswersTheOfferingDevice(t *testing.T) {
	caller, callerRec := newTestEngine(t, EngineConfig{})
	callee, calleeRec := newTestEngine(t, EngineConfig{})

	callID, offer := dial(t, caller, callerRec, domain.NewRemotePeer("bob"), domain.CallMediaTypeAudio)

	incoming := domain.NewIncomingRemotePeer("alice", callID)
	call := domain.CallMetadata{Peer: incoming, CallID: callID, RemoteDevice: 2}
	require.NoError(t, callee.ReceivedOffer(call, domain.OfferMetadata{SDP: offer.sdp, OfferType: offer.offerType}, domain.ReceivedOfferMetadata{}, time.Second, 1, nil))

	snap := calleeRec.snapshot()
	require.Len(t, snap.started, 1)
	assert.Equal(t, started{incoming.Key, callID, false, domain.CallMediaTypeAudio}, snap.started[0])

	require.NoError(t, callee.Proceed(callID, ports.ProceedParams{}))
	snap = calleeRec.snapshot()
	require.Len(t, snap.answers, 1)
	assert.Equal(t, domain.DeviceID(2), snap.answers[0].device)
	assert.False(t, snap.answers[0].broadcast)
	assert.True(t, strings.HasPrefix(snap.answers[0].sdp, "v=0"))

	answerCall := domain.CallMetadata{Peer: domain.NewRemotePeer("bob"), CallID: callID, RemoteDevice: 2}
	require.NoError(t, caller.ReceivedAnswer(answerCall, domain.AnswerMetadata{SDP: snap.answers[0].sdp}, domain.ReceivedAnswerMetadata{}, nil))

	s, ok := caller.session(callID)
	require.True(t, ok)
	assert.True(t, s.answered)
	assert.Equal(t, domain.DeviceID(2), s.remoteDevice)

	// A second device answering late is ignored.
	late := domain.CallMetadata{Peer: answerCall.Peer, CallID: callID, RemoteDevice: 3}
	require.NoError(t, caller.ReceivedAnswer(late, domain.AnswerMetadata{SDP: snap.answers[0].sdp}, domain.ReceivedAnswerMetadata{}, nil))
	assert.Equal(t, domain.DeviceID(2), s.remoteDevice)
}

func TestEngine_ExpiredOffer(t *testing.T) {
	e, rec := newTestEngine(t, EngineConfig{MaxOfferAge: time.Minute})
	peer := domain.NewIncomingRemotePeer("alice", 7)
	call := domain.CallMetadata{Peer: peer, CallID: 7, RemoteDevice: 1}

	require.NoError(t, e.ReceivedOffer(call, domain.OfferMetadata{SDP: "v=0"}, domain.ReceivedOfferMetadata{}, 2*time.Minute, 1, nil))

	snap := rec.snapshot()
	assert.Empty(t, snap.started)
	assert.Equal(t, []domain.CallEvent{domain.CallEventEndedReceivedOfferExpired}, rec.eventsFor(peer.Key))
	assert.Equal(t, []domain.PeerKey{peer.Key}, snap.concluded)
}

func TestEngine_OfferWhileActiveIsAnsweredBusy(t *testing.T) {
	e, rec := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.Call(domain.NewRemotePeer("bob"), domain.CallMediaTypeAudio, 1))

	second := domain.NewIncomingRemotePeer("carol", 99)
	call := domain.CallMetadata{Peer: second, CallID: 99, RemoteDevice: 4}
	require.NoError(t, e.ReceivedOffer(call, domain.OfferMetadata{SDP: "v=0"}, domain.ReceivedOfferMetadata{}, 0, 1, nil))

	snap := rec.snapshot()
	require.Len(t, snap.busies, 1)
	assert.Equal(t, sentSignal{callID: 99, device: 4}, snap.busies[0])
	assert.Equal(t, []domain.CallEvent{domain.CallEventEndedReceivedOfferWhileActive}, rec.eventsFor(second.Key))
	assert.Equal(t, []domain.PeerKey{second.Key}, snap.concluded)
	assert.Len(t, snap.started, 1)
}

func TestEngine_Glare(t *testing.T) {
	t.Run("larger outgoing call id wins", func(t *testing.T) {
		e, rec := newTestEngine(t, EngineConfig{})
		withCallID(e, 50)
		require.NoError(t, e.Call(domain.NewRemotePeer("bob"), domain.CallMediaTypeAudio, 1))

		incoming := domain.NewIncomingRemotePeer("bob", 10)
		require.NoError(t, e.ReceivedOffer(domain.CallMetadata{Peer: incoming, CallID: 10, RemoteDevice: 1}, domain.OfferMetadata{SDP: "v=0"}, domain.ReceivedOfferMetadata{}, 0, 1, nil))

		assert.Equal(t, []domain.CallEvent{domain.CallEventEndedReceivedOfferWithGlare}, rec.eventsFor(incoming.Key))
		_, ok := e.session(50)
		assert.True(t, ok)
	})

	t.Run("larger incoming call id wins", func(t *testing.T) {
		e, rec := newTestEngine(t, EngineConfig{})
		withCallID(e, 50)
		outgoing := domain.NewRemotePeer("bob")
		require.NoError(t, e.Call(outgoing, domain.CallMediaTypeAudio, 1))

		incoming := domain.NewIncomingRemotePeer("bob", 80)
		require.NoError(t, e.ReceivedOffer(domain.CallMetadata{Peer: incoming, CallID: 80, RemoteDevice: 1}, domain.OfferMetadata{SDP: "v=0"}, domain.ReceivedOfferMetadata{}, 0, 1, nil))

		assert.Equal(t, []domain.CallEvent{domain.CallEventEndedRemoteGlare}, rec.eventsFor(outgoing.Key))
		snap := rec.snapshot()
		assert.Contains(t, snap.concluded, outgoing.Key)
		require.Len(t, snap.started, 2)
		assert.Equal(t, domain.CallID(80), snap.started[1].callID)
		_, ok := e.session(50)
		assert.False(t, ok)
	})
}

func TestEngine_RingTimeout(t *testing.T) {
	e, rec := newTestEngine(t, EngineConfig{RingTimeout: 50 * time.Millisecond})
	peer := domain.NewRemotePeer("bob")
	callID, _ := dial(t, e, rec, peer, domain.CallMediaTypeAudio)

	require.Eventually(t, func() bool { return len(rec.snapshot().concluded) == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []domain.CallEvent{domain.CallEventEndedTimeout}, rec.eventsFor(peer.Key))
	snap := rec.snapshot()
	require.Len(t, snap.hangups, 1)
	assert.Equal(t, sentHangup{callID: callID, broadcast: true, hangup: domain.HangupMetadata{Type: domain.HangupNormal}}, snap.hangups[0])
}

func TestEngine_LocalHangup(t *testing.T) {
	t.Run("outgoing before answer broadcasts", func(t *testing.T) {
		e, rec := newTestEngine(t, EngineConfig{})
		peer := domain.NewRemotePeer("bob")
		callID, _ := dial(t, e, rec, peer, domain.CallMediaTypeAudio)

		require.NoError(t, e.Hangup())
		require.NoError(t, e.Hangup())

		snap := rec.snapshot()
		require.Len(t, snap.hangups, 1)
		assert.Equal(t, sentHangup{callID: callID, broadcast: true, hangup: domain.HangupMetadata{Type: domain.HangupNormal, DeviceID: 1}}, snap.hangups[0])
		assert.Equal(t, []domain.CallEvent{domain.CallEventEndedLocalHangup}, rec.eventsFor(peer.Key))
		assert.Equal(t, []domain.PeerKey{peer.Key}, snap.concluded)
	})

	t.Run("ringing incoming call is declined", func(t *testing.T) {
		e, rec := newTestEngine(t, EngineConfig{})
		peer := domain.NewIncomingRemotePeer("alice", 31)
		require.NoError(t, e.ReceivedOffer(domain.CallMetadata{Peer: peer, CallID: 31, RemoteDevice: 2}, domain.OfferMetadata{SDP: "v=0"}, domain.ReceivedOfferMetadata{}, 0, 5, nil))

		require.NoError(t, e.Hangup())

		snap := rec.snapshot()
		require.Len(t, snap.hangups, 1)
		assert.Equal(t, sentHangup{callID: 31, device: 2, hangup: domain.HangupMetadata{Type: domain.HangupDeclined, DeviceID: 5}}, snap.hangups[0])
	})
}

func TestEngine_RemoteEndings(t *testing.T) {
	t.Run("busy", func(t *testing.T) {
		e, rec := newTestEngine(t, EngineConfig{})
		peer := domain.NewRemotePeer("bob")
		callID, _ := dial(t, e, rec, peer, domain.CallMediaTypeAudio)

		require.NoError(t, e.ReceivedBusy(domain.CallMetadata{Peer: peer, CallID: callID, RemoteDevice: 2}))
		assert.Equal(t, []domain.CallEvent{domain.CallEventEndedRemoteBusy}, rec.eventsFor(peer.Key))
		assert.Equal(t, []domain.PeerKey{peer.Key}, rec.snapshot().concluded)
	})

	t.Run("hangup maps its type", func(t *testing.T) {
		e, rec := newTestEngine(t, EngineConfig{})
		peer := domain.NewRemotePeer("bob")
		callID, _ := dial(t, e, rec, peer, domain.CallMediaTypeAudio)

		hangup := domain.HangupMetadata{Type: domain.HangupDeclined, DeviceID: 2}
		require.NoError(t, e.ReceivedHangup(domain.CallMetadata{Peer: peer, CallID: callID, RemoteDevice: 2}, hangup))
		assert.Equal(t, []domain.CallEvent{domain.CallEventEndedRemoteHangupDeclined}, rec.eventsFor(peer.Key))
	})

	t.Run("own acceptance echo is ignored", func(t *testing.T) {
		e, rec := newTestEngine(t, EngineConfig{})
		peer := domain.NewIncomingRemotePeer("alice", 41)
		call := domain.CallMetadata{Peer: peer, CallID: 41, RemoteDevice: 2}
		require.NoError(t, e.ReceivedOffer(call, domain.OfferMetadata{SDP: "v=0"}, domain.ReceivedOfferMetadata{}, 0, 5, nil))

		require.NoError(t, e.ReceivedHangup(call, domain.HangupMetadata{Type: domain.HangupAccepted, DeviceID: 5}))
		assert.Empty(t, rec.eventsFor(peer.Key))

		require.NoError(t, e.ReceivedHangup(call, domain.HangupMetadata{Type: domain.HangupAccepted, DeviceID: 6}))
		assert.Equal(t, []domain.CallEvent{domain.CallEventEndedRemoteHangupAccepted}, rec.eventsFor(peer.Key))
	})
}

func TestEngine_MessageSendFailureEndsSetup(t *testing.T) {
	e, rec := newTestEngine(t, EngineConfig{})
	peer := domain.NewRemotePeer("bob")
	callID, _ := dial(t, e, rec, peer, domain.CallMediaTypeAudio)

	require.NoError(t, e.MessageSent(callID))
	require.NoError(t, e.MessageSendFailure(callID))

	assert.Equal(t, []domain.CallEvent{domain.CallEventEndedSignalingFailure}, rec.eventsFor(peer.Key))
	assert.Equal(t, []domain.PeerKey{peer.Key}, rec.snapshot().concluded)
}

func TestEngine_UnknownCallsAreIgnored(t *testing.T) {
	e, rec := newTestEngine(t, EngineConfig{})
	call := domain.CallMetadata{Peer: domain.NewRemotePeer("bob"), CallID: 404, RemoteDevice: 1}

	assert.NoError(t, e.ReceivedAnswer(call, domain.AnswerMetadata{SDP: "v=0"}, domain.ReceivedAnswerMetadata{}, nil))
	assert.NoError(t, e.ReceivedIceCandidates(call, []domain.IceCandidate{[]byte(`{}`)}))
	assert.NoError(t, e.ReceivedHangup(call, domain.HangupMetadata{}))
	assert.NoError(t, e.ReceivedBusy(call))
	assert.NoError(t, e.MessageSent(404))
	assert.NoError(t, e.MessageSendFailure(404))
	assert.NoError(t, e.Drop(404))
	assert.NoError(t, e.Hangup())

	assert.ErrorIs(t, e.Proceed(404, ports.ProceedParams{}), domain.ErrCallNotFound)
	assert.ErrorIs(t, e.AcceptCall(404), domain.ErrCallNotFound)

	snap := rec.snapshot()
	assert.Empty(t, snap.events)
	assert.Empty(t, snap.concluded)
}

func TestEngine_CandidatesBeforeProceedAreQueued(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{})
	peer := domain.NewIncomingRemotePeer("alice", 51)
	call := domain.CallMetadata{Peer: peer, CallID: 51, RemoteDevice: 2}
	require.NoError(t, e.ReceivedOffer(call, domain.OfferMetadata{SDP: "v=0"}, domain.ReceivedOfferMetadata{}, 0, 1, nil))

	candidate := []byte(`{"candidate":"candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host","sdpMid":"0"}`)
	require.NoError(t, e.ReceivedIceCandidates(call, []domain.IceCandidate{candidate}))

	other := call
	other.RemoteDevice = 3
	require.NoError(t, e.ReceivedIceCandidates(other, []domain.IceCandidate{candidate}))

	s, ok := e.session(51)
	require.True(t, ok)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.pendingRemote[2], 1)
	assert.Empty(t, s.pendingRemote[3], "candidates from devices outside the call are dropped")
}

func TestEngine_ResetAndClose(t *testing.T) {
	e, rec := newTestEngine(t, EngineConfig{})
	dial(t, e, rec, domain.NewRemotePeer("bob"), domain.CallMediaTypeAudio)

	require.NoError(t, e.Reset())
	assert.Empty(t, rec.snapshot().concluded)

	require.NoError(t, e.Call(domain.NewRemotePeer("carol"), domain.CallMediaTypeAudio, 1))
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Call(domain.NewRemotePeer("dave"), domain.CallMediaTypeAudio, 1), domain.ErrManagerStopped)
}

func TestEngine_WriteAudioWhileMutedIsDiscarded(t *testing.T) {
	e, rec := newTestEngine(t, EngineConfig{})
	dial(t, e, rec, domain.NewRemotePeer("bob"), domain.CallMediaTypeAudio)

	require.NoError(t, e.SetAudioEnable(false))
	n, err := e.WriteAudio([]byte{0x80, 0x6f, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

type attachingSink struct {
	mu       sync.Mutex
	attached domain.VideoSink
}

func (a *attachingSink) Write(p []byte) (int, error) { return len(p), nil }

func (a *attachingSink) Attach(sink domain.VideoSink) func() {
	a.mu.Lock()
	a.attached = sink
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		a.attached = nil
		a.mu.Unlock()
	}
}

func (a *attachingSink) current() domain.VideoSink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attached
}

func TestEngine_LocalVideoFollowsVideoEnable(t *testing.T) {
	e, rec := newTestEngine(t, EngineConfig{})
	require.NoError(t, e.Call(domain.NewRemotePeer("bob"), domain.CallMediaTypeVideo, 1))
	callID := rec.snapshot().started[0].callID

	local := &attachingSink{}
	require.NoError(t, e.Proceed(callID, ports.ProceedParams{EnableVideo: true, LocalSink: local}))
	assert.NotNil(t, local.current())

	require.NoError(t, e.SetVideoEnable(false))
	assert.Nil(t, local.current())

	require.NoError(t, e.SetVideoEnable(true))
	assert.NotNil(t, local.current())

	require.NoError(t, e.Hangup())
	assert.Nil(t, local.current())
}

func TestEngine_IceServersMerge(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{ICEServers: []domain.IceServer{{URLs: []string{"stun:stun.example.org:3478"}}}})

	servers := e.iceServers([]domain.IceServer{
		{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"},
		{},
	})
	require.Len(t, servers, 2)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, servers[0].URLs)
	assert.Equal(t, "u", servers[1].Username)
	assert.Equal(t, "p", servers[1].Credential)
}
