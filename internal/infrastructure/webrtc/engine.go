package webrtc

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/pkg/optimize"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// EngineConfig holds the media engine settings.
type EngineConfig struct {
	// ICEServers are always offered, in addition to the TURN servers
	// handed to Proceed.
	ICEServers        []domain.IceServer
	PortMin           uint16
	PortMax           uint16
	RingTimeout       time.Duration
	MaxOfferAge       time.Duration
	IceBatchInterval  time.Duration
	IceBatchSize      int
	DisconnectTimeout time.Duration
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		RingTimeout:       60 * time.Second,
		MaxOfferAge:       120 * time.Second,
		IceBatchInterval:  100 * time.Millisecond,
		IceBatchSize:      10,
		DisconnectTimeout: 10 * time.Second,
	}
}

// EngineMetrics receives media counters. monitoring.PrometheusCollector
// implements it.
type EngineMetrics interface {
	MediaForwarded(kind string, bytes int)
	PeerConnected()
}

type noopMetrics struct{}

func (noopMetrics) MediaForwarded(string, int) {}
func (noopMetrics) PeerConnected()             {}

// Engine implements ports.CallEngine on pion peer connections. It holds at
// most one call at a time; offers that arrive while a call is up are
// answered busy.
type Engine struct {
	observer ports.EngineObserver
	config   EngineConfig
	api      *webrtc.API
	metrics  EngineMetrics
	packets  *optimize.BytePool
	logger   *zap.SugaredLogger
	newID    func() domain.CallID

	mu           sync.Mutex
	sessions     map[domain.CallID]*session
	active       *session
	localDevice  domain.DeviceID
	audioEnabled bool
	videoEnabled bool
	closed       bool

	closing sync.WaitGroup
}

// NewEngine builds an engine reporting to observer. A nil metrics discards
// media counters.
func NewEngine(observer ports.EngineObserver, cfg EngineConfig, metrics EngineMetrics, logger *zap.SugaredLogger) (*Engine, error) {
	defaults := DefaultEngineConfig()
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = defaults.RingTimeout
	}
	if cfg.MaxOfferAge <= 0 {
		cfg.MaxOfferAge = defaults.MaxOfferAge
	}
	if cfg.IceBatchInterval <= 0 {
		cfg.IceBatchInterval = defaults.IceBatchInterval
	}
	if cfg.IceBatchSize <= 0 {
		cfg.IceBatchSize = defaults.IceBatchSize
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}
	if cfg.DisconnectTimeout > 0 {
		settingEngine.SetICETimeouts(cfg.DisconnectTimeout, 3*cfg.DisconnectTimeout, 2*time.Second)
	}

	return &Engine{
		observer: observer,
		config:   cfg,
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithSettingEngine(settingEngine)),
		metrics:  metrics,
		packets:  optimize.NewBytePool(1500),
		logger:   logger.With("component", "call_engine"),
		newID:    randomCallID,
		sessions: make(map[domain.CallID]*session),
		// Audio starts enabled; the call core mutes explicitly.
		audioEnabled: true,
	}, nil
}

func randomCallID() domain.CallID {
	for {
		if id := domain.CallID(rand.Uint64()); id.IsSet() {
			return id
		}
	}
}

func (e *Engine) session(callID domain.CallID) (*session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[callID]
	return s, ok
}

func (e *Engine) Call(peer domain.RemotePeer, mediaType domain.CallMediaType, localDevice domain.DeviceID) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.EngineError("call", domain.ErrManagerStopped)
	}
	if e.active != nil {
		e.mu.Unlock()
		return domain.EngineError("call", fmt.Errorf("call %d already in progress", e.active.id))
	}
	s := newSession(e, e.newID(), peer, true, mediaType)
	e.sessions[s.id] = s
	e.active = s
	e.localDevice = localDevice
	e.mu.Unlock()

	e.logger.Infow("starting outgoing call", "call_id", s.id, "recipient", peer.Recipient, "media_type", mediaType.String())
	e.observer.OnStartCall(peer.Key, s.id, true, mediaType)
	return nil
}

func (e *Engine) Proceed(callID domain.CallID, params ports.ProceedParams) error {
	s, ok := e.session(callID)
	if !ok {
		return domain.EngineError("proceed", fmt.Errorf("%w: %d", domain.ErrCallNotFound, callID))
	}

	e.mu.Lock()
	videoEnabled := e.videoEnabled || params.EnableVideo
	e.videoEnabled = videoEnabled
	e.mu.Unlock()

	if err := s.proceed(params, videoEnabled); err != nil {
		if e.endSession(s) {
			e.observer.OnCallConcluded(s.key)
		}
		return domain.EngineError("proceed", err)
	}
	return nil
}

// iceServers merges the configured servers with the ones handed to Proceed.
func (e *Engine) iceServers(extra []domain.IceServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(e.config.ICEServers)+len(extra))
	for _, servers := range [][]domain.IceServer{e.config.ICEServers, extra} {
		for _, s := range servers {
			if len(s.URLs) == 0 {
				continue
			}
			server := webrtc.ICEServer{URLs: s.URLs}
			if s.Username != "" {
				server.Username = s.Username
				server.Credential = s.Credential
				server.CredentialType = webrtc.ICECredentialTypePassword
			}
			out = append(out, server)
		}
	}
	return out
}

func (e *Engine) ReceivedOffer(call domain.CallMetadata, offer domain.OfferMetadata, _ domain.ReceivedOfferMetadata, messageAge time.Duration, localDevice domain.DeviceID, _ []byte) error {
	key := call.Peer.Key
	mediaType := domain.CallMediaTypeAudio
	if offer.OfferType == domain.OfferTypeVideo {
		mediaType = domain.CallMediaTypeVideo
	}

	if messageAge > e.config.MaxOfferAge {
		e.logger.Infow("offer expired", "call", call.String(), "age", messageAge)
		e.observer.OnCallEvent(key, call.CallID, domain.CallEventEndedReceivedOfferExpired)
		e.observer.OnCallConcluded(key)
		return nil
	}
	if offer.SDP == "" {
		return domain.EngineError("received_offer", fmt.Errorf("offer for call %s carries no sdp", call.String()))
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return domain.EngineError("received_offer", domain.ErrManagerStopped)
	}
	if _, dup := e.sessions[call.CallID]; dup {
		e.mu.Unlock()
		e.logger.Debugw("duplicate offer, ignoring", "call", call.String())
		return nil
	}

	var lost *session
	if active := e.active; active != nil {
		if !active.isGlare(call) {
			e.mu.Unlock()
			e.logger.Infow("offer while a call is active, answering busy", "call", call.String(), "active_call_id", active.id)
			e.observer.OnSendBusy(call.CallID, key, call.RemoteDevice, false)
			e.observer.OnCallEvent(key, call.CallID, domain.CallEventEndedReceivedOfferWhileActive)
			e.observer.OnCallConcluded(key)
			return nil
		}
		// Both sides dialled each other. The larger call id survives on both ends.
		if active.id > call.CallID {
			e.mu.Unlock()
			e.logger.Infow("glare, keeping outgoing call", "call", call.String(), "active_call_id", active.id)
			e.observer.OnCallEvent(key, call.CallID, domain.CallEventEndedReceivedOfferWithGlare)
			e.observer.OnCallConcluded(key)
			return nil
		}
		lost = active
		e.active = nil
	}

	s := newSession(e, call.CallID, call.Peer, false, mediaType)
	s.remoteDevice = call.RemoteDevice
	s.offer = &offer
	e.sessions[s.id] = s
	e.active = s
	e.localDevice = localDevice
	e.mu.Unlock()

	if lost != nil {
		e.logger.Infow("glare, yielding outgoing call", "call", call.String(), "lost_call_id", lost.id)
		if e.endSession(lost) {
			e.observer.OnCallEvent(lost.key, lost.id, domain.CallEventEndedRemoteGlare)
			e.observer.OnCallConcluded(lost.key)
		}
	}

	e.logger.Infow("starting incoming call", "call", call.String(), "media_type", mediaType.String(), "age", messageAge)
	e.observer.OnStartCall(key, s.id, false, mediaType)
	return nil
}

func (e *Engine) ReceivedAnswer(call domain.CallMetadata, answer domain.AnswerMetadata, _ domain.ReceivedAnswerMetadata, _ []byte) error {
	s, ok := e.session(call.CallID)
	if !ok {
		e.logger.Debugw("answer for unknown call, ignoring", "call", call.String())
		return nil
	}
	if err := s.receivedAnswer(call.RemoteDevice, answer); err != nil {
		return domain.EngineError("received_answer", err)
	}
	return nil
}

func (e *Engine) ReceivedIceCandidates(call domain.CallMetadata, candidates []domain.IceCandidate) error {
	s, ok := e.session(call.CallID)
	if !ok {
		e.logger.Debugw("ice candidates for unknown call, ignoring", "call", call.String())
		return nil
	}
	s.receivedCandidates(call.RemoteDevice, candidates)
	return nil
}

func (e *Engine) ReceivedHangup(call domain.CallMetadata, hangup domain.HangupMetadata) error {
	s, ok := e.session(call.CallID)
	if !ok {
		e.logger.Debugw("hangup for unknown call, ignoring", "call", call.String())
		return nil
	}

	e.mu.Lock()
	local := e.localDevice
	e.mu.Unlock()
	if hangup.Type != domain.HangupNormal && hangup.Type != "" && hangup.DeviceID == local {
		// Our own acceptance echoed back by the caller's broadcast.
		return nil
	}
	if !s.fromRemoteDevice(call.RemoteDevice) {
		e.logger.Debugw("hangup from a device not in the call, ignoring", "call", call.String())
		return nil
	}

	if e.endSession(s) {
		e.observer.OnCallEvent(s.key, s.id, domain.HangupEvent(hangup.Type))
		e.observer.OnCallConcluded(s.key)
	}
	return nil
}

func (e *Engine) ReceivedBusy(call domain.CallMetadata) error {
	s, ok := e.session(call.CallID)
	if !ok || !s.outgoing {
		e.logger.Debugw("busy for unknown call, ignoring", "call", call.String())
		return nil
	}
	if e.endSession(s) {
		e.observer.OnCallEvent(s.key, s.id, domain.CallEventEndedRemoteBusy)
		e.observer.OnCallConcluded(s.key)
	}
	return nil
}

func (e *Engine) AcceptCall(callID domain.CallID) error {
	s, ok := e.session(callID)
	if !ok {
		return domain.EngineError("accept_call", fmt.Errorf("%w: %d", domain.ErrCallNotFound, callID))
	}
	if s.outgoing {
		return domain.EngineError("accept_call", fmt.Errorf("call %d is outgoing", callID))
	}
	s.accept()
	return nil
}

// Hangup ends the current call and tells the remote side.
func (e *Engine) Hangup() error {
	e.mu.Lock()
	s := e.active
	local := e.localDevice
	e.mu.Unlock()
	if s == nil {
		return nil
	}

	device, broadcast, hangup := s.localHangup(local)
	if !e.endSession(s) {
		return nil
	}
	e.logger.Infow("local hangup", "call_id", s.id, "hangup_type", hangup.Type)
	e.observer.OnSendHangup(s.id, s.key, device, broadcast, hangup)
	e.observer.OnCallEvent(s.key, s.id, domain.CallEventEndedLocalHangup)
	e.observer.OnCallConcluded(s.key)
	return nil
}

// Drop ends a call without signalling anything.
func (e *Engine) Drop(callID domain.CallID) error {
	s, ok := e.session(callID)
	if !ok {
		return nil
	}
	if e.endSession(s) {
		e.observer.OnCallConcluded(s.key)
	}
	return nil
}

// Reset drops every call without callbacks.
func (e *Engine) Reset() error {
	e.mu.Lock()
	all := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		all = append(all, s)
	}
	e.mu.Unlock()

	for _, s := range all {
		e.endSession(s)
	}
	return nil
}

func (e *Engine) MessageSent(callID domain.CallID) error {
	e.logger.Debugw("call message sent", "call_id", callID)
	return nil
}

// MessageSendFailure ends a call whose setup messages could not be delivered.
func (e *Engine) MessageSendFailure(callID domain.CallID) error {
	s, ok := e.session(callID)
	if !ok || s.isConnected() {
		return nil
	}
	if e.endSession(s) {
		e.observer.OnCallEvent(s.key, s.id, domain.CallEventEndedSignalingFailure)
		e.observer.OnCallConcluded(s.key)
	}
	return nil
}

func (e *Engine) SetCommunicationMode() error {
	return nil
}

func (e *Engine) SetAudioEnable(enable bool) error {
	e.mu.Lock()
	e.audioEnabled = enable
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetVideoEnable(enable bool) error {
	e.mu.Lock()
	e.videoEnabled = enable
	s := e.active
	e.mu.Unlock()

	if s != nil {
		s.setVideoEnabled(enable)
	}
	return nil
}

// WriteAudio sends one RTP packet of microphone audio on the current call.
// Packets written while muted or without a call are discarded.
func (e *Engine) WriteAudio(packet []byte) (int, error) {
	e.mu.Lock()
	s := e.active
	enabled := e.audioEnabled
	e.mu.Unlock()

	if s == nil || !enabled {
		return len(packet), nil
	}
	return s.writeAudio(packet)
}

// Close drops every call and waits for peer connections to shut down.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	err := e.Reset()
	e.closing.Wait()
	return err
}

// endSession releases a session. It reports false when the session had
// already ended, so callers emit terminal callbacks exactly once.
func (e *Engine) endSession(s *session) bool {
	pc, ok := s.finish()
	if !ok {
		return false
	}

	e.mu.Lock()
	delete(e.sessions, s.id)
	if e.active == s {
		e.active = nil
	}
	e.mu.Unlock()

	if pc != nil {
		e.closing.Add(1)
		go func() {
			defer e.closing.Done()
			if err := pc.Close(); err != nil {
				e.logger.Debugw("error closing peer connection", "call_id", s.id, "error", err)
			}
		}()
	}
	return true
}
