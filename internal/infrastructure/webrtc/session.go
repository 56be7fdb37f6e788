package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/pkg/batch"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// LocalVideoSource is implemented by local sinks that can tee the camera
// feed into a call. Attach returns the function that undoes it.
type LocalVideoSource interface {
	Attach(sink domain.VideoSink) (detach func())
}

type sessionState int

const (
	stateStarting sessionState = iota
	stateSignaling
	stateRinging
	stateConnected
	stateEnded
)

// session is one call on one peer connection.
type session struct {
	engine    *Engine
	id        domain.CallID
	key       domain.PeerKey
	peer      domain.RemotePeer
	outgoing  bool
	mediaType domain.CallMediaType
	logger    *zap.SugaredLogger

	mu            sync.Mutex
	state         sessionState
	remoteDevice  domain.DeviceID
	answered      bool
	offer         *domain.OfferMetadata
	pc            *webrtc.PeerConnection
	control       *webrtc.DataChannel
	audio         *webrtc.TrackLocalStaticRTP
	video         *webrtc.TrackLocalStaticRTP
	remoteVideo   *webrtc.TrackRemote
	remoteSink    domain.VideoSink
	localSource   LocalVideoSource
	detachLocal   func()
	videoEnabled  bool
	candidates    *batch.Batcher[domain.IceCandidate]
	pendingRemote map[domain.DeviceID][]webrtc.ICECandidateInit
	acceptPending bool
	iceConnected  bool
	reconnecting  bool
	ringTimer     *time.Timer
}

func newSession(e *Engine, id domain.CallID, peer domain.RemotePeer, outgoing bool, mediaType domain.CallMediaType) *session {
	return &session{
		engine:        e,
		id:            id,
		key:           peer.Key,
		peer:          peer,
		outgoing:      outgoing,
		mediaType:     mediaType,
		logger:        e.logger.With("call_id", id, "recipient", peer.Recipient),
		pendingRemote: make(map[domain.DeviceID][]webrtc.ICECandidateInit),
	}
}

func (s *session) observer() ports.EngineObserver {
	return s.engine.observer
}

func (s *session) proceed(params ports.ProceedParams, videoEnabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateStarting {
		return fmt.Errorf("call %d already proceeded", s.id)
	}

	cfg := webrtc.Configuration{ICEServers: s.engine.iceServers(params.IceServers)}
	if params.HideIP {
		cfg.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	pc, err := s.engine.api.NewPeerConnection(cfg)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	s.pc = pc
	s.remoteSink = params.RemoteSink
	if source, ok := params.LocalSink.(LocalVideoSource); ok {
		s.localSource = source
	}
	s.videoEnabled = videoEnabled

	batcher := batch.New(s.engine.config.IceBatchSize, s.engine.config.IceBatchInterval, s.flushCandidates)
	s.candidates = batcher

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			s.logger.Warnw("failed to encode local candidate", "error", err)
			return
		}
		batcher.Add(domain.IceCandidate(data))
	})
	pc.OnICEConnectionStateChange(s.onICEConnectionState)
	pc.OnTrack(s.onTrack)

	if s.outgoing {
		err = s.startOutgoing(pc)
	} else {
		err = s.startIncoming(pc)
	}
	if err != nil {
		return err
	}

	s.state = stateSignaling
	s.applyLocalVideo()
	s.ringTimer = time.AfterFunc(s.engine.config.RingTimeout, s.onRingTimeout)
	return nil
}

func (s *session) addLocalTracks(pc *webrtc.PeerConnection) error {
	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "callcore")
	if err != nil {
		return fmt.Errorf("failed to create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "callcore")
	if err != nil {
		return fmt.Errorf("failed to create video track: %w", err)
	}

	for _, track := range []*webrtc.TrackLocalStaticRTP{audio, video} {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
	}
	s.audio = audio
	s.video = video
	return nil
}

// drainRTCP keeps interceptors running for a sender until its connection
// closes.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (s *session) startOutgoing(pc *webrtc.PeerConnection) error {
	if err := s.addLocalTracks(pc); err != nil {
		return err
	}
	dc, err := pc.CreateDataChannel(controlLabel, nil)
	if err != nil {
		return fmt.Errorf("failed to create control channel: %w", err)
	}
	s.control = dc
	s.watchControl(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	offerType := domain.OfferTypeAudio
	if s.mediaType == domain.CallMediaTypeVideo {
		offerType = domain.OfferTypeVideo
	}
	s.logger.Debugw("sending offer", "offer_type", offerType)
	s.observer().OnSendOffer(s.id, s.key, 0, true, domain.OfferMetadata{SDP: offer.SDP, OfferType: offerType})
	return nil
}

func (s *session) startIncoming(pc *webrtc.PeerConnection) error {
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != controlLabel {
			return
		}
		s.mu.Lock()
		s.control = dc
		s.mu.Unlock()
		s.watchControl(dc)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.offer.SDP}); err != nil {
		return fmt.Errorf("failed to apply offer: %w", err)
	}
	if err := s.addLocalTracks(pc); err != nil {
		return err
	}
	s.applyPendingCandidates(s.remoteDevice)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	s.logger.Debugw("sending answer", "remote_device", s.remoteDevice)
	s.observer().OnSendAnswer(s.id, s.key, s.remoteDevice, false, domain.AnswerMetadata{SDP: answer.SDP})
	return nil
}

// flushCandidates goes out before the device is known as a broadcast. It
// waits on the session lock, so it never overtakes the offer or answer.
func (s *session) flushCandidates(_ context.Context, items []domain.IceCandidate) {
	s.mu.Lock()
	ended := s.state == stateEnded
	device := s.remoteDevice
	s.mu.Unlock()
	if ended {
		return
	}
	s.observer().OnSendIceCandidates(s.id, s.key, device, device == 0, items)
}

func (s *session) receivedAnswer(device domain.DeviceID, answer domain.AnswerMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.outgoing || s.state == stateEnded {
		return nil
	}
	if s.answered {
		s.logger.Debugw("call already answered, ignoring answer", "remote_device", device)
		return nil
	}
	if s.pc == nil {
		return fmt.Errorf("answer for call %d before proceed", s.id)
	}
	if answer.SDP == "" {
		return fmt.Errorf("answer for call %d carries no sdp", s.id)
	}

	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		return fmt.Errorf("failed to apply answer: %w", err)
	}
	s.answered = true
	s.remoteDevice = device
	s.applyPendingCandidates(device)
	clear(s.pendingRemote)
	return nil
}

func (s *session) receivedCandidates(device domain.DeviceID, candidates []domain.IceCandidate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateEnded {
		return
	}
	if s.remoteDevice != 0 && device != s.remoteDevice {
		return
	}

	for _, raw := range candidates {
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(raw, &init); err != nil {
			s.logger.Warnw("dropping undecodable remote candidate", "error", err)
			continue
		}
		if s.pc == nil || s.pc.RemoteDescription() == nil {
			s.pendingRemote[device] = append(s.pendingRemote[device], init)
			continue
		}
		if err := s.pc.AddICECandidate(init); err != nil {
			s.logger.Warnw("failed to add remote candidate", "error", err)
		}
	}
}

func (s *session) applyPendingCandidates(device domain.DeviceID) {
	for _, init := range s.pendingRemote[device] {
		if err := s.pc.AddICECandidate(init); err != nil {
			s.logger.Warnw("failed to add queued remote candidate", "error", err)
		}
	}
	delete(s.pendingRemote, device)
}

func (s *session) fromRemoteDevice(device domain.DeviceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteDevice == 0 || device == 0 || device == s.remoteDevice
}

func (s *session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateConnected
}

// isGlare reports an offer from the recipient we are still dialling.
func (s *session) isGlare(call domain.CallMetadata) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outgoing && s.peer.Recipient == call.Peer.Recipient && s.state < stateConnected
}

func (s *session) accept() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateEnded || s.state == stateConnected {
		return
	}
	s.acceptPending = true
	s.sendAcceptLocked()
}

// sendAcceptLocked tells the caller we picked up once the control channel is
// open.
func (s *session) sendAcceptLocked() {
	if !s.acceptPending || s.control == nil || s.control.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}
	if err := s.sendControlLocked(controlMessage{Type: controlAccepted}); err != nil {
		s.logger.Warnw("failed to send accept", "error", err)
		return
	}
	s.acceptPending = false
	s.state = stateConnected
	s.stopRingTimerLocked()
	s.observer().OnCallEvent(s.key, s.id, domain.CallEventLocalConnected)
}

// localHangup picks who hears about a hangup we start.
func (s *session) localHangup(local domain.DeviceID) (domain.DeviceID, bool, domain.HangupMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.control != nil && s.control.ReadyState() == webrtc.DataChannelStateOpen {
		if err := s.sendControlLocked(controlMessage{Type: controlHangup}); err != nil {
			s.logger.Debugw("failed to send in-band hangup", "error", err)
		}
	}

	switch {
	case !s.outgoing && s.state != stateConnected:
		return s.remoteDevice, false, domain.HangupMetadata{Type: domain.HangupDeclined, DeviceID: local}
	case s.outgoing && !s.answered:
		return 0, true, domain.HangupMetadata{Type: domain.HangupNormal, DeviceID: local}
	default:
		return s.remoteDevice, false, domain.HangupMetadata{Type: domain.HangupNormal, DeviceID: local}
	}
}

func (s *session) setVideoEnabled(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateEnded || s.pc == nil {
		return
	}
	s.videoEnabled = enable
	s.applyLocalVideo()
	if s.control != nil && s.control.ReadyState() == webrtc.DataChannelStateOpen {
		if err := s.sendControlLocked(controlMessage{Type: controlVideo, Enabled: enable}); err != nil {
			s.logger.Warnw("failed to send video status", "error", err)
		}
	}
}

func (s *session) applyLocalVideo() {
	switch {
	case s.videoEnabled && s.localSource != nil && s.detachLocal == nil && s.video != nil:
		s.detachLocal = s.localSource.Attach(s.video)
	case !s.videoEnabled && s.detachLocal != nil:
		s.detachLocal()
		s.detachLocal = nil
	}
}

func (s *session) writeAudio(packet []byte) (int, error) {
	s.mu.Lock()
	track := s.audio
	s.mu.Unlock()
	if track == nil {
		return len(packet), nil
	}
	return track.Write(packet)
}

func (s *session) onICEConnectionState(state webrtc.ICEConnectionState) {
	s.logger.Debugw("ice connection state changed", "ice_state", state.String())

	switch state {
	case webrtc.ICEConnectionStateConnected:
		s.mu.Lock()
		if s.state == stateEnded {
			s.mu.Unlock()
			return
		}
		first := !s.iceConnected
		wasReconnecting := s.reconnecting
		s.iceConnected = true
		s.reconnecting = false

		var events []domain.CallEvent
		if first {
			s.engine.metrics.PeerConnected()
			if s.state == stateSignaling {
				s.state = stateRinging
				if s.outgoing {
					events = append(events, domain.CallEventRemoteRinging)
				} else {
					events = append(events, domain.CallEventLocalRinging)
				}
			}
		} else if wasReconnecting {
			events = append(events, domain.CallEventReconnected)
		}
		s.mu.Unlock()

		for _, ev := range events {
			s.observer().OnCallEvent(s.key, s.id, ev)
		}

	case webrtc.ICEConnectionStateDisconnected:
		s.mu.Lock()
		report := s.state != stateEnded && s.iceConnected && !s.reconnecting
		if report {
			s.reconnecting = true
		}
		s.mu.Unlock()
		if report {
			s.observer().OnCallEvent(s.key, s.id, domain.CallEventReconnecting)
		}

	case webrtc.ICEConnectionStateFailed:
		if s.engine.endSession(s) {
			s.observer().OnCallEvent(s.key, s.id, domain.CallEventEndedConnectionFailure)
			s.observer().OnCallConcluded(s.key)
		}
	}
}

func (s *session) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	kind := track.Kind().String()
	s.logger.Infow("remote track started", "kind", kind, "codec", track.Codec().MimeType)

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		s.mu.Lock()
		s.remoteVideo = track
		s.mu.Unlock()
		s.requestKeyframe()
	}

	go func() {
		for {
			if _, _, err := receiver.ReadRTCP(); err != nil {
				return
			}
		}
	}()
	s.forward(track, kind)
}

// forward copies remote RTP into the render sink. Audio is only counted.
func (s *session) forward(track *webrtc.TrackRemote, kind string) {
	pool := s.engine.packets
	var packet rtp.Packet
	for {
		buf := pool.Get()
		n, _, err := track.Read(*buf)
		if err != nil {
			pool.Put(buf)
			if !errors.Is(err, io.EOF) {
				s.logger.Debugw("remote track ended", "kind", kind, "error", err)
			}
			return
		}
		if err := packet.Unmarshal((*buf)[:n]); err != nil {
			pool.Put(buf)
			continue
		}

		if track.Kind() == webrtc.RTPCodecTypeVideo {
			s.mu.Lock()
			sink := s.remoteSink
			s.mu.Unlock()
			if sink != nil {
				if _, err := sink.Write((*buf)[:n]); err != nil {
					s.logger.Debugw("render sink rejected packet", "error", err)
				}
			}
		}
		s.engine.metrics.MediaForwarded(kind, len(packet.Payload))
		pool.Put(buf)
	}
}

// requestKeyframe asks the remote encoder for a fresh picture.
func (s *session) requestKeyframe() {
	s.mu.Lock()
	pc, track := s.pc, s.remoteVideo
	s.mu.Unlock()
	if pc == nil || track == nil {
		return
	}
	pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
	if err := pc.WriteRTCP(pli); err != nil {
		s.logger.Debugw("failed to send picture loss indication", "error", err)
	}
}

func (s *session) onRingTimeout() {
	s.mu.Lock()
	if s.state == stateEnded || s.state == stateConnected {
		s.mu.Unlock()
		return
	}
	device, answered := s.remoteDevice, s.answered
	s.mu.Unlock()

	if !s.engine.endSession(s) {
		return
	}
	s.logger.Infow("call was not answered in time")
	if s.outgoing {
		s.observer().OnSendHangup(s.id, s.key, device, !answered, domain.HangupMetadata{Type: domain.HangupNormal})
	}
	s.observer().OnCallEvent(s.key, s.id, domain.CallEventEndedTimeout)
	s.observer().OnCallConcluded(s.key)
}

func (s *session) stopRingTimerLocked() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
}

// finish marks the session ended and hands back the peer connection to
// close. It reports false when the session had already ended.
func (s *session) finish() (*webrtc.PeerConnection, bool) {
	s.mu.Lock()
	if s.state == stateEnded {
		s.mu.Unlock()
		return nil, false
	}
	s.state = stateEnded
	s.stopRingTimerLocked()
	if s.detachLocal != nil {
		s.detachLocal()
		s.detachLocal = nil
	}
	batcher, pc := s.candidates, s.pc
	s.mu.Unlock()

	if batcher != nil {
		batcher.Discard()
	}
	return pc, true
}
