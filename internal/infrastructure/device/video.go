package device

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/pkg/optimize"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

const maxPacketSize = 1500

type VideoConfig struct {
	// RTPAddress is the UDP address camera RTP arrives on. Empty disables
	// capture but keeps the camera controls working.
	RTPAddress  string
	CameraCount int
}

// VideoFactory builds cameras fed by an external RTP source and render sinks
// that account for received video.
type VideoFactory struct {
	config  VideoConfig
	packets *optimize.BytePool
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	renders map[domain.RecipientID]*RenderSink
}

func NewVideoFactory(cfg VideoConfig, logger *zap.SugaredLogger) *VideoFactory {
	return &VideoFactory{
		config:  cfg,
		packets: optimize.NewBytePool(maxPacketSize),
		logger:  logger.With("component", "video"),
		renders: make(map[domain.RecipientID]*RenderSink),
	}
}

func (f *VideoFactory) NewCamera(listener ports.CameraEventListener) (ports.Camera, domain.VideoSink, error) {
	if f.config.CameraCount <= 0 {
		return nil, nil, domain.ErrCameraUnavailable
	}
	local := NewFanoutSink()
	return &Camera{
		factory:   f,
		listener:  listener,
		sink:      local,
		count:     f.config.CameraCount,
		direction: domain.CameraDirectionNone,
		logger:    f.logger,
	}, local, nil
}

func (f *VideoFactory) NewRenderSink(recipient domain.RecipientID) domain.VideoSink {
	sink := &RenderSink{recipient: recipient}
	f.mu.Lock()
	f.renders[recipient] = sink
	f.mu.Unlock()
	return sink
}

// RenderStats returns what the latest sink for recipient has received.
func (f *VideoFactory) RenderStats(recipient domain.RecipientID) (RenderStats, bool) {
	f.mu.Lock()
	sink, ok := f.renders[recipient]
	f.mu.Unlock()
	if !ok {
		return RenderStats{}, false
	}
	return sink.Stats(), true
}

// Camera captures from the front lens by default. Enabling it starts reading
// RTP from the configured address into the local sink.
type Camera struct {
	factory  *VideoFactory
	listener ports.CameraEventListener
	sink     *FanoutSink
	count    int
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	direction domain.CameraDirection
	last      domain.CameraDirection
	conn      net.PacketConn
	capture   sync.WaitGroup
	disposed  bool
}

func (c *Camera) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}

	switch {
	case enabled && c.direction == domain.CameraDirectionNone:
		c.direction = c.last
		if c.direction == domain.CameraDirectionNone {
			c.direction = domain.CameraDirectionFront
		}
		c.startCaptureLocked()
	case !enabled && c.direction != domain.CameraDirectionNone:
		c.last = c.direction
		c.direction = domain.CameraDirectionNone
		c.stopCaptureLocked()
	}
}

// Flip switches lenses asynchronously and reports the result to the listener.
// Without a second lens, or while disabled, the current state is reported.
func (c *Camera) Flip() {
	c.mu.Lock()
	if c.count > 1 && c.direction != domain.CameraDirectionNone && !c.disposed {
		c.direction = c.direction.Switch()
	}
	state := c.stateLocked()
	c.mu.Unlock()

	if c.listener != nil {
		go c.listener.OnCameraSwitchCompleted(state)
	}
}

func (c *Camera) CameraState() domain.CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Camera) stateLocked() domain.CameraState {
	return domain.CameraState{ActiveDirection: c.direction, CameraCount: c.count}
}

func (c *Camera) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.direction = domain.CameraDirectionNone
	c.stopCaptureLocked()
	c.mu.Unlock()

	c.capture.Wait()
	c.sink.Close()
}

func (c *Camera) startCaptureLocked() {
	if c.factory.config.RTPAddress == "" || c.conn != nil {
		return
	}
	conn, err := net.ListenPacket("udp", c.factory.config.RTPAddress)
	if err != nil {
		c.logger.Warnw("camera capture unavailable", "address", c.factory.config.RTPAddress, "error", err)
		return
	}
	c.conn = conn
	c.capture.Add(1)
	go c.read(conn)
	c.logger.Infow("camera capture started", "address", conn.LocalAddr().String())
}

func (c *Camera) stopCaptureLocked() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
}

func (c *Camera) read(conn net.PacketConn) {
	defer c.capture.Done()
	pool := c.factory.packets
	var header rtp.Header
	for {
		buf := pool.Get()
		n, _, err := conn.ReadFrom(*buf)
		if err != nil {
			pool.Put(buf)
			if !errors.Is(err, net.ErrClosed) {
				c.logger.Warnw("camera capture stopped", "error", err)
			}
			return
		}
		if _, err := header.Unmarshal((*buf)[:n]); err != nil {
			pool.Put(buf)
			continue
		}
		_, _ = c.sink.Write((*buf)[:n])
		pool.Put(buf)
	}
}

// FanoutSink copies every packet written to it to the attached sinks. The
// camera writes into it and call sessions attach their outgoing video track.
type FanoutSink struct {
	mu     sync.RWMutex
	next   int
	sinks  map[int]domain.VideoSink
	closed bool
}

func NewFanoutSink() *FanoutSink {
	return &FanoutSink{sinks: make(map[int]domain.VideoSink)}
}

// Attach adds sink and returns the function that removes it again.
func (f *FanoutSink) Attach(sink domain.VideoSink) (detach func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return func() {}
	}
	id := f.next
	f.next++
	f.sinks[id] = sink

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.sinks, id)
			f.mu.Unlock()
		})
	}
}

func (f *FanoutSink) Write(packet []byte) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sink := range f.sinks {
		_, _ = sink.Write(packet)
	}
	return len(packet), nil
}

func (f *FanoutSink) Attached() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

func (f *FanoutSink) Close() {
	f.mu.Lock()
	f.closed = true
	clear(f.sinks)
	f.mu.Unlock()
}

type RenderStats struct {
	Packets uint64 `json:"packets"`
	Frames  uint64 `json:"frames"`
	Bytes   uint64 `json:"bytes"`
}

// RenderSink stands in for a video renderer: it counts the remote video it is
// handed. A frame ends on a packet with the RTP marker bit set.
type RenderSink struct {
	recipient domain.RecipientID
	packets   atomic.Uint64
	frames    atomic.Uint64
	bytes     atomic.Uint64
}

func (r *RenderSink) Write(packet []byte) (int, error) {
	var p rtp.Packet
	if err := p.Unmarshal(packet); err != nil {
		return 0, err
	}
	r.packets.Add(1)
	r.bytes.Add(uint64(len(p.Payload)))
	if p.Marker {
		r.frames.Add(1)
	}
	return len(packet), nil
}

func (r *RenderSink) Stats() RenderStats {
	return RenderStats{
		Packets: r.packets.Load(),
		Frames:  r.frames.Load(),
		Bytes:   r.bytes.Load(),
	}
}
