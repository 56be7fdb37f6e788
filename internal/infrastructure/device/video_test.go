package device

import (
	"net"
	"sync"
	"testing"
	"time"

	"callcore/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type switchListener struct {
	mu     sync.Mutex
	states []domain.CameraState
}

func (l *switchListener) OnCameraSwitchCompleted(state domain.CameraState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
}

func (l *switchListener) all() []domain.CameraState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.CameraState(nil), l.states...)
}

type packetSink struct {
	mu      sync.Mutex
	packets [][]byte
}

func (s *packetSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, append([]byte(nil), p...))
	return len(p), nil
}

func (s *packetSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

func marshalPacket(t *testing.T, seq uint16, marker bool, payload []byte) []byte {
	p := rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: seq, Marker: marker, SSRC: 7},
		Payload: payload,
	}
	raw, err := p.Marshal()
	require.NoError(t, err)
	return raw
}

func TestVideoFactory_NoCamera(t *testing.T) {
	f := NewVideoFactory(VideoConfig{}, zaptest.NewLogger(t).Sugar())
	_, _, err := f.NewCamera(nil)
	assert.ErrorIs(t, err, domain.ErrCameraUnavailable)
}

func TestCamera_EnableAndFlip(t *testing.T) {
	f := NewVideoFactory(VideoConfig{CameraCount: 2}, zaptest.NewLogger(t).Sugar())
	listener := &switchListener{}
	camera, local, err := f.NewCamera(listener)
	require.NoError(t, err)
	require.NotNil(t, local)
	defer camera.Dispose()

	assert.False(t, camera.CameraState().IsEnabled())

	camera.SetEnabled(true)
	assert.Equal(t, domain.CameraState{ActiveDirection: domain.CameraDirectionFront, CameraCount: 2}, camera.CameraState())

	camera.Flip()
	require.Eventually(t, func() bool { return len(listener.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.CameraDirectionBack, listener.all()[0].ActiveDirection)

	camera.SetEnabled(false)
	assert.False(t, camera.CameraState().IsEnabled())
	camera.SetEnabled(true)
	assert.Equal(t, domain.CameraDirectionBack, camera.CameraState().ActiveDirection, "re-enabling keeps the last lens")
}

func TestCamera_SingleLensFlipReportsCurrentState(t *testing.T) {
	f := NewVideoFactory(VideoConfig{CameraCount: 1}, zaptest.NewLogger(t).Sugar())
	listener := &switchListener{}
	camera, _, err := f.NewCamera(listener)
	require.NoError(t, err)
	defer camera.Dispose()

	camera.SetEnabled(true)
	camera.Flip()
	require.Eventually(t, func() bool { return len(listener.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.CameraDirectionFront, listener.all()[0].ActiveDirection)
}

func TestCamera_CapturesRTPIntoAttachedSinks(t *testing.T) {
	probe, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.LocalAddr().String()
	require.NoError(t, probe.Close())

	f := NewVideoFactory(VideoConfig{RTPAddress: addr, CameraCount: 1}, zaptest.NewLogger(t).Sugar())
	camera, local, err := f.NewCamera(nil)
	require.NoError(t, err)
	defer camera.Dispose()

	source, ok := local.(*FanoutSink)
	require.True(t, ok)
	track := &packetSink{}
	detach := source.Attach(track)

	camera.SetEnabled(true)

	sender, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer sender.Close()

	require.Eventually(t, func() bool {
		_, _ = sender.Write(marshalPacket(t, 1, true, []byte{1, 2, 3}))
		_, _ = sender.Write([]byte("not rtp"))
		return track.count() > 0
	}, 2*time.Second, 20*time.Millisecond)

	detach()
	assert.Equal(t, 0, source.Attached())
}

func TestFanoutSink(t *testing.T) {
	fan := NewFanoutSink()
	a, b := &packetSink{}, &packetSink{}
	detachA := fan.Attach(a)
	fan.Attach(b)

	_, err := fan.Write([]byte{1})
	require.NoError(t, err)
	detachA()
	detachA()
	_, _ = fan.Write([]byte{2})

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 2, b.count())

	fan.Close()
	fan.Attach(a)
	assert.Equal(t, 0, fan.Attached())
}

func TestRenderSink_CountsFrames(t *testing.T) {
	f := NewVideoFactory(VideoConfig{}, zaptest.NewLogger(t).Sugar())
	sink := f.NewRenderSink("bob")

	_, err := sink.Write(marshalPacket(t, 1, false, []byte{1, 2}))
	require.NoError(t, err)
	_, err = sink.Write(marshalPacket(t, 2, true, []byte{3}))
	require.NoError(t, err)
	_, err = sink.Write([]byte{0x01})
	assert.Error(t, err)

	stats, ok := f.RenderStats("bob")
	require.True(t, ok)
	assert.Equal(t, RenderStats{Packets: 2, Frames: 1, Bytes: 3}, stats)

	_, ok = f.RenderStats("carol")
	assert.False(t, ok)
}
