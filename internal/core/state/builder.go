package state

import (
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
)

// Builder derives a new ServiceState. Partition changes go through the nested
// builders, which fold back into the Builder only on Commit or Build.
type Builder struct {
	toBuild ServiceState
}

func (b *Builder) Phase(p Phase) *Builder {
	b.toBuild.phase = p
	return b
}

func (b *Builder) ChangeCallInfoState() *CallInfoBuilder {
	return &CallInfoBuilder{parent: b, state: b.toBuild.callInfo.clone()}
}

func (b *Builder) ChangeLocalDeviceState() *LocalDeviceBuilder {
	return &LocalDeviceBuilder{parent: b, state: b.toBuild.localDevice}
}

func (b *Builder) ChangeCallSetupState() *CallSetupBuilder {
	return &CallSetupBuilder{parent: b, state: b.toBuild.callSetup}
}

func (b *Builder) ChangeVideoState() *VideoBuilder {
	return &VideoBuilder{parent: b, state: b.toBuild.video}
}

// Terminate resets call info, local device, call setup and video to their
// defaults. The peer map survives: the engine still reports on the terminated
// peer until the call is concluded, and a second peer may be waiting. The
// generation keeps counting so a later call never reuses a value.
func (b *Builder) Terminate() *Builder {
	old := b.toBuild.callInfo
	info := newCallInfoState()
	for k, v := range old.peers {
		info.peers[k] = v
	}
	info.generation = old.generation + 1

	b.toBuild.callInfo = info
	b.toBuild.localDevice = newLocalDeviceState()
	b.toBuild.callSetup = CallSetupState{}
	b.toBuild.video = VideoState{}
	return b
}

func (b *Builder) Build() *ServiceState {
	s := b.toBuild
	return &s
}

type CallInfoBuilder struct {
	parent *Builder
	state  CallInfoState
}

func (cb *CallInfoBuilder) CallState(s domain.CallState) *CallInfoBuilder {
	cb.state.callState = s
	return cb
}

func (cb *CallInfoBuilder) CallRecipient(r domain.RecipientID) *CallInfoBuilder {
	cb.state.recipient = r
	return cb
}

func (cb *CallInfoBuilder) CallConnectedTime(t time.Time) *CallInfoBuilder {
	cb.state.connectedTime = t
	return cb
}

// PutParticipant adds or replaces the participant for its (recipient, device).
func (cb *CallInfoBuilder) PutParticipant(p domain.CallParticipant) *CallInfoBuilder {
	cb.state.participants[p.ID()] = p
	return cb
}

func (cb *CallInfoBuilder) RemoveParticipant(id domain.ParticipantID) *CallInfoBuilder {
	delete(cb.state.participants, id)
	return cb
}

// PutRemotePeer files peer under its key. If peer is the active peer the
// active copy is refreshed as well.
func (cb *CallInfoBuilder) PutRemotePeer(peer domain.RemotePeer) *CallInfoBuilder {
	cb.state.peers[peer.Key] = peer
	if cb.state.activePeer != nil && cb.state.activePeer.Key == peer.Key {
		active := peer
		cb.state.activePeer = &active
	}
	return cb
}

func (cb *CallInfoBuilder) RemoveRemotePeer(key domain.PeerKey) *CallInfoBuilder {
	delete(cb.state.peers, key)
	return cb
}

func (cb *CallInfoBuilder) ClearPeerMap() *CallInfoBuilder {
	cb.state.peers = map[domain.PeerKey]domain.RemotePeer{}
	return cb
}

// ActivePeer makes peer the active peer and files it in the peer map.
func (cb *CallInfoBuilder) ActivePeer(peer domain.RemotePeer) *CallInfoBuilder {
	active := peer
	cb.state.activePeer = &active
	cb.state.peers[peer.Key] = peer
	cb.state.generation++
	return cb
}

func (cb *CallInfoBuilder) ClearActivePeer() *CallInfoBuilder {
	if cb.state.activePeer != nil {
		cb.state.activePeer = nil
		cb.state.generation++
	}
	return cb
}

func (cb *CallInfoBuilder) Commit() *Builder {
	cb.parent.toBuild.callInfo = cb.state
	return cb.parent
}

func (cb *CallInfoBuilder) Build() *ServiceState {
	return cb.Commit().Build()
}

type LocalDeviceBuilder struct {
	parent *Builder
	state  LocalDeviceState
}

func (lb *LocalDeviceBuilder) CameraState(c domain.CameraState) *LocalDeviceBuilder {
	lb.state.cameraState = c
	return lb
}

func (lb *LocalDeviceBuilder) IsMicrophoneEnabled(enabled bool) *LocalDeviceBuilder {
	lb.state.microphoneEnabled = enabled
	return lb
}

func (lb *LocalDeviceBuilder) IsBluetoothAvailable(available bool) *LocalDeviceBuilder {
	lb.state.bluetoothAvailable = available
	return lb
}

func (lb *LocalDeviceBuilder) WantsBluetooth(wants bool) *LocalDeviceBuilder {
	lb.state.wantsBluetooth = wants
	return lb
}

func (lb *LocalDeviceBuilder) IsNetworkAvailable(available bool) *LocalDeviceBuilder {
	lb.state.networkAvailable = available
	return lb
}

func (lb *LocalDeviceBuilder) Commit() *Builder {
	lb.parent.toBuild.localDevice = lb.state
	return lb.parent
}

func (lb *LocalDeviceBuilder) Build() *ServiceState {
	return lb.Commit().Build()
}

type CallSetupBuilder struct {
	parent *Builder
	state  CallSetupState
}

func (sb *CallSetupBuilder) EnableVideoOnCreate(enable bool) *CallSetupBuilder {
	sb.state.enableVideoOnCreate = enable
	return sb
}

func (sb *CallSetupBuilder) IsRemoteVideoOffer(offer bool) *CallSetupBuilder {
	sb.state.remoteVideoOffer = offer
	return sb
}

func (sb *CallSetupBuilder) AcceptWithVideo(accept bool) *CallSetupBuilder {
	sb.state.acceptWithVideo = accept
	return sb
}

func (sb *CallSetupBuilder) Commit() *Builder {
	sb.parent.toBuild.callSetup = sb.state
	return sb.parent
}

func (sb *CallSetupBuilder) Build() *ServiceState {
	return sb.Commit().Build()
}

type VideoBuilder struct {
	parent *Builder
	state  VideoState
}

func (vb *VideoBuilder) Resources(camera ports.Camera, localSink, remoteSink domain.VideoSink) *VideoBuilder {
	vb.state.resources = &VideoResources{Camera: camera, LocalSink: localSink, RemoteSink: remoteSink}
	return vb
}

func (vb *VideoBuilder) Clear() *VideoBuilder {
	vb.state.resources = nil
	return vb
}

func (vb *VideoBuilder) Commit() *Builder {
	vb.parent.toBuild.video = vb.state
	return vb.parent
}

func (vb *VideoBuilder) Build() *ServiceState {
	return vb.Commit().Build()
}
