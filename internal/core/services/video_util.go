package services

import (
	"callcore/internal/core/domain"
	"callcore/internal/core/state"
)

// initializeVideo creates the camera and both render sinks. A device without a
// usable camera still gets a remote sink so audio-only calls can receive video.
func initializeVideo(s *state.ServiceState, ia *WebRtcInteractor, recipient domain.RecipientID) *state.ServiceState {
	if s.Video().IsInitialized() {
		return s
	}

	var (
		resources   state.VideoResources
		cameraState = domain.CameraStateUnknown
		err         error
	)
	ia.RunOnMain(func() {
		resources.Camera, resources.LocalSink, err = ia.video.NewCamera(ia.manager.cameraListener())
		if err == nil && resources.Camera == nil {
			err = domain.ErrCameraUnavailable
		}
		if err == nil {
			cameraState = resources.Camera.CameraState()
		}
	})
	resources.RemoteSink = ia.video.NewRenderSink(recipient)

	if err != nil {
		ia.logger.Warnw("camera unavailable, continuing without local video", "error", err)
		resources.Camera, resources.LocalSink = nil, nil
	}

	return s.Builder().
		ChangeVideoState().
		Resources(resources.Camera, resources.LocalSink, resources.RemoteSink).
		Commit().
		ChangeLocalDeviceState().
		CameraState(cameraState).
		Build()
}

// deinitializeVideo disposes the camera and forgets the sinks.
func deinitializeVideo(s *state.ServiceState, ia *WebRtcInteractor) *state.ServiceState {
	if !s.Video().IsInitialized() {
		return s
	}
	if camera, ok := s.Video().Camera(); ok {
		ia.RunOnMain(camera.Dispose)
	}
	return s.Builder().ChangeVideoState().Clear().Build()
}

// setCameraEnabled toggles the local camera and records the resulting state.
func setCameraEnabled(s *state.ServiceState, ia *WebRtcInteractor, enabled bool) *state.ServiceState {
	camera, ok := s.Video().Camera()
	if !ok {
		return s
	}
	var cs domain.CameraState
	ia.RunOnMain(func() {
		camera.SetEnabled(enabled)
		cs = camera.CameraState()
	})
	return s.Builder().ChangeLocalDeviceState().CameraState(cs).Build()
}
