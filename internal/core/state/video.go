package state

import (
	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
)

// VideoResources exist from initializeVideo until the call is terminated.
type VideoResources struct {
	Camera     ports.Camera
	LocalSink  domain.VideoSink
	RemoteSink domain.VideoSink
}

// VideoState is empty until video is initialized.
type VideoState struct {
	resources *VideoResources
}

func (v VideoState) IsInitialized() bool { return v.resources != nil }

func (v VideoState) Resources() (VideoResources, bool) {
	if v.resources == nil {
		return VideoResources{}, false
	}
	return *v.resources, true
}

func (v VideoState) Camera() (ports.Camera, bool) {
	if v.resources == nil || v.resources.Camera == nil {
		return nil, false
	}
	return v.resources.Camera, true
}

func (v VideoState) LocalSink() domain.VideoSink {
	if v.resources == nil {
		return nil
	}
	return v.resources.LocalSink
}

func (v VideoState) RemoteSink() domain.VideoSink {
	if v.resources == nil {
		return nil
	}
	return v.resources.RemoteSink
}
