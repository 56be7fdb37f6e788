package state

import "callcore/internal/core/domain"

type LocalDeviceState struct {
	cameraState        domain.CameraState
	microphoneEnabled  bool
	bluetoothAvailable bool
	wantsBluetooth     bool
	networkAvailable   bool
}

func newLocalDeviceState() LocalDeviceState {
	return LocalDeviceState{
		cameraState:       domain.CameraStateUnknown,
		microphoneEnabled: true,
		networkAvailable:  true,
	}
}

func (l LocalDeviceState) CameraState() domain.CameraState { return l.cameraState }
func (l LocalDeviceState) IsMicrophoneEnabled() bool       { return l.microphoneEnabled }
func (l LocalDeviceState) IsBluetoothAvailable() bool      { return l.bluetoothAvailable }
func (l LocalDeviceState) WantsBluetooth() bool            { return l.wantsBluetooth }
func (l LocalDeviceState) IsNetworkAvailable() bool        { return l.networkAvailable }
