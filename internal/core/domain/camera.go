package domain

import "fmt"

// CameraDirection is the lens the local camera captures from.
type CameraDirection int

const (
	CameraDirectionNone CameraDirection = iota
	CameraDirectionFront
	CameraDirectionBack
)

func (d CameraDirection) String() string {
	switch d {
	case CameraDirectionFront:
		return "front"
	case CameraDirectionBack:
		return "back"
	default:
		return "none"
	}
}

func (d CameraDirection) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *CameraDirection) UnmarshalText(text []byte) error {
	switch string(text) {
	case "front":
		*d = CameraDirectionFront
	case "back":
		*d = CameraDirectionBack
	case "none", "":
		*d = CameraDirectionNone
	default:
		return fmt.Errorf("unknown camera direction %q", text)
	}
	return nil
}

// Switch returns the opposite lens.
func (d CameraDirection) Switch() CameraDirection {
	switch d {
	case CameraDirectionFront:
		return CameraDirectionBack
	case CameraDirectionBack:
		return CameraDirectionFront
	default:
		return CameraDirectionNone
	}
}

type CameraState struct {
	ActiveDirection CameraDirection `json:"active_direction"`
	CameraCount     int             `json:"camera_count"`
}

var CameraStateUnknown = CameraState{ActiveDirection: CameraDirectionNone}

func (c CameraState) IsEnabled() bool {
	return c.ActiveDirection != CameraDirectionNone
}
