/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package media

import "context"

// Constraints describes what to capture.
type Constraints struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`

	VideoDeviceID string  `json:"videoDeviceId,omitempty"`
	AudioDeviceID string  `json:"audioDeviceId,omitempty"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	FrameRate     float64 `json:"frameRate"`

	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	AutoGainControl  bool `json:"autoGainControl"`
}

// DefaultConstraints returns 640x480@30 with all audio processing enabled
func DefaultConstraints() Constraints {
	return Constraints{
		Video:            true,
		Audio:            true,
		Width:            640,
		Height:           480,
		FrameRate:        30,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Device acquires capture tracks. Failures are reported as *DeviceError.
// A GetUserMedia request for both kinds fails as a whole when either kind
// cannot be acquired.
type Device interface {
	GetUserMedia(ctx context.Context, c Constraints) ([]*Track, error)
	GetDisplayMedia(ctx context.Context, c Constraints) (*Track, error)
}
