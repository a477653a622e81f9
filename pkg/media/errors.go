/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 */
package media

import (
	"errors"
	"fmt"
)

// Reason classifies a device acquisition failure.
type Reason string

const (
	ReasonPermissionDenied       Reason = "permission-denied"
	ReasonNotFound               Reason = "not-found"
	ReasonBusy                   Reason = "busy"
	ReasonOverconstrained        Reason = "overconstrained"
	ReasonEnvironmentUnsupported Reason = "environment-unsupported"
)

var (
	// ErrControllerClosed indicates the controller has been closed
	ErrControllerClosed = errors.New("media controller is closed")

	// ErrTrackStopped indicates the track has been stopped
	ErrTrackStopped = errors.New("track is stopped")

	// ErrNothingRequested indicates Start was called with neither video nor audio
	ErrNothingRequested = errors.New("no media kind requested")
)

// DeviceError is returned when a camera, microphone or display cannot be acquired.
type DeviceError struct {
	Reason Reason
	Kind   Kind
	Err    error
}

func (e *DeviceError) Error() string {
	kind := string(e.Kind)
	if kind == "" {
		kind = "media"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s device %s: %v", kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s device %s", kind, e.Reason)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewDeviceError creates a DeviceError
func NewDeviceError(reason Reason, kind Kind, err error) *DeviceError {
	return &DeviceError{Reason: reason, Kind: kind, Err: err}
}

// ReasonOf returns the acquisition failure reason of err, or "" if err is not a DeviceError.
func ReasonOf(err error) Reason {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}

// IsNotFound reports whether err is a not-found class acquisition failure.
func IsNotFound(err error) bool {
	return ReasonOf(err) == ReasonNotFound
}
