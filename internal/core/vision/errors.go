package vision

import (
	"errors"
)

var (
	// ErrDevice means the camera is unavailable or access was denied.
	ErrDevice = errors.New("camera device unavailable")
	// ErrModelLoad means the classifier could not be loaded. It is permanent for the process.
	ErrModelLoad = errors.New("model load failed")
	// ErrFrameNotReady means no decodable frame exists yet. Expected and transient.
	ErrFrameNotReady = errors.New("frame not ready")
	// ErrInference means a single inference failed or produced an invalid result.
	ErrInference = errors.New("inference failed")
)

// Fault is the error class surfaced to presentation.
type Fault int

const (
	FaultNone Fault = iota
	FaultDevice
	FaultModelLoad
	FaultInference
)

func (f Fault) String() string {
	switch f {
	case FaultDevice:
		return "device"
	case FaultModelLoad:
		return "model_load"
	case FaultInference:
		return "inference"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Fault) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// Classify maps an error onto its fault class. Unknown errors count as
// inference faults; ErrFrameNotReady is never surfaced and maps to FaultNone.
func Classify(err error) Fault {
	switch {
	case err == nil:
		return FaultNone
	case errors.Is(err, ErrFrameNotReady):
		return FaultNone
	case errors.Is(err, ErrDevice):
		return FaultDevice
	case errors.Is(err, ErrModelLoad):
		return FaultModelLoad
	default:
		return FaultInference
	}
}
