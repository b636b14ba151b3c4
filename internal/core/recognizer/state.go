package recognizer

import (
	"time"

	"medscan-go/internal/core/vision"
)

// Status is the confidence gate outcome.
type Status int

const (
	StatusNoModel Status = iota
	StatusUncertain
	StatusConfident
)

func (s Status) String() string {
	switch s {
	case StatusUncertain:
		return "uncertain"
	case StatusConfident:
		return "confident"
	default:
		return "no_model"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Phase is where the loop currently is within its state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePolling
	PhaseCapturing
	PhasePreprocessing
	PhaseInferring
	PhaseInterpreting
)

func (p Phase) String() string {
	switch p {
	case PhasePolling:
		return "polling"
	case PhaseCapturing:
		return "capturing"
	case PhasePreprocessing:
		return "preprocessing"
	case PhaseInferring:
		return "inferring"
	case PhaseInterpreting:
		return "interpreting"
	default:
		return "idle"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is the latest classification outcome. Label is empty unless Status is
// StatusConfident.
type State struct {
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence"`
	Status     Status  `json:"status"`
}

// Score pairs a label with its probability.
type Score struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Snapshot is what readers observe. It is a value; Top is never written after
// publication.
type Snapshot struct {
	State
	Phase        Phase         `json:"phase"`
	Facing       vision.Facing `json:"facing"`
	Fault        vision.Fault  `json:"fault"`
	FaultMessage string        `json:"fault_message,omitempty"`
	Top          []Score       `json:"top,omitempty"`
	Seq          uint64        `json:"seq"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Stats are the loop counters.
type Stats struct {
	Polling         bool          `json:"polling"`
	Ticks           uint64        `json:"ticks"`
	Skipped         uint64        `json:"skipped"`
	FramesNotReady  uint64        `json:"frames_not_ready"`
	Inferences      uint64        `json:"inferences"`
	InferenceErrors uint64        `json:"inference_errors"`
	LastLatency     time.Duration `json:"last_latency_ns"`
}
