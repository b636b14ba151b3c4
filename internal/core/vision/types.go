// Package vision holds the value types that travel between the frame source,
// the preprocessor and the classifier. Everything in here is passed by value;
// no component shares a mutable buffer with another except where a type says so.
package vision

import (
	"fmt"
	"image"
	"strings"
	"time"
)

// Classifier input geometry.
const (
	InputWidth    = 224
	InputHeight   = 224
	InputChannels = 3
)

// Facing selects which physical camera supplies frames.
type Facing int

const (
	FacingFront Facing = iota // user-facing camera
	FacingBack                // environment-facing camera
)

// String returns the config/API spelling of the facing mode.
func (f Facing) String() string {
	switch f {
	case FacingFront:
		return "front"
	case FacingBack:
		return "back"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// Opposite returns the other camera.
func (f Facing) Opposite() Facing {
	if f == FacingFront {
		return FacingBack
	}
	return FacingFront
}

// ParseFacing accepts "front"/"back" as well as the browser names "user"/"environment".
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "front", "user", "":
		return FacingFront, nil
	case "back", "rear", "environment":
		return FacingBack, nil
	default:
		return FacingFront, fmt.Errorf("unknown facing mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Facing) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Facing) UnmarshalText(b []byte) error {
	parsed, err := ParseFacing(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Frame is one decoded sample from the capture device.
//
// Pix holds packed 8-bit RGB rows (Width*Height*3 bytes). The buffer belongs to
// the frame source and is overwritten on the next capture, so consumers must
// copy whatever they need before returning.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Pix       []byte
}

// Valid reports whether the frame carries a complete RGB image.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*3
}

// Size returns the frame dimensions.
func (f Frame) Size() image.Point {
	return image.Pt(f.Width, f.Height)
}

// Tensor is a dense float32 buffer in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return Tensor{Shape: s, Data: make([]float32, n)}
}

// Len returns the number of elements implied by Shape.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// IsInput reports whether t has the classifier input shape [1,224,224,3].
func (t Tensor) IsInput() bool {
	return len(t.Shape) == 4 &&
		t.Shape[0] == 1 &&
		t.Shape[1] == InputHeight &&
		t.Shape[2] == InputWidth &&
		t.Shape[3] == InputChannels &&
		len(t.Data) == t.Len()
}

// StreamHandle identifies one acquisition of a capture device.
type StreamHandle struct {
	ID         string      `json:"id"`
	Facing     Facing      `json:"facing"`
	Requested  image.Point `json:"requested"`
	Actual     image.Point `json:"actual"`
	AcquiredAt time.Time   `json:"acquired_at"`
}
