// Package camera owns the capture device on behalf of the recognition loop.
// Only one stream is ever open; acquiring a new one closes the previous one first.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"medscan-go/internal/core/vision"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Device is an opened capture stream.
type Device interface {
	// Read decodes the most recent frame into dst, reusing dst.Pix when it is
	// large enough. It returns vision.ErrFrameNotReady while the stream warms up.
	Read(dst *vision.Frame) error
	Size() image.Point
	Close() error
}

// Request describes the stream to open.
type Request struct {
	Facing vision.Facing
	Width  int
	Height int
}

// Opener opens devices. Implementations map a facing mode to a physical camera.
type Opener interface {
	Open(ctx context.Context, req Request) (Device, error)
}

// Source implements the loop's frame source on top of an Opener.
type Source struct {
	opener Opener
	width  int
	height int

	mu     sync.Mutex
	handle *vision.StreamHandle
	dev    Device
	frame  vision.Frame
	seq    uint64
}

// NewSource creates a source requesting width x height frames.
func NewSource(opener Opener, width, height int) *Source {
	return &Source{opener: opener, width: width, height: height}
}

// Acquire opens the camera for facing. A previously held stream is closed
// before the new one is requested.
func (s *Source) Acquire(ctx context.Context, facing vision.Facing) (*vision.StreamHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()

	req := Request{Facing: facing, Width: s.width, Height: s.height}
	dev, err := s.opener.Open(ctx, req)
	if err != nil {
		if errors.Is(err, vision.ErrDevice) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: open %s camera: %v", vision.ErrDevice, facing, err)
	}

	s.dev = dev
	s.handle = &vision.StreamHandle{
		ID:         uuid.NewString(),
		Facing:     facing,
		Requested:  image.Pt(s.width, s.height),
		Actual:     dev.Size(),
		AcquiredAt: time.Now(),
	}
	if s.handle.Actual != s.handle.Requested {
		log.Debugf("Camera delivers %v instead of requested %v", s.handle.Actual, s.handle.Requested)
	}
	h := *s.handle
	return &h, nil
}

// CurrentFrame reads the latest frame. The returned Pix is reused by the next
// call and must not be retained.
func (s *Source) CurrentFrame() (vision.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return vision.Frame{}, fmt.Errorf("%w: no stream acquired", vision.ErrDevice)
	}
	if err := s.dev.Read(&s.frame); err != nil {
		return vision.Frame{}, err
	}
	if !s.frame.Valid() {
		return vision.Frame{}, vision.ErrFrameNotReady
	}
	s.seq++
	s.frame.Seq = s.seq
	if s.frame.Timestamp.IsZero() {
		s.frame.Timestamp = time.Now()
	}
	return s.frame, nil
}

// Release closes the stream identified by h. Releasing a stale handle is a no-op.
func (s *Source) Release(h *vision.StreamHandle) error {
	if h == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil || s.handle.ID != h.ID {
		return nil
	}
	return s.closeLocked()
}

// Current returns the held stream handle, if any.
func (s *Source) Current() (vision.StreamHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return vision.StreamHandle{}, false
	}
	return *s.handle, true
}

func (s *Source) closeLocked() error {
	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	log.Debugf("Camera stream %s closed", s.handle.ID)
	s.dev = nil
	s.handle = nil
	s.frame = vision.Frame{}
	return err
}
