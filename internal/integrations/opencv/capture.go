package opencv

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"medscan-go/internal/camera"
	"medscan-go/internal/core/vision"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Nach so vielen leeren Reads in Folge gilt die Kamera als verloren
const maxEmptyReads = 30

// CaptureOpener öffnet Kameras über gocv.VideoCapture. Front und Back sind
// Geräte-IDs ("0") oder Stream-URLs.
type CaptureOpener struct {
	Front string
	Back  string
}

// Open öffnet die Kamera für die angeforderte Blickrichtung
func (o CaptureOpener) Open(ctx context.Context, req camera.Request) (camera.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	source := o.Front
	if req.Facing == vision.FacingBack {
		source = o.Back
	}
	if source == "" {
		return nil, fmt.Errorf("%w: no %s camera configured", vision.ErrDevice, req.Facing)
	}

	vc, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", vision.ErrDevice, source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s could not be opened", vision.ErrDevice, source)
	}

	// nur das neueste Bild puffern
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	if req.Width > 0 && req.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(req.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(req.Height))
	}

	size := image.Pt(int(vc.Get(gocv.VideoCaptureFrameWidth)), int(vc.Get(gocv.VideoCaptureFrameHeight)))
	log.WithFields(log.Fields{
		"source": source,
		"facing": req.Facing,
		"size":   size,
	}).Info("Kamera geöffnet")

	return &captureDevice{
		source: source,
		vc:     vc,
		size:   size,
		bgr:    gocv.NewMat(),
		rgb:    gocv.NewMat(),
	}, nil
}

type captureDevice struct {
	mu     sync.Mutex
	source string
	vc     *gocv.VideoCapture
	size   image.Point
	bgr    gocv.Mat
	rgb    gocv.Mat
	empty  int
	closed bool
}

func (d *captureDevice) Read(dst *vision.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("%w: capture closed", vision.ErrDevice)
	}
	if ok := d.vc.Read(&d.bgr); !ok || d.bgr.Empty() {
		d.empty++
		if d.empty >= maxEmptyReads || !d.vc.IsOpened() {
			return fmt.Errorf("%w: %s stopped delivering frames", vision.ErrDevice, d.source)
		}
		return vision.ErrFrameNotReady
	}
	d.empty = 0

	gocv.CvtColor(d.bgr, &d.rgb, gocv.ColorBGRToRGB)
	pix, err := d.rgb.DataPtrUint8()
	if err != nil {
		return fmt.Errorf("%w: frame buffer: %v", vision.ErrFrameNotReady, err)
	}

	if cap(dst.Pix) < len(pix) {
		dst.Pix = make([]byte, len(pix))
	}
	dst.Pix = dst.Pix[:len(pix)]
	copy(dst.Pix, pix)
	dst.Width = d.rgb.Cols()
	dst.Height = d.rgb.Rows()
	dst.Timestamp = time.Now()
	return nil
}

func (d *captureDevice) Size() image.Point {
	return d.size
}

func (d *captureDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.bgr.Close()
	d.rgb.Close()
	return d.vc.Close()
}
