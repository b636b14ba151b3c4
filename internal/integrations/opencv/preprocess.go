package opencv

import (
	"fmt"
	"image"
	"runtime"

	"medscan-go/internal/core/vision"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Preprocessor skaliert ein RGB-Bild bilinear auf die Modellgröße und
// normalisiert die Pixel auf [0,1].
type Preprocessor struct {
	Mirror bool
	Debug  *DebugService // optional
}

// Prepare erzeugt den Eingabetensor [1,224,224,3]. Der Frame wird nicht behalten.
func (p *Preprocessor) Prepare(frame vision.Frame) (vision.Tensor, error) {
	if !frame.Valid() {
		return vision.Tensor{}, vision.ErrFrameNotReady
	}

	src, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pix)
	if err != nil {
		return vision.Tensor{}, fmt.Errorf("%w: wrap frame: %v", vision.ErrInference, err)
	}
	defer src.Close()
	defer runtime.KeepAlive(frame.Pix)

	img := src
	if p.Mirror {
		flipped := gocv.NewMat()
		defer flipped.Close()
		gocv.Flip(src, &flipped, 1)
		img = flipped
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(vision.InputWidth, vision.InputHeight), 0, 0, gocv.InterpolationLinear)

	if p.Debug != nil {
		p.recordDebug(frame, resized)
	}

	scaled := gocv.NewMat()
	defer scaled.Close()
	resized.ConvertToWithParams(&scaled, gocv.MatTypeCV32FC3, 1.0/255.0, 0)

	data, err := scaled.DataPtrFloat32()
	if err != nil {
		return vision.Tensor{}, fmt.Errorf("%w: read scaled pixels: %v", vision.ErrInference, err)
	}

	t := vision.NewTensor(1, vision.InputHeight, vision.InputWidth, vision.InputChannels)
	if len(data) != len(t.Data) {
		return vision.Tensor{}, fmt.Errorf("%w: scaled image has %d values, want %d", vision.ErrInference, len(data), len(t.Data))
	}
	copy(t.Data, data)
	return t, nil
}

// recordDebug legt das Modell-Eingabebild als JPEG im Debug-Service ab
func (p *Preprocessor) recordDebug(frame vision.Frame, rgb gocv.Mat) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Panic beim Erstellen des Debug-Bildes: %v", r)
		}
	}()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgb, &bgr, gocv.ColorRGBToBGR)

	buf, err := gocv.IMEncode(".jpg", bgr)
	if err != nil {
		log.Errorf("Konnte Debug-Bild nicht encodieren: %v", err)
		return
	}
	defer buf.Close()

	// GetBytes zeigt in nativen Speicher
	data := append([]byte(nil), buf.GetBytes()...)
	p.Debug.Add(frame.Seq, frame.Size(), data)
}
