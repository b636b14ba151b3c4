package opencv

import (
	"fmt"
	"time"

	"medscan-go/internal/core/vision"

	gocv "gocv.io/x/gocv"
)

// ReadImageFrame lädt eine Bilddatei als RGB-Frame
func ReadImageFrame(path string) (vision.Frame, error) {
	bgr := gocv.IMRead(path, gocv.IMReadColor)
	defer bgr.Close()
	if bgr.Empty() {
		return vision.Frame{}, fmt.Errorf("could not read image %s", path)
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(bgr, &rgb, gocv.ColorBGRToRGB)

	pix, err := rgb.DataPtrUint8()
	if err != nil {
		return vision.Frame{}, fmt.Errorf("read pixels of %s: %w", path, err)
	}
	return vision.Frame{
		Seq:       1,
		Timestamp: time.Now(),
		Width:     rgb.Cols(),
		Height:    rgb.Rows(),
		Pix:       append([]byte(nil), pix...),
	}, nil
}
