package opencv

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"medscan-go/config"
	"medscan-go/internal/core/vision"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// DNN-Backend-Typen für die Konfiguration
const (
	BackendDefault = "default"
	BackendCUDA    = "cuda"
	BackendOpenCL  = "opencl"
	TargetDefault  = "default"
	TargetCPU      = "cpu"
	TargetCUDA     = "cuda"
	TargetOpenCL   = "opencl"
)

// Tensor-Layouts des Modelleingangs
const (
	LayoutNHWC = "nhwc"
	LayoutNCHW = "nchw"
)

// Classifier führt das Klassifikationsmodell mit dem OpenCV-DNN-Modul aus
type Classifier struct {
	mu      sync.Mutex
	net     gocv.Net
	layout  string
	softmax bool
	path    string
	closed  bool
}

// LoadClassifier lädt das Modell. Jeder Fehler wird als vision.ErrModelLoad gemeldet.
func LoadClassifier(ctx context.Context, cfg config.ModelConfig) (*Classifier, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrModelLoad, err)
	}

	if !fileExists(cfg.Path) {
		return nil, fmt.Errorf("%w: model file not found: %s", vision.ErrModelLoad, cfg.Path)
	}
	if strings.EqualFold(filepath.Ext(cfg.Path), ".json") {
		// tfjs-Graphen kann OpenCV nicht lesen
		return nil, fmt.Errorf("%w: %s is a TensorFlow.js graph, convert it to ONNX first", vision.ErrModelLoad, cfg.Path)
	}
	if cfg.Config != "" && !fileExists(cfg.Config) {
		return nil, fmt.Errorf("%w: model config not found: %s", vision.ErrModelLoad, cfg.Config)
	}

	layout := strings.ToLower(cfg.Layout)
	if layout == "" {
		layout = LayoutNHWC
	}
	if layout != LayoutNHWC && layout != LayoutNCHW {
		return nil, fmt.Errorf("%w: unknown input layout %q", vision.ErrModelLoad, cfg.Layout)
	}

	log.Infof("Lade Klassifikationsmodell %s (Layout: %s, GPU: %v)", cfg.Path, layout, cfg.UseGPU)

	net := gocv.ReadNet(cfg.Path, cfg.Config)
	if net.Empty() {
		return nil, fmt.Errorf("%w: could not read network from %s", vision.ErrModelLoad, cfg.Path)
	}

	backend, target := getGPUBackend(cfg)
	if err := net.SetPreferableBackend(backend); err != nil {
		log.Warnf("Backend %v nicht verfügbar, verwende Standard: %v", backend, err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		log.Warnf("Target %v nicht verfügbar, verwende CPU: %v", target, err)
	}
	log.Infof("DNN-Modell geladen mit Backend %d und Target %d", backend, target)

	return &Classifier{
		net:     net,
		layout:  layout,
		softmax: cfg.Softmax,
		path:    cfg.Path,
	}, nil
}

// Infer führt eine Vorwärtsrechnung aus. Die Ausgabebreite wird erst bei der
// Interpretation gegen die Labels geprüft.
func (c *Classifier) Infer(ctx context.Context, input vision.Tensor) ([]float64, error) {
	if !input.IsInput() {
		return nil, fmt.Errorf("%w: unexpected input shape %v", vision.ErrInference, input.Shape)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: classifier closed", vision.ErrInference)
	}

	data, sizes := input.Data, []int{1, vision.InputHeight, vision.InputWidth, vision.InputChannels}
	if c.layout == LayoutNCHW {
		data = toNCHW(input.Data, vision.InputHeight, vision.InputWidth, vision.InputChannels)
		sizes = []int{1, vision.InputChannels, vision.InputHeight, vision.InputWidth}
	}

	blob, err := gocv.NewMatWithSizesFromBytes(sizes, gocv.MatTypeCV32F, float32Bytes(data))
	if err != nil {
		return nil, fmt.Errorf("%w: build input blob: %v", vision.ErrInference, err)
	}
	defer blob.Close()

	c.net.SetInput(blob, "")
	out := c.net.Forward("")
	defer out.Close()
	runtime.KeepAlive(data)

	if out.Empty() {
		return nil, fmt.Errorf("%w: network returned no output", vision.ErrInference)
	}
	raw, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %v", vision.ErrInference, err)
	}

	probs := make([]float64, len(raw))
	for i, v := range raw {
		probs[i] = float64(v)
	}
	if c.softmax {
		Softmax(probs)
	}
	return probs, nil
}

// Close gibt das Netz frei
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.net.Close()
}

// Softmax normalisiert Logits in-place zu Wahrscheinlichkeiten
func Softmax(v []float64) {
	if len(v) == 0 {
		return
	}
	maxV := v[0]
	for _, x := range v[1:] {
		maxV = math.Max(maxV, x)
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - maxV)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

// toNCHW wandelt HWC-Daten in CHW-Reihenfolge um
func toNCHW(hwc []float32, h, w, c int) []float32 {
	out := make([]float32, len(hwc))
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			base := (y*w + x) * c
			for ch := 0; ch < c; ch++ {
				out[ch*plane+y*w+x] = hwc[base+ch]
			}
		}
	}
	return out
}

func float32Bytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4)
}

// getGPUBackend gibt das zu verwendende Backend und Target basierend auf der Konfiguration zurück
func getGPUBackend(cfg config.ModelConfig) (gocv.NetBackendType, gocv.NetTargetType) {
	backend := gocv.NetBackendDefault
	target := gocv.NetTargetCPU

	if cfg.Backend == "" || cfg.Backend == BackendDefault {
		if !cfg.UseGPU {
			return backend, target
		}
		// NVIDIA GPU-Erkennung
		if haveNvidiaGPU() {
			log.Info("NVIDIA GPU erkannt, verwende CUDA-Backend")
			return gocv.NetBackendCUDA, gocv.NetTargetCUDA
		}
		// AMD GPU-Erkennung
		if haveAMDGPU() {
			log.Info("AMD GPU erkannt, verwende OpenCL-Target")
			return gocv.NetBackendOpenCV, gocv.NetTargetOpenCL
		}
		if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
			log.Info("Apple Silicon erkannt, verwende optimierte CPU-Version")
			return backend, target
		}
		log.Warn("GPU-Nutzung aktiviert, aber keine unterstützte GPU erkannt. Verwende CPU.")
		return backend, target
	}

	// Explizite Backend-Konfiguration
	switch cfg.Backend {
	case BackendCUDA:
		backend = gocv.NetBackendCUDA
	case BackendOpenCL:
		backend = gocv.NetBackendOpenCV
	default:
		log.Warnf("Unbekanntes Backend '%s' konfiguriert, verwende Standard", cfg.Backend)
	}

	switch cfg.Target {
	case TargetCUDA:
		target = gocv.NetTargetCUDA
	case TargetOpenCL:
		target = gocv.NetTargetOpenCL
	case TargetCPU, TargetDefault, "":
		target = gocv.NetTargetCPU
	default:
		log.Warnf("Unbekanntes Target '%s' konfiguriert, verwende CPU", cfg.Target)
	}
	return backend, target
}

// haveNvidiaGPU prüft, ob eine NVIDIA-GPU verfügbar ist
func haveNvidiaGPU() bool {
	if os.Getenv("NVIDIA_VISIBLE_DEVICES") != "" || os.Getenv("NVIDIA_DRIVER_CAPABILITIES") != "" {
		log.Info("NVIDIA-Docker-Umgebung erkannt über Umgebungsvariablen")
		return true
	}

	candidates := []string{
		"/usr/local/cuda/lib64/libcudart.so",
		"/usr/lib/x86_64-linux-gnu/libcuda.so",
		"/usr/lib/libcuda.so",
		"/usr/bin/nvidia-smi",
		"/usr/local/bin/nvidia-smi",
	}
	if runtime.GOOS == "windows" {
		candidates = []string{
			"C:\\Program Files\\NVIDIA Corporation\\NVSMI\\nvidia-smi.exe",
			"C:\\Windows\\System32\\nvidia-smi.exe",
		}
	}
	for _, path := range candidates {
		if fileExists(path) {
			log.Infof("NVIDIA-Komponente gefunden: %s", path)
			return true
		}
	}
	return false
}

// haveAMDGPU prüft, ob eine AMD-GPU verfügbar ist
func haveAMDGPU() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	return fileExists("/dev/kfd") || fileExists("/dev/dri/renderD128")
}

// Hilfsfunktion zur Überprüfung, ob eine Datei existiert
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
