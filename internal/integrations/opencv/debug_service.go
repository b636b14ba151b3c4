package opencv

import (
	"fmt"
	"image"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// DebugImage ist ein Modell-Eingabebild (224x224, JPEG)
type DebugImage struct {
	ID        string      `json:"id"`
	FrameSeq  uint64      `json:"frame_seq"`
	Timestamp time.Time   `json:"timestamp"`
	Source    image.Point `json:"source_size"`
	ImageData []byte      `json:"-"`
}

// DebugService hält die letzten Modell-Eingabebilder im Speicher
type DebugService struct {
	images     map[string]*DebugImage
	imagesList []*DebugImage // älteste zuerst
	maxImages  int
	mutex      sync.RWMutex
}

// NewDebugService erstellt einen neuen Debug-Service
func NewDebugService(maxImages int) *DebugService {
	if maxImages <= 0 {
		maxImages = 20
	}
	return &DebugService{
		images:     make(map[string]*DebugImage),
		imagesList: make([]*DebugImage, 0, maxImages),
		maxImages:  maxImages,
	}
}

// Add speichert ein Bild und verdrängt bei Bedarf das älteste
func (s *DebugService) Add(frameSeq uint64, source image.Point, jpeg []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	img := &DebugImage{
		ID:        strconv.FormatUint(frameSeq, 10),
		FrameSeq:  frameSeq,
		Timestamp: time.Now(),
		Source:    source,
		ImageData: jpeg,
	}

	if _, exists := s.images[img.ID]; exists {
		// Sequenznummern beginnen nach einem Kamerawechsel von vorn
		for i, old := range s.imagesList {
			if old.ID == img.ID {
				s.imagesList = append(s.imagesList[:i], s.imagesList[i+1:]...)
				break
			}
		}
	}
	s.images[img.ID] = img
	s.imagesList = append(s.imagesList, img)

	if len(s.imagesList) > s.maxImages {
		oldest := s.imagesList[0]
		delete(s.images, oldest.ID)
		s.imagesList = s.imagesList[1:]
	}
	log.Debugf("Debug-Bild %s gespeichert (%d Bytes)", img.ID, len(jpeg))
}

// GetLatestImages gibt die neuesten Bilder zurück, neuestes zuerst
func (s *DebugService) GetLatestImages(count int) []*DebugImage {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if count <= 0 || count > len(s.imagesList) {
		count = len(s.imagesList)
	}
	result := make([]*DebugImage, 0, count)
	for i := len(s.imagesList) - 1; i >= 0 && len(result) < count; i-- {
		result = append(result, s.imagesList[i])
	}
	return result
}

// GetImage gibt ein bestimmtes Bild anhand seiner ID zurück
func (s *DebugService) GetImage(id string) *DebugImage {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.images[id]
}

// RegisterRoutes registriert die API-Routen für den Debug-Service
func (s *DebugService) RegisterRoutes(router gin.IRouter) {
	router.GET("/api/debug/frames", s.handleGetLatestImages)
	router.GET("/api/debug/frames/:id", s.handleGetImage)
	router.GET("/debug/frames", s.handleDebugPage)
	log.Info("Debug-Routes registriert: /api/debug/frames, /api/debug/frames/:id, /debug/frames")
}

func (s *DebugService) handleGetLatestImages(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "10"))
	if err != nil {
		count = 10
	}

	type imageMetadata struct {
		*DebugImage
		URL string `json:"url"`
	}
	images := s.GetLatestImages(count)
	metadata := make([]imageMetadata, len(images))
	for i, img := range images {
		metadata[i] = imageMetadata{DebugImage: img, URL: fmt.Sprintf("/api/debug/frames/%s", img.ID)}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(metadata),
		"images": metadata,
	})
}

func (s *DebugService) handleGetImage(c *gin.Context) {
	img := s.GetImage(c.Param("id"))
	if img == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found", "requested_id": c.Param("id")})
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Data(http.StatusOK, "image/jpeg", img.ImageData)
}

func (s *DebugService) handleDebugPage(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, debugPage)
}

const debugPage = `<!DOCTYPE html>
<html>
<head>
    <title>Model input</title>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; background: #f0f0f0; }
        .grid { display: flex; flex-wrap: wrap; gap: 10px; }
        .card { background: white; border-radius: 5px; padding: 6px; font-size: 12px; }
        .card img { width: 224px; height: 224px; image-rendering: pixelated; }
    </style>
</head>
<body>
    <h1>Model input frames</h1>
    <div class="grid" id="grid">Loading...</div>
    <script>
        function refresh() {
            fetch('/api/debug/frames?count=12')
                .then(function(r) { return r.json(); })
                .then(function(data) {
                    var grid = document.getElementById('grid');
                    grid.innerHTML = data.count === 0 ? 'No frames yet.' : '';
                    data.images.forEach(function(img) {
                        var card = document.createElement('div');
                        card.className = 'card';
                        card.innerHTML = '<img src="' + img.url + '?t=' + Date.now() + '">' +
                            '<div>#' + img.frame_seq + ' ' + new Date(img.timestamp).toLocaleTimeString() + '</div>';
                        grid.appendChild(card);
                    });
                });
        }
        refresh();
        setInterval(refresh, 2000);
    </script>
</body>
</html>`
