package utils

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"medscan-go/internal/core/recognizer"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

// SystemStats beschreibt Host, Prozess und Erkennungsschleife zu einem Zeitpunkt
type SystemStats struct {
	Host    HostStats        `json:"host"`
	Process ProcessStats     `json:"process"`
	Loop    recognizer.Stats `json:"loop"`

	Timestamp time.Time `json:"timestamp"`
}

// HostStats sind systemweite Werte von gopsutil
type HostStats struct {
	NumCPU        int     `json:"num_cpu"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryTotal   string  `json:"memory_total,omitempty"`
}

// ProcessStats betreffen nur diesen Prozess
type ProcessStats struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapHuman  string `json:"heap_human"`
	Uptime     string `json:"uptime"`
}

// Sampler misst die Systemauslastung. cpu.Percent blockiert, daher wird der
// letzte Wert für minInterval zwischengespeichert.
type Sampler struct {
	minInterval time.Duration
	started     time.Time

	mu         sync.Mutex
	lastSample time.Time
	lastCPU    float64
}

// NewSampler erstellt einen Sampler; minInterval <= 0 bedeutet 500ms
func NewSampler(minInterval time.Duration) *Sampler {
	if minInterval <= 0 {
		minInterval = 500 * time.Millisecond
	}
	return &Sampler{minInterval: minInterval, started: time.Now()}
}

// CPUPercent liefert die Gesamtauslastung aller Kerne
func (s *Sampler) CPUPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastSample.IsZero() && time.Since(s.lastSample) < s.minInterval {
		return s.lastCPU
	}

	percentages, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil {
		log.Warnf("Fehler bei CPU-Auslastungsmessung: %v", err)
		return s.lastCPU
	}
	if len(percentages) > 0 {
		s.lastCPU = percentages[0]
	}
	s.lastSample = time.Now()
	return s.lastCPU
}

// Collect fasst alle Werte zusammen
func (s *Sampler) Collect(loop recognizer.Stats) *SystemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := &SystemStats{
		Host: HostStats{
			NumCPU:     runtime.NumCPU(),
			CPUPercent: s.CPUPercent(),
		},
		Process: ProcessStats{
			Goroutines: runtime.NumGoroutine(),
			HeapAlloc:  ms.HeapAlloc,
			HeapHuman:  FormatBytes(ms.HeapAlloc),
			Uptime:     time.Since(s.started).Truncate(time.Second).String(),
		},
		Loop:      loop,
		Timestamp: time.Now(),
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		log.Debugf("Fehler beim Lesen des Systemspeichers: %v", err)
	} else {
		stats.Host.MemoryPercent = vm.UsedPercent
		stats.Host.MemoryTotal = FormatBytes(vm.Total)
	}
	return stats
}

// FormatBytes formatiert Bytes mit binären Einheiten
func FormatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGT"[exp])
}
