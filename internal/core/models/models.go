package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecognitionEvent ist ein gespeicherter Übergang in den Zustand "confident"
type RecognitionEvent struct {
	gorm.Model
	Label      string         `gorm:"index;not null" json:"label"` // Name des Medikaments
	Confidence float64        `json:"confidence"`                  // Konfidenz der Top-1-Vorhersage
	Facing     string         `gorm:"index" json:"facing"`         // "front" oder "back"
	Top        datatypes.JSON `gorm:"type:json" json:"top"`        // Top-k-Wahrscheinlichkeiten
	DetectedAt time.Time      `gorm:"index" json:"detected_at"`
}

// LabelCount zählt Ereignisse pro Label
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Statistics fasst die gespeicherte Historie zusammen
type Statistics struct {
	TotalEvents int64        `json:"total_events"`
	Last24h     int64        `json:"last_24h"`
	ByLabel     []LabelCount `json:"by_label"`
	LastEvent   *time.Time   `json:"last_event,omitempty"`
}
