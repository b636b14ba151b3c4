package repository

import (
	"errors"
	"time"

	"medscan-go/internal/core/models"

	"gorm.io/gorm"
)

// Repository definiert die Schnittstelle für die Datenbank-Operationen
type Repository interface {
	SaveEvent(event *models.RecognitionEvent) error
	GetEventByID(id uint) (*models.RecognitionEvent, error)
	GetEvents(limit, offset int) ([]models.RecognitionEvent, int64, error)
	GetEventsByLabel(label string, limit int) ([]models.RecognitionEvent, error)
	DeleteOlderThan(cutoff time.Time) (int64, error)

	// Statistik-Methoden
	GetStatistics() (models.Statistics, error)
}

// SQLiteRepository implementiert die Repository-Schnittstelle für SQLite
type SQLiteRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLiteRepository erstellt eine neue SQLite-Repository-Instanz
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// SaveEvent speichert ein Erkennungsereignis
func (r *SQLiteRepository) SaveEvent(event *models.RecognitionEvent) error {
	if event.DetectedAt.IsZero() {
		event.DetectedAt = r.now()
	}
	return r.db.Save(event).Error
}

// GetEventByID holt ein Ereignis anhand seiner ID. Gibt nil, nil zurück, wenn es nicht existiert.
func (r *SQLiteRepository) GetEventByID(id uint) (*models.RecognitionEvent, error) {
	var event models.RecognitionEvent
	result := r.db.First(&event, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &event, nil
}

// GetEvents holt Ereignisse mit Pagination, neueste zuerst
func (r *SQLiteRepository) GetEvents(limit, offset int) ([]models.RecognitionEvent, int64, error) {
	var events []models.RecognitionEvent
	var total int64

	if err := r.db.Model(&models.RecognitionEvent{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	result := r.db.Order("detected_at DESC, id DESC").Limit(limit).Offset(offset).Find(&events)
	if result.Error != nil {
		return nil, 0, result.Error
	}

	return events, total, nil
}

// GetEventsByLabel holt die letzten Ereignisse für ein Medikament
func (r *SQLiteRepository) GetEventsByLabel(label string, limit int) ([]models.RecognitionEvent, error) {
	var events []models.RecognitionEvent
	result := r.db.Where("label = ?", label).Order("detected_at DESC, id DESC").Limit(limit).Find(&events)
	if result.Error != nil {
		return nil, result.Error
	}
	return events, nil
}

// DeleteOlderThan löscht Ereignisse, die vor cutoff erkannt wurden (hart, ohne Soft-Delete)
func (r *SQLiteRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := r.db.Unscoped().Where("detected_at < ?", cutoff).Delete(&models.RecognitionEvent{})
	return result.RowsAffected, result.Error
}

// GetStatistics gibt Statistiken über die gespeicherten Daten zurück
func (r *SQLiteRepository) GetStatistics() (models.Statistics, error) {
	var stats models.Statistics

	if err := r.db.Model(&models.RecognitionEvent{}).Count(&stats.TotalEvents).Error; err != nil {
		return stats, err
	}

	since := r.now().Add(-24 * time.Hour)
	if err := r.db.Model(&models.RecognitionEvent{}).
		Where("detected_at >= ?", since).
		Count(&stats.Last24h).Error; err != nil {
		return stats, err
	}

	// Häufigkeit pro Medikament
	if err := r.db.Model(&models.RecognitionEvent{}).
		Select("label, COUNT(*) AS count").
		Group("label").
		Order("count DESC, label ASC").
		Scan(&stats.ByLabel).Error; err != nil {
		return stats, err
	}

	// Ermittle das neueste Ereignis
	var latest models.RecognitionEvent
	if err := r.db.Order("detected_at DESC").First(&latest).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return stats, err
		}
	} else {
		t := latest.DetectedAt
		stats.LastEvent = &t
	}

	return stats, nil
}
