package cleanup

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pruner löscht Ereignisse vor einem Stichtag
type Pruner interface {
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// Service handles the automatic cleanup of old recognition history.
type Service struct {
	store         Pruner
	retentionDays int
	checkInterval time.Duration
	now           func() time.Time
}

// NewService creates a new cleanup service. It returns nil if cleanup is disabled.
func NewService(store Pruner, retentionDays int, checkInterval time.Duration) *Service {
	if retentionDays <= 0 {
		log.Info("Automatic cleanup disabled (retention_days <= 0).")
		return nil
	}
	if store == nil {
		log.Error("Cannot initialize cleanup service: repository is nil")
		return nil
	}
	if checkInterval <= 0 {
		checkInterval = 24 * time.Hour
	}
	log.Infof("Initializing cleanup service: RetentionDays=%d, CheckInterval=%s", retentionDays, checkInterval)
	return &Service{
		store:         store,
		retentionDays: retentionDays,
		checkInterval: checkInterval,
		now:           time.Now,
	}
}

// Run performs a cleanup cycle immediately and then on every interval until ctx ends.
func (s *Service) Run(ctx context.Context) {
	if s == nil {
		return // cleanup disabled
	}
	log.Info("Starting background cleanup routine...")
	s.RunCleanupCycle()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			log.Info("Running scheduled cleanup cycle...")
			s.RunCleanupCycle()
		case <-ctx.Done():
			log.Info("Stopping background cleanup routine.")
			return
		}
	}
}

// RunCleanupCycle deletes history older than the retention period and returns
// the number of removed events.
func (s *Service) RunCleanupCycle() int64 {
	if s == nil || s.retentionDays <= 0 {
		log.Debug("Skipping cleanup cycle: service not initialized or cleanup disabled.")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	log.Infof("Cleanup: Deleting recognition events older than %s", cutoff.Format(time.RFC3339))

	n, err := s.store.DeleteOlderThan(cutoff)
	if err != nil {
		log.Errorf("Cleanup: Error deleting old events: %v", err)
		return 0
	}
	if n == 0 {
		log.Info("Cleanup: No old events found to delete.")
		return 0
	}
	log.Infof("Cleanup cycle finished. Deleted %d event(s)", n)
	return n
}
