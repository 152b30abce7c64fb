package services

import (
	"context"
	"sync"
	"time"

	"vigil/internal/clock"
	"vigil/internal/models"
	"vigil/internal/types"
	"vigil/internal/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	dispatchCleanupInterval  = time.Hour
	dispatchCleanupBatchSize = 5000
)

// DispatchCleanupService deletes dispatch records past the retention window
// in batches, keeping the audit table bounded without long table locks.
type DispatchCleanupService struct {
	db       *gorm.DB
	settings func() types.SystemSettings
	clock    clock.Clock

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewDispatchCleanupService creates the cleanup service.
func NewDispatchCleanupService(db *gorm.DB, settings func() types.SystemSettings, clk clock.Clock) *DispatchCleanupService {
	return &DispatchCleanupService{
		db:       db,
		settings: settings,
		clock:    clk,
		stopChan: make(chan struct{}),
	}
}

// Start launches the cleanup loop.
func (s *DispatchCleanupService) Start() {
	s.wg.Add(1)
	go s.run()
	logrus.Debug("DispatchCleanupService started")
}

// Stop terminates the loop gracefully.
func (s *DispatchCleanupService) Stop(ctx context.Context) {
	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("DispatchCleanupService stopped gracefully.")
	case <-ctx.Done():
		logrus.Warn("DispatchCleanupService stop timed out.")
	}
}

func (s *DispatchCleanupService) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(dispatchCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired records batch by batch until none remain.
func (s *DispatchCleanupService) cleanup() {
	retention := s.settings().DispatchRetentionDays
	if retention <= 0 {
		return
	}
	cutoff := s.clock.Now().AddDate(0, 0, -retention)

	var total int64
	for {
		deleted, err := s.deleteBatch(cutoff)
		if err != nil {
			if utils.IsDBLockError(err) {
				logrus.Debug("Dispatch cleanup hit a database lock, will retry next run")
				return
			}
			logrus.WithError(err).Error("Dispatch cleanup batch failed")
			return
		}
		total += deleted
		if deleted < dispatchCleanupBatchSize {
			break
		}

		select {
		case <-s.stopChan:
			return
		case <-time.After(100 * time.Millisecond):
		}
	}

	if total > 0 {
		logrus.WithField("deleted", total).Info("Dispatch cleanup removed expired records")
	}
}

// deleteBatch removes one batch of expired records. SQLite needs the
// subquery form because its DELETE has no LIMIT clause by default.
func (s *DispatchCleanupService) deleteBatch(cutoff time.Time) (int64, error) {
	var result *gorm.DB
	switch s.db.Dialector.Name() {
	case "mysql":
		result = s.db.Exec(
			"DELETE FROM dispatch_records WHERE created_at < ? LIMIT ?",
			cutoff, dispatchCleanupBatchSize)
	default:
		result = s.db.Where(
			"id IN (?)",
			s.db.Model(&models.DispatchRecord{}).
				Select("id").
				Where("created_at < ?", cutoff).
				Limit(dispatchCleanupBatchSize),
		).Delete(&models.DispatchRecord{})
	}
	return result.RowsAffected, result.Error
}
