package services

import (
	"time"

	"vigil/internal/clock"
	app_errors "vigil/internal/errors"
	"vigil/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PauseTracker manages holder-requested pause windows. A holder covered by a
// pause window at slot time is exempt from absence penalties for that day.
type PauseTracker struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewPauseTracker creates the tracker.
func NewPauseTracker(db *gorm.DB, clk clock.Clock) *PauseTracker {
	return &PauseTracker{db: db, clock: clk}
}

// RequestPause records a pause window for the holder. Windows may not overlap
// an existing window of the same holder, and may not start in the past.
func (p *PauseTracker) RequestPause(holderID string, startAt, endAt time.Time, reason string) (*models.PauseWindow, error) {
	startAt, endAt = startAt.UTC(), endAt.UTC()
	if !endAt.After(startAt) {
		return nil, app_errors.ErrInvalidPauseWindow
	}
	if endAt.Before(p.clock.Now()) {
		return nil, app_errors.NewValidationError("pause window ends in the past")
	}

	var created models.PauseWindow
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if _, err := openAssignment(tx, holderID); err != nil {
			return err
		}

		var count int64
		err := tx.Model(&models.PauseWindow{}).
			Where("holder_id = ? AND start_at < ? AND end_at > ?", holderID, endAt, startAt).
			Count(&count).Error
		if err != nil {
			return app_errors.ParseDBError(err)
		}
		if count > 0 {
			return app_errors.ErrPauseOverlap
		}

		created = models.PauseWindow{
			HolderID: holderID,
			StartAt:  startAt,
			EndAt:    endAt,
			Reason:   reason,
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"holder_id": holderID,
		"start_at":  startAt,
		"end_at":    endAt,
	}).Info("Pause window recorded")
	return &created, nil
}

// CancelPause deletes a future or ongoing pause window owned by the holder.
func (p *PauseTracker) CancelPause(holderID string, pauseID uint) error {
	result := p.db.Where("id = ? AND holder_id = ? AND end_at > ?", pauseID, holderID, p.clock.Now()).
		Delete(&models.PauseWindow{})
	if result.Error != nil {
		return app_errors.ParseDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return app_errors.ErrResourceNotFound
	}
	return nil
}

// IsPaused reports whether any pause window of the holder covers the instant.
func (p *PauseTracker) IsPaused(holderID string, at time.Time) (bool, error) {
	var count int64
	err := p.db.Model(&models.PauseWindow{}).
		Where("holder_id = ? AND start_at <= ? AND end_at > ?", holderID, at, at).
		Count(&count).Error
	if err != nil {
		return false, app_errors.ParseDBError(err)
	}
	return count > 0, nil
}

// ListForHolder returns the holder's pause windows, newest first.
func (p *PauseTracker) ListForHolder(holderID string) ([]models.PauseWindow, error) {
	var windows []models.PauseWindow
	err := p.db.Where("holder_id = ?", holderID).
		Order("start_at desc").Find(&windows).Error
	if err != nil {
		return nil, app_errors.ParseDBError(err)
	}
	return windows, nil
}
