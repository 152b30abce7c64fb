// Package services contains the engine core: slot lifecycle, attendance
// reconciliation and reminder dispatch.
package services

import (
	"fmt"
	"time"

	app_errors "vigil/internal/errors"
	"vigil/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SlotRegistry owns the 48 fixed half-hour windows and the assignments that
// occupy them. All mutations run inside a transaction so the two structural
// invariants hold under concurrent claims: at most one open assignment per
// window, and at most one open assignment per holder.
type SlotRegistry struct {
	db *gorm.DB
}

// NewSlotRegistry creates the registry.
func NewSlotRegistry(db *gorm.DB) *SlotRegistry {
	return &SlotRegistry{db: db}
}

// SeedSlots creates the 48 window rows if they do not exist yet. Safe to run
// on every start.
func (r *SlotRegistry) SeedSlots() error {
	rows := make([]models.Slot, 0, models.SlotsPerDay)
	for i := 0; i < models.SlotsPerDay; i++ {
		rows = append(rows, models.Slot{WindowIndex: i, Available: true})
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "window_index"}},
		DoNothing: true,
	}).Create(&rows).Error
}

// Claim assigns the given window to the holder. Fails if the window is taken
// or the holder already has an open assignment.
func (r *SlotRegistry) Claim(holderID string, windowIndex int) (*models.Assignment, error) {
	if windowIndex < 0 || windowIndex >= models.SlotsPerDay {
		return nil, app_errors.NewValidationError(fmt.Sprintf("window index must be between 0 and %d", models.SlotsPerDay-1))
	}

	var created models.Assignment
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var slot models.Slot
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("window_index = ?", windowIndex).First(&slot).Error; err != nil {
			return app_errors.ParseDBError(err)
		}

		var count int64
		if err := tx.Model(&models.Assignment{}).
			Where("holder_id = ? AND status IN ?", holderID, openStatuses()).
			Count(&count).Error; err != nil {
			return app_errors.ParseDBError(err)
		}
		if count > 0 {
			return app_errors.ErrHolderAlreadyAssigned
		}

		if err := tx.Model(&models.Assignment{}).
			Where("window_index = ? AND status IN ?", windowIndex, openStatuses()).
			Count(&count).Error; err != nil {
			return app_errors.ParseDBError(err)
		}
		if count > 0 || !slot.Available {
			return app_errors.ErrSlotAlreadyHeld
		}

		created = models.Assignment{
			HolderID:    holderID,
			WindowIndex: windowIndex,
			Status:      models.AssignmentStatusActive,
		}
		if err := tx.Create(&created).Error; err != nil {
			return app_errors.ParseDBError(err)
		}
		return tx.Model(&slot).Update("available", false).Error
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"holder_id":    holderID,
		"window_index": windowIndex,
	}).Info("Slot claimed")
	return &created, nil
}

// Release closes the holder's open assignment and frees its window.
func (r *SlotRegistry) Release(holderID string) (*models.Assignment, error) {
	return r.release(holderID, "holder request")
}

// ForceRelease closes the holder's open assignment on behalf of an admin.
func (r *SlotRegistry) ForceRelease(holderID string) (*models.Assignment, error) {
	return r.release(holderID, "admin force")
}

func (r *SlotRegistry) release(holderID, cause string) (*models.Assignment, error) {
	var released models.Assignment
	err := r.db.Transaction(func(tx *gorm.DB) error {
		assignment, err := openAssignment(tx, holderID)
		if err != nil {
			return err
		}
		if err := releaseAssignment(tx, assignment, time.Now().UTC()); err != nil {
			return err
		}
		released = *assignment
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"holder_id":    holderID,
		"window_index": released.WindowIndex,
		"cause":        cause,
	}).Info("Slot released")
	return &released, nil
}

// Transfer atomically moves the holder from their current window to a new one.
// Either both the release and the claim happen or neither does; a failed
// transfer leaves the original assignment untouched.
func (r *SlotRegistry) Transfer(holderID string, newWindowIndex int) (*models.Assignment, error) {
	if newWindowIndex < 0 || newWindowIndex >= models.SlotsPerDay {
		return nil, app_errors.NewValidationError(fmt.Sprintf("window index must be between 0 and %d", models.SlotsPerDay-1))
	}

	var created models.Assignment
	err := r.db.Transaction(func(tx *gorm.DB) error {
		current, err := openAssignment(tx, holderID)
		if err != nil {
			return err
		}
		if current.WindowIndex == newWindowIndex {
			return app_errors.NewValidationError("target window equals the current window")
		}

		var count int64
		if err := tx.Model(&models.Assignment{}).
			Where("window_index = ? AND status IN ?", newWindowIndex, openStatuses()).
			Count(&count).Error; err != nil {
			return app_errors.ParseDBError(err)
		}
		if count > 0 {
			return app_errors.ErrSlotAlreadyHeld
		}

		if err := releaseAssignment(tx, current, time.Now().UTC()); err != nil {
			return err
		}

		created = models.Assignment{
			HolderID:    holderID,
			WindowIndex: newWindowIndex,
			Status:      models.AssignmentStatusActive,
		}
		if err := tx.Create(&created).Error; err != nil {
			return app_errors.ParseDBError(err)
		}
		return tx.Model(&models.Slot{}).
			Where("window_index = ?", newWindowIndex).
			Update("available", false).Error
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"holder_id":  holderID,
		"new_window": newWindowIndex,
	}).Info("Slot transferred")
	return &created, nil
}

// GetOpenAssignment returns the holder's open assignment.
func (r *SlotRegistry) GetOpenAssignment(holderID string) (*models.Assignment, error) {
	return openAssignment(r.db, holderID)
}

// ListOpen returns all open assignments ordered by window.
func (r *SlotRegistry) ListOpen() ([]models.Assignment, error) {
	var assignments []models.Assignment
	err := r.db.Where("status IN ?", openStatuses()).
		Order("window_index asc").Find(&assignments).Error
	if err != nil {
		return nil, app_errors.ParseDBError(err)
	}
	return assignments, nil
}

// ListSlots returns all 48 windows with availability.
func (r *SlotRegistry) ListSlots() ([]models.Slot, error) {
	var slots []models.Slot
	if err := r.db.Order("window_index asc").Find(&slots).Error; err != nil {
		return nil, app_errors.ParseDBError(err)
	}
	return slots, nil
}

// ResetMissedCount zeroes the miss counter of the holder's open assignment.
func (r *SlotRegistry) ResetMissedCount(holderID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		assignment, err := openAssignment(tx, holderID)
		if err != nil {
			return err
		}
		return tx.Model(assignment).Update("missed_count", 0).Error
	})
}

// openAssignment loads the single open assignment of a holder inside tx.
func openAssignment(tx *gorm.DB, holderID string) (*models.Assignment, error) {
	var assignment models.Assignment
	err := tx.Where("holder_id = ? AND status IN ?", holderID, openStatuses()).
		First(&assignment).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, app_errors.ErrNoActiveAssignment
		}
		return nil, app_errors.ParseDBError(err)
	}
	return &assignment, nil
}

// releaseAssignment marks the assignment released and frees its slot. Runs
// inside the caller's transaction so the lifecycle threshold release and the
// slot becoming claimable are one atomic step.
func releaseAssignment(tx *gorm.DB, assignment *models.Assignment, at time.Time) error {
	if !assignment.CanTransition(models.AssignmentStatusReleased) {
		return app_errors.NewValidationError("assignment is already released")
	}
	updates := map[string]any{
		"status":      models.AssignmentStatusReleased,
		"released_at": at,
	}
	if err := tx.Model(assignment).Updates(updates).Error; err != nil {
		return app_errors.ParseDBError(err)
	}
	return tx.Model(&models.Slot{}).
		Where("window_index = ?", assignment.WindowIndex).
		Update("available", true).Error
}

func openStatuses() []string {
	return []string{models.AssignmentStatusActive, models.AssignmentStatusPaused}
}
