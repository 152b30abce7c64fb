package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"vigil/internal/clock"
	app_errors "vigil/internal/errors"
	"vigil/internal/models"
	"vigil/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChannelLifecycleEvents carries release notifications between the lifecycle
// engine and the reminder scheduler.
const ChannelLifecycleEvents = "lifecycle:events"

// ReleaseEvent is published when an assignment is auto-released after the
// holder crosses the consecutive-miss threshold.
type ReleaseEvent struct {
	Type        string    `json:"type"`
	HolderID    string    `json:"holder_id"`
	WindowIndex int       `json:"window_index"`
	MissedCount int       `json:"missed_count"`
	At          time.Time `json:"at"`
}

// Lifecycle applies reconciliation outcomes to assignments: attendance resets
// the miss counter, a miss increments it, and crossing the threshold releases
// the assignment and frees its slot in the same transaction. It also runs the
// pause-state sweep that flips assignments between active and paused as pause
// windows open and expire.
type Lifecycle struct {
	db            *gorm.DB
	store         store.Store
	pauses        *PauseTracker
	clock         clock.Clock
	missThreshold func() int

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewLifecycle creates the lifecycle engine. missThreshold is read per call so
// runtime settings changes take effect without restart.
func NewLifecycle(db *gorm.DB, s store.Store, pauses *PauseTracker, clk clock.Clock, missThreshold func() int) *Lifecycle {
	return &Lifecycle{
		db:            db,
		store:         s,
		pauses:        pauses,
		clock:         clk,
		missThreshold: missThreshold,
		stopChan:      make(chan struct{}),
	}
}

// ApplyAttended records an attended outcome for (holder, date) and resets the
// miss counter. Re-applying the same outcome is a no-op; an attended outcome
// corrects an earlier miss when the provider delivers late data.
func (l *Lifecycle) ApplyAttended(holderID, date string, windowIndex int, joinedAt, leftAt time.Time, meetingUID string) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		record := models.AttendanceRecord{
			HolderID:    holderID,
			Date:        date,
			WindowIndex: windowIndex,
			Outcome:     models.AttendanceOutcomeAttended,
			JoinedAt:    &joinedAt,
			LeftAt:      &leftAt,
		}
		if meetingUID != "" {
			record.MeetingUID = &meetingUID
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "holder_id"}, {Name: "date"}},
			DoNothing: true,
		}).Create(&record)
		if result.Error != nil {
			return app_errors.ParseDBError(result.Error)
		}

		if result.RowsAffected == 0 {
			// Conflict: correct a prior miss, never touch an existing attended row
			corrected := tx.Model(&models.AttendanceRecord{}).
				Where("holder_id = ? AND date = ? AND outcome = ?", holderID, date, models.AttendanceOutcomeMissed).
				Updates(map[string]any{
					"outcome":   models.AttendanceOutcomeAttended,
					"joined_at": joinedAt,
					"left_at":   leftAt,
				})
			if corrected.Error != nil {
				return app_errors.ParseDBError(corrected.Error)
			}
			if corrected.RowsAffected == 0 {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"holder_id": holderID,
				"date":      date,
			}).Info("Corrected missed attendance to attended from late provider data")
		}

		return tx.Model(&models.Assignment{}).
			Where("holder_id = ? AND status IN ?", holderID, openStatuses()).
			Update("missed_count", 0).Error
	})
}

// ApplyMissed records a missed outcome for (holder, date) and increments the
// miss counter. When the counter reaches the threshold the assignment is
// released and its slot freed atomically, and a release event is published.
// A duplicate outcome for the same (holder, date) is a no-op, so concurrent
// reconciliation passes cannot double-count a single absence.
func (l *Lifecycle) ApplyMissed(holderID, date string, windowIndex int) error {
	var released *models.Assignment

	err := l.db.Transaction(func(tx *gorm.DB) error {
		record := models.AttendanceRecord{
			HolderID:    holderID,
			Date:        date,
			WindowIndex: windowIndex,
			Outcome:     models.AttendanceOutcomeMissed,
		}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "holder_id"}, {Name: "date"}},
			DoNothing: true,
		}).Create(&record)
		if result.Error != nil {
			return app_errors.ParseDBError(result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}

		assignment, err := openAssignment(tx, holderID)
		if err != nil {
			if err == app_errors.ErrNoActiveAssignment {
				return nil
			}
			return err
		}

		assignment.MissedCount++
		if err := tx.Model(assignment).Update("missed_count", assignment.MissedCount).Error; err != nil {
			return app_errors.ParseDBError(err)
		}

		if assignment.MissedCount >= l.missThreshold() {
			if err := releaseAssignment(tx, assignment, l.clock.Now()); err != nil {
				return err
			}
			released = assignment
		}
		return nil
	})
	if err != nil {
		return err
	}

	if released != nil {
		logrus.WithFields(logrus.Fields{
			"holder_id":    released.HolderID,
			"window_index": released.WindowIndex,
			"missed_count": released.MissedCount,
		}).Warn("Assignment released after consecutive misses")
		l.publishRelease(released)
	}
	return nil
}

func (l *Lifecycle) publishRelease(a *models.Assignment) {
	event := ReleaseEvent{
		Type:        "released",
		HolderID:    a.HolderID,
		WindowIndex: a.WindowIndex,
		MissedCount: a.MissedCount,
		At:          l.clock.Now(),
	}
	payload, _ := json.Marshal(event)
	if err := l.store.Publish(ChannelLifecycleEvents, payload); err != nil {
		logrus.WithError(err).Warn("Failed to publish release event")
	}
}

// SyncPauseStates flips open assignments between active and paused according
// to the pause windows covering the current instant.
func (l *Lifecycle) SyncPauseStates() error {
	now := l.clock.Now()

	var assignments []models.Assignment
	if err := l.db.Where("status IN ?", openStatuses()).Find(&assignments).Error; err != nil {
		return app_errors.ParseDBError(err)
	}

	for i := range assignments {
		a := &assignments[i]
		paused, err := l.pauses.IsPaused(a.HolderID, now)
		if err != nil {
			return err
		}

		var target string
		switch {
		case paused && a.Status == models.AssignmentStatusActive:
			target = models.AssignmentStatusPaused
		case !paused && a.Status == models.AssignmentStatusPaused:
			target = models.AssignmentStatusActive
		default:
			continue
		}

		if err := l.db.Model(a).Update("status", target).Error; err != nil {
			return app_errors.ParseDBError(err)
		}
		logrus.WithFields(logrus.Fields{
			"holder_id": a.HolderID,
			"status":    target,
		}).Debug("Pause sweep updated assignment status")
	}
	return nil
}

// Start launches the periodic pause-state sweep.
func (l *Lifecycle) Start() {
	l.wg.Add(1)
	go l.run()
	logrus.Debug("Lifecycle pause sweep started")
}

func (l *Lifecycle) run() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			if err := l.SyncPauseStates(); err != nil {
				logrus.WithError(err).Error("Pause sweep failed")
			}
		}
	}
}

// Stop terminates the sweep loop gracefully.
func (l *Lifecycle) Stop(ctx context.Context) {
	close(l.stopChan)

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Lifecycle stopped gracefully.")
	case <-ctx.Done():
		logrus.Warn("Lifecycle stop timed out.")
	}
}
