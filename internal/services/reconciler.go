package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"vigil/internal/clock"
	app_errors "vigil/internal/errors"
	"vigil/internal/meeting"
	"vigil/internal/models"
	"vigil/internal/store"
	"vigil/internal/types"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// catchupLookbackDays bounds how far the daily catch-up pass walks back to
// fill gaps left by downtime.
const catchupLookbackDays = 7

// Reconciler turns meeting provider rosters into attendance outcomes. A short
// polling loop resolves windows as they elapse; a daily catch-up pass walks
// back over recent days to fill gaps left by downtime or late provider data.
type Reconciler struct {
	db        *gorm.DB
	provider  meeting.Provider
	registry  *SlotRegistry
	pauses    *PauseTracker
	lifecycle *Lifecycle
	directory *Directory
	store     store.Store
	settings  func() types.SystemSettings
	meetingID string
	clock     clock.Clock

	lastCatchupDate string
	stopChan        chan struct{}
	wg              sync.WaitGroup
}

// NewReconciler creates the reconciler.
func NewReconciler(
	db *gorm.DB,
	provider meeting.Provider,
	registry *SlotRegistry,
	pauses *PauseTracker,
	lifecycle *Lifecycle,
	directory *Directory,
	s store.Store,
	configManager types.ConfigManager,
	settings func() types.SystemSettings,
	clk clock.Clock,
) *Reconciler {
	return &Reconciler{
		db:        db,
		provider:  provider,
		registry:  registry,
		pauses:    pauses,
		lifecycle: lifecycle,
		directory: directory,
		store:     s,
		settings:  settings,
		meetingID: configManager.GetMeetingConfig().MeetingID,
		clock:     clk,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the polling loop.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
	logrus.Debug("Reconciler started")
}

// Stop terminates the polling loop gracefully.
func (r *Reconciler) Stop(ctx context.Context) {
	close(r.stopChan)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Reconciler stopped gracefully.")
	case <-ctx.Done():
		logrus.Warn("Reconciler stop timed out.")
	}
}

func (r *Reconciler) run() {
	defer r.wg.Done()
	for {
		interval := time.Duration(r.settings().ReconcileIntervalMinutes) * time.Minute
		select {
		case <-r.stopChan:
			return
		case <-time.After(interval):
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			r.tick(ctx)
			cancel()
		}
	}
}

// tick runs one live pass and, once per day at the configured hour, the
// catch-up pass.
func (r *Reconciler) tick(ctx context.Context) {
	now := r.clock.Now()
	if err := r.ReconcileLive(ctx); err != nil {
		logrus.WithError(err).Error("Live reconciliation pass failed")
	}

	today := now.Format(time.DateOnly)
	if now.Hour() == r.settings().CatchupHourUTC && r.lastCatchupDate != today {
		if !r.claimCatchup(today) {
			// Another instance, or this one before a restart, already ran today
			r.lastCatchupDate = today
			return
		}
		if err := r.CatchUp(ctx); err != nil {
			logrus.WithError(err).Error("Catch-up reconciliation pass failed")
			r.releaseCatchup(today)
		} else {
			r.lastCatchupDate = today
		}
	}
}

// claimCatchup takes the shared once-per-day claim for the catch-up pass so a
// restart or a concurrent instance does not repeat it.
func (r *Reconciler) claimCatchup(date string) bool {
	stamp := []byte(r.clock.Now().UTC().Format(time.RFC3339))
	ok, err := r.store.SetNX("reconcile:catchup:"+date, stamp, 48*time.Hour)
	if err != nil {
		logrus.WithError(err).Warn("Failed to take catch-up claim, running anyway")
		return true
	}
	return ok
}

// releaseCatchup drops the claim after a failed pass so a later tick retries.
func (r *Reconciler) releaseCatchup(date string) {
	if err := r.store.Delete("reconcile:catchup:" + date); err != nil {
		logrus.WithError(err).Warn("Failed to release catch-up claim")
	}
}

// occurrence is one (assignment, calendar date) pair awaiting an outcome.
type occurrence struct {
	assignment models.Assignment
	date       string
	start      time.Time
	end        time.Time
}

// ReconcileLive resolves the current and previous day's unresolved occurrences
// of all open assignments with a single roster fetch.
func (r *Reconciler) ReconcileLive(ctx context.Context) error {
	now := r.clock.Now()

	assignments, err := r.registry.ListOpen()
	if err != nil {
		return err
	}

	var pending []occurrence
	for _, a := range assignments {
		for _, day := range []time.Time{now, now.AddDate(0, 0, -1)} {
			occ := r.occurrenceOn(a, day)
			// Occurrences before the claim or still in the future are not owed
			if occ.start.Before(a.CreatedAt) || occ.start.After(now) {
				continue
			}
			resolved, err := r.hasRecord(a.HolderID, occ.date)
			if err != nil {
				return err
			}
			if !resolved {
				pending = append(pending, occ)
			}
		}
	}
	if len(pending) == 0 {
		return nil
	}

	from, to := rosterRange(pending, now, r.tolerance())
	roster, err := r.provider.Participants(ctx, r.meetingID, from, to)
	if err != nil {
		if errors.Is(err, meeting.ErrNoData) {
			// Unresolved windows stay unresolved; a later pass retries
			logrus.WithFields(logrus.Fields{"from": from, "to": to}).
				Info("Provider has no data for range, leaving windows unresolved")
			return nil
		}
		return err
	}

	for _, occ := range pending {
		if err := r.resolve(occ, roster, now); err != nil {
			logrus.WithError(err).WithField("holder_id", occ.assignment.HolderID).
				Error("Failed to resolve occurrence")
		}
	}
	return nil
}

// CatchUp walks back over the lookback horizon and resolves any elapsed
// occurrence that still has no attendance record. Each date is fetched
// separately because providers index history by day.
func (r *Reconciler) CatchUp(ctx context.Context) error {
	now := r.clock.Now()

	assignments, err := r.registry.ListOpen()
	if err != nil {
		return err
	}

	horizon := catchupLookbackDays
	if retention := r.settings().RetentionHorizonDays; retention < horizon {
		horizon = retention
	}

	for _, a := range assignments {
		for back := 1; back <= horizon; back++ {
			occ := r.occurrenceOn(a, now.AddDate(0, 0, -back))
			if occ.start.Before(a.CreatedAt) || occ.end.Add(r.tolerance()).After(now) {
				continue
			}
			resolved, err := r.hasRecord(a.HolderID, occ.date)
			if err != nil {
				return err
			}
			if resolved {
				continue
			}

			roster, err := r.provider.Participants(ctx, r.meetingID,
				occ.start.Add(-r.tolerance()), occ.end.Add(r.tolerance()))
			if err != nil {
				if errors.Is(err, meeting.ErrNoData) {
					logrus.WithFields(logrus.Fields{
						"holder_id": a.HolderID,
						"date":      occ.date,
					}).Debug("No provider data during catch-up, window stays unresolved")
					continue
				}
				return err
			}
			if err := r.resolve(occ, roster, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReconcileHolderDate resolves a single (holder, date) pair on demand.
func (r *Reconciler) ReconcileHolderDate(ctx context.Context, holderID string, date time.Time) error {
	assignment, err := r.registry.GetOpenAssignment(holderID)
	if err != nil {
		return err
	}
	occ := r.occurrenceOn(*assignment, date)
	if occ.start.Before(assignment.CreatedAt) {
		return app_errors.NewValidationError("date precedes the holder's assignment")
	}

	roster, err := r.provider.Participants(ctx, r.meetingID,
		occ.start.Add(-r.tolerance()), occ.end.Add(r.tolerance()))
	if err != nil {
		if errors.Is(err, meeting.ErrNoData) {
			return app_errors.NewAPIError(app_errors.ErrBadGateway, "meeting provider has no data for the requested date")
		}
		return err
	}
	return r.resolve(occ, roster, r.clock.Now())
}

// resolve matches the holder against the roster and applies the outcome. A
// window still in progress is only allowed to resolve as attended; the missed
// verdict waits until the window has fully elapsed.
func (r *Reconciler) resolve(occ occurrence, roster []meeting.Participant, now time.Time) error {
	contact, err := r.directory.Get(occ.assignment.HolderID)
	if err != nil {
		if apiErr, ok := err.(*app_errors.APIError); ok && apiErr.Code == app_errors.ErrResourceNotFound.Code {
			logrus.WithField("holder_id", occ.assignment.HolderID).
				Warn("No contact registered for holder, cannot reconcile")
			return nil
		}
		return err
	}

	minOverlap := time.Duration(r.settings().MinOverlapMinutes) * time.Minute
	for _, p := range roster {
		if !strings.EqualFold(p.Identifier, contact.Email) {
			continue
		}
		if p.Overlap(occ.start, occ.end) >= minOverlap {
			return r.lifecycle.ApplyAttended(
				occ.assignment.HolderID, occ.date, occ.assignment.WindowIndex,
				p.JoinedAt, p.LeftAt, r.meetingID)
		}
	}

	if now.Before(occ.end.Add(r.tolerance())) {
		return nil
	}

	paused, err := r.pauses.IsPaused(occ.assignment.HolderID, occ.start)
	if err != nil {
		return err
	}
	if paused {
		// Pause windows exempt the holder: no record, no counter change
		logrus.WithFields(logrus.Fields{
			"holder_id": occ.assignment.HolderID,
			"date":      occ.date,
		}).Debug("Window covered by pause, skipping absence")
		return nil
	}

	return r.lifecycle.ApplyMissed(occ.assignment.HolderID, occ.date, occ.assignment.WindowIndex)
}

// occurrenceOn computes the assignment's window occurrence on the given UTC day.
func (r *Reconciler) occurrenceOn(a models.Assignment, day time.Time) occurrence {
	day = day.UTC()
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	start := midnight.Add(time.Duration(a.WindowIndex) * 30 * time.Minute)
	return occurrence{
		assignment: a,
		date:       midnight.Format(time.DateOnly),
		start:      start,
		end:        start.Add(30 * time.Minute),
	}
}

func (r *Reconciler) hasRecord(holderID, date string) (bool, error) {
	var count int64
	err := r.db.Model(&models.AttendanceRecord{}).
		Where("holder_id = ? AND date = ?", holderID, date).
		Count(&count).Error
	if err != nil {
		return false, app_errors.ParseDBError(err)
	}
	return count > 0, nil
}

func (r *Reconciler) tolerance() time.Duration {
	return time.Duration(r.settings().JoinToleranceMinutes) * time.Minute
}

// rosterRange computes one fetch range covering all pending occurrences.
func rosterRange(pending []occurrence, now time.Time, tolerance time.Duration) (time.Time, time.Time) {
	from, to := pending[0].start, pending[0].end
	for _, occ := range pending[1:] {
		if occ.start.Before(from) {
			from = occ.start
		}
		if occ.end.After(to) {
			to = occ.end
		}
	}
	if to.After(now) {
		to = now
	}
	return from.Add(-tolerance), to.Add(tolerance)
}
