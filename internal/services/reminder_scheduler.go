package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vigil/internal/clock"
	app_errors "vigil/internal/errors"
	"vigil/internal/messenger"
	"vigil/internal/models"
	"vigil/internal/store"
	"vigil/internal/types"

	"github.com/sirupsen/logrus"
)

// HeartbeatKey is the store key the scheduler refreshes on every scan. The
// health endpoint checks it to report whether the scan loop is alive; the TTL
// lets the key lapse after a few missed ticks.
const HeartbeatKey = "reminder_scheduler:heartbeat"

// ReminderScheduler scans open assignments every tick and dispatches slot
// reminders through the compliance gate and dispatch log. It also consumes
// lifecycle release events and notifies the released holder. Multiple
// instances may run the same tick concurrently; the dispatch log's insert-wins
// dedupe guarantees at most one send per logical reminder.
type ReminderScheduler struct {
	registry  *SlotRegistry
	prefs     *PreferenceService
	gate      *ComplianceGate
	dispatch  *DispatchLog
	directory *Directory
	sender    messenger.Messenger
	store     store.Store
	settings  func() types.SystemSettings
	clock     clock.Clock

	sub      store.Subscription
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewReminderScheduler creates the scheduler.
func NewReminderScheduler(
	registry *SlotRegistry,
	prefs *PreferenceService,
	gate *ComplianceGate,
	dispatch *DispatchLog,
	directory *Directory,
	sender messenger.Messenger,
	s store.Store,
	settings func() types.SystemSettings,
	clk clock.Clock,
) *ReminderScheduler {
	return &ReminderScheduler{
		registry:  registry,
		prefs:     prefs,
		gate:      gate,
		dispatch:  dispatch,
		directory: directory,
		sender:    sender,
		store:     s,
		settings:  settings,
		clock:     clk,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the scan loop and the release event consumer.
func (s *ReminderScheduler) Start() error {
	sub, err := s.store.Subscribe(ChannelLifecycleEvents)
	if err != nil {
		return fmt.Errorf("failed to subscribe to lifecycle events: %w", err)
	}
	s.sub = sub

	s.wg.Add(2)
	go s.run()
	go s.watchReleases()
	logrus.Debug("ReminderScheduler started")
	return nil
}

// Stop terminates both loops gracefully.
func (s *ReminderScheduler) Stop(ctx context.Context) {
	close(s.stopChan)
	if s.sub != nil {
		s.sub.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("ReminderScheduler stopped gracefully.")
	case <-ctx.Done():
		logrus.Warn("ReminderScheduler stop timed out.")
	}
}

func (s *ReminderScheduler) run() {
	defer s.wg.Done()
	for {
		interval := time.Duration(s.settings().ReminderScanIntervalSeconds) * time.Second
		select {
		case <-s.stopChan:
			return
		case <-time.After(interval):
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := s.Tick(ctx); err != nil {
				logrus.WithError(err).Error("Reminder scan failed")
			}
			cancel()
		}
	}
}

// Tick runs one reminder scan.
func (s *ReminderScheduler) Tick(ctx context.Context) error {
	s.beat()

	assignments, err := s.registry.ListOpen()
	if err != nil {
		return err
	}

	for _, a := range assignments {
		if a.Status != models.AssignmentStatusActive {
			continue
		}
		if err := s.remind(ctx, a); err != nil {
			logrus.WithError(err).WithField("holder_id", a.HolderID).
				Error("Failed to process reminder")
		}
	}
	return nil
}

// beat refreshes the scheduler liveness key. The TTL spans three scan
// intervals so a single slow tick does not flip health to idle.
func (s *ReminderScheduler) beat() {
	ttl := 3 * time.Duration(s.settings().ReminderScanIntervalSeconds) * time.Second
	stamp := []byte(s.clock.Now().UTC().Format(time.RFC3339))
	if err := s.store.Set(HeartbeatKey, stamp, ttl); err != nil {
		logrus.WithError(err).Warn("Failed to refresh scheduler heartbeat")
	}
}

// remind evaluates one assignment against the current instant and dispatches
// its reminder when due.
func (s *ReminderScheduler) remind(ctx context.Context, a models.Assignment) error {
	pref, err := s.prefs.Get(a.HolderID)
	if err != nil {
		return err
	}
	if !pref.Enabled || !pref.SlotReminders {
		return nil
	}

	now := s.clock.Now()
	lead := time.Duration(pref.LeadMinutes) * time.Minute

	slotStart, due := nextDueOccurrence(a.WindowIndex, now, lead)
	if slotStart.IsZero() || now.Before(due) {
		return nil
	}

	contact, err := s.directory.Get(a.HolderID)
	if err != nil {
		if isNotFound(err) {
			logrus.WithField("holder_id", a.HolderID).
				Debug("No contact registered, skipping reminder")
			return nil
		}
		return err
	}

	logicalKey := fmt.Sprintf("reminder:%s:%d", slotStart.Format(time.DateOnly), a.WindowIndex)
	done, err := s.dispatch.HasDispatched(contact.Recipient, models.CategorySlotReminder, logicalKey)
	if err != nil || done {
		return err
	}

	loc, err := time.LoadLocation(pref.Timezone)
	if err != nil {
		loc = time.UTC
	}
	localStart := slotStart.In(loc)

	if pref.HasQuietHours() {
		if inQuiet, quietEnd := quietState(now.In(loc), pref.QuietStartMinute, pref.QuietEndMinute); inQuiet {
			if quietEnd.Before(slotStart) {
				// Deferred: a later tick after quiet hours will send it
				return nil
			}
			return s.claimAndSkip(contact.Recipient, logicalKey, "quiet hours extend past slot start")
		}
	}

	mode, err := s.gate.Authorize(contact.Recipient, models.CategorySlotReminder)
	if err != nil {
		if _, ok := err.(*app_errors.APIError); ok {
			return s.claimAndSkip(contact.Recipient, logicalKey, err.Error())
		}
		return err
	}

	timeParam := localStart.Format("15:04 MST")
	record, owned, err := s.dispatch.Claim(contact.Recipient, models.CategorySlotReminder,
		logicalKey, mode, messenger.TemplateSlotReminder, []string{contact.DisplayName, timeParam})
	if err != nil || !owned {
		return err
	}

	var sendErr error
	switch mode {
	case messenger.ModeText:
		body := fmt.Sprintf("Reminder: your slot starts at %s.", timeParam)
		sendErr = s.sender.SendText(ctx, contact.Recipient, body)
	default:
		sendErr = s.sender.SendTemplate(ctx, contact.Recipient,
			messenger.TemplateSlotReminder, contact.DisplayName, timeParam)
	}

	if sendErr != nil {
		logrus.WithError(sendErr).WithFields(logrus.Fields{
			"recipient":   contact.Recipient,
			"logical_key": logicalKey,
		}).Warn("Reminder send failed")
		return s.dispatch.MarkFailed(record, sendErr)
	}

	logrus.WithFields(logrus.Fields{
		"holder_id":    a.HolderID,
		"window_index": a.WindowIndex,
		"mode":         mode,
	}).Info("Reminder sent")
	return s.dispatch.MarkSent(record)
}

// Broadcast fans one announcement out to every registered contact through the
// gate and dispatch log. The caller-supplied id makes retries idempotent.
func (s *ReminderScheduler) Broadcast(ctx context.Context, id, category, subject, body string) (int, error) {
	if category != models.CategoryBroadcast && category != models.CategoryDailyContent {
		return 0, app_errors.NewValidationError("category must be broadcast or daily_content")
	}

	contacts, err := s.directory.List()
	if err != nil {
		return 0, err
	}

	logicalKey := category + ":" + id
	sent := 0
	for _, contact := range contacts {
		pref, err := s.prefs.Get(contact.HolderID)
		if err != nil {
			return sent, err
		}
		if !pref.Enabled || !pref.CategoryEnabled(category) {
			continue
		}

		mode, err := s.gate.Authorize(contact.Recipient, category)
		if err != nil {
			continue
		}

		template := messenger.TemplateBroadcastAlert
		params := []string{subject}
		if category == models.CategoryDailyContent {
			template = messenger.TemplateDailyContent
			params = []string{contact.DisplayName}
		}

		record, owned, err := s.dispatch.Claim(contact.Recipient, category, logicalKey, mode, template, params)
		if err != nil {
			return sent, err
		}
		if !owned {
			continue
		}

		var sendErr error
		if mode == messenger.ModeText {
			sendErr = s.sender.SendText(ctx, contact.Recipient, subject+"\n"+body)
		} else {
			sendErr = s.sender.SendTemplate(ctx, contact.Recipient, template, params...)
		}
		if sendErr != nil {
			if err := s.dispatch.MarkFailed(record, sendErr); err != nil {
				return sent, err
			}
			continue
		}
		if err := s.dispatch.MarkSent(record); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// watchReleases notifies holders whose assignment was auto-released.
func (s *ReminderScheduler) watchReleases() {
	defer s.wg.Done()
	for {
		select {
		case msg, ok := <-s.sub.Channel():
			if !ok {
				return
			}
			var event ReleaseEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logrus.WithError(err).Warn("Dropping malformed lifecycle event")
				continue
			}
			if event.Type != "released" {
				continue
			}
			if err := s.notifyRelease(event); err != nil {
				logrus.WithError(err).WithField("holder_id", event.HolderID).
					Error("Failed to notify released holder")
			}
		case <-s.stopChan:
			return
		}
	}
}

func (s *ReminderScheduler) notifyRelease(event ReleaseEvent) error {
	contact, err := s.directory.Get(event.HolderID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	mode, err := s.gate.Authorize(contact.Recipient, models.CategoryBroadcast)
	if err != nil {
		if _, ok := err.(*app_errors.APIError); ok {
			return nil
		}
		return err
	}

	logicalKey := fmt.Sprintf("released:%s:%d", event.At.Format(time.DateOnly), event.WindowIndex)
	slotTime := fmt.Sprintf("%02d:%02d UTC", event.WindowIndex/2, (event.WindowIndex%2)*30)

	record, owned, err := s.dispatch.Claim(contact.Recipient, models.CategoryBroadcast,
		logicalKey, mode, messenger.TemplateSlotReleased, []string{contact.DisplayName, slotTime})
	if err != nil || !owned {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var sendErr error
	if mode == messenger.ModeText {
		sendErr = s.sender.SendText(ctx, contact.Recipient,
			fmt.Sprintf("Your %s slot was released after repeated absences.", slotTime))
	} else {
		sendErr = s.sender.SendTemplate(ctx, contact.Recipient,
			messenger.TemplateSlotReleased, contact.DisplayName, slotTime)
	}
	if sendErr != nil {
		return s.dispatch.MarkFailed(record, sendErr)
	}
	return s.dispatch.MarkSent(record)
}

func (s *ReminderScheduler) claimAndSkip(recipient, logicalKey, reason string) error {
	record, owned, err := s.dispatch.Claim(recipient, models.CategorySlotReminder,
		logicalKey, "", "", nil)
	if err != nil || !owned {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"recipient":   recipient,
		"logical_key": logicalKey,
		"reason":      reason,
	}).Info("Reminder skipped")
	return s.dispatch.MarkSkipped(record, reason)
}

// nextDueOccurrence finds the soonest occurrence of the window whose reminder
// interval [start-lead, start) could contain now: today's occurrence, or
// tomorrow's when the lead time reaches across midnight.
func nextDueOccurrence(windowIndex int, now time.Time, lead time.Duration) (slotStart, due time.Time) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for day := 0; day <= 1; day++ {
		start := midnight.AddDate(0, 0, day).Add(time.Duration(windowIndex) * 30 * time.Minute)
		if now.Before(start) {
			return start, start.Add(-lead)
		}
	}
	return time.Time{}, time.Time{}
}

// quietState reports whether localNow falls inside the quiet interval and,
// if so, when the interval ends (in the same location). Intervals may wrap
// midnight.
func quietState(localNow time.Time, startMinute, endMinute int) (bool, time.Time) {
	minute := localNow.Hour()*60 + localNow.Minute()

	var inQuiet bool
	if startMinute < endMinute {
		inQuiet = minute >= startMinute && minute < endMinute
	} else {
		inQuiet = minute >= startMinute || minute < endMinute
	}
	if !inQuiet {
		return false, time.Time{}
	}

	dayStart := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, localNow.Location())
	end := dayStart.Add(time.Duration(endMinute) * time.Minute)
	if !end.After(localNow) {
		end = end.AddDate(0, 0, 1)
	}
	return true, end
}

func isNotFound(err error) bool {
	apiErr, ok := err.(*app_errors.APIError)
	return ok && apiErr.Code == app_errors.ErrResourceNotFound.Code
}
