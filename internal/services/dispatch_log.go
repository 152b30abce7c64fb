package services

import (
	"encoding/json"
	"time"

	"vigil/internal/clock"
	app_errors "vigil/internal/errors"
	"vigil/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DispatchLog is the audit and dedupe layer for outbound notifications. The
// unique (recipient, category, logical_key) index makes the insert itself the
// dedupe decision: the first scheduler instance to insert the pending row owns
// the send, later instances hit the constraint and back off. No distributed
// lock is needed.
type DispatchLog struct {
	db       *gorm.DB
	clock    clock.Clock
	retryCap func() int
}

// NewDispatchLog creates the dispatch log. retryCap is read per call so
// settings changes apply without restart.
func NewDispatchLog(db *gorm.DB, clk clock.Clock, retryCap func() int) *DispatchLog {
	return &DispatchLog{db: db, clock: clk, retryCap: retryCap}
}

// retryBackoff is how long a pending claim is honored before another instance
// may take the dispatch over.
const retryBackoff = 2 * time.Minute

// Claim attempts to own the dispatch identified by (recipient, category,
// logicalKey). It returns the owned record and true when this caller should
// perform the send; false means another instance owns it or the dispatch
// already reached a terminal state.
func (d *DispatchLog) Claim(recipient, category, logicalKey, mode, templateName string, params []string) (*models.DispatchRecord, bool, error) {
	var paramsJSON []byte
	if len(params) > 0 {
		paramsJSON, _ = json.Marshal(params)
	}

	record := models.DispatchRecord{
		ID:           uuid.NewString(),
		Recipient:    recipient,
		Category:     category,
		LogicalKey:   logicalKey,
		Status:       models.DispatchStatusPending,
		Mode:         mode,
		TemplateName: templateName,
		Params:       paramsJSON,
	}

	err := d.db.Create(&record).Error
	if err == nil {
		return &record, true, nil
	}
	if !app_errors.IsDuplicate(err) {
		return nil, false, app_errors.ParseDBError(err)
	}

	// Insert lost: the dispatch exists. Take over only a stale pending row
	// whose previous attempt failed, up to the retry cap.
	var existing models.DispatchRecord
	findErr := d.db.Where("recipient = ? AND category = ? AND logical_key = ?",
		recipient, category, logicalKey).First(&existing).Error
	if findErr != nil {
		return nil, false, app_errors.ParseDBError(findErr)
	}

	if existing.Status != models.DispatchStatusPending ||
		existing.RetryCount >= d.retryCap() ||
		d.clock.Now().Sub(existing.UpdatedAt) < retryBackoff {
		return &existing, false, nil
	}

	// Optimistic takeover keyed on the timestamp we observed
	result := d.db.Model(&models.DispatchRecord{}).
		Where("id = ? AND updated_at = ?", existing.ID, existing.UpdatedAt).
		Update("updated_at", d.clock.Now())
	if result.Error != nil {
		return nil, false, app_errors.ParseDBError(result.Error)
	}
	if result.RowsAffected == 0 {
		return &existing, false, nil
	}

	logrus.WithFields(logrus.Fields{
		"recipient":   recipient,
		"logical_key": logicalKey,
		"retry_count": existing.RetryCount,
	}).Debug("Took over stale pending dispatch for retry")
	return &existing, true, nil
}

// MarkSent records a successful send.
func (d *DispatchLog) MarkSent(record *models.DispatchRecord) error {
	now := d.clock.Now()
	err := d.db.Model(record).Updates(map[string]any{
		"status":     models.DispatchStatusSent,
		"sent_at":    now,
		"last_error": "",
	}).Error
	if err != nil {
		return app_errors.ParseDBError(err)
	}
	return nil
}

// MarkFailed records a failed attempt. The record stays pending and eligible
// for takeover until the retry cap is reached, then flips to failed.
func (d *DispatchLog) MarkFailed(record *models.DispatchRecord, sendErr error) error {
	record.RetryCount++
	status := models.DispatchStatusPending
	if record.RetryCount >= d.retryCap() {
		status = models.DispatchStatusFailed
		logrus.WithFields(logrus.Fields{
			"recipient":   record.Recipient,
			"logical_key": record.LogicalKey,
			"retry_count": record.RetryCount,
		}).Error("Dispatch exhausted retries, marking failed")
	}

	err := d.db.Model(record).Updates(map[string]any{
		"status":      status,
		"retry_count": record.RetryCount,
		"last_error":  truncateError(sendErr),
	}).Error
	if err != nil {
		return app_errors.ParseDBError(err)
	}
	return nil
}

// MarkSkipped records that the dispatch was deliberately dropped (quiet
// hours past slot start, compliance denial). The row keeps the dedupe slot
// occupied so the decision is not revisited every tick.
func (d *DispatchLog) MarkSkipped(record *models.DispatchRecord, reason string) error {
	err := d.db.Model(record).Updates(map[string]any{
		"status":     models.DispatchStatusSkipped,
		"last_error": reason,
	}).Error
	if err != nil {
		return app_errors.ParseDBError(err)
	}
	return nil
}

// HasDispatched reports whether a dispatch for the logical key already reached
// a terminal state or is pending under another owner.
func (d *DispatchLog) HasDispatched(recipient, category, logicalKey string) (bool, error) {
	var count int64
	err := d.db.Model(&models.DispatchRecord{}).
		Where("recipient = ? AND category = ? AND logical_key = ? AND status IN ?",
			recipient, category, logicalKey,
			[]string{models.DispatchStatusSent, models.DispatchStatusSkipped, models.DispatchStatusFailed}).
		Count(&count).Error
	if err != nil {
		return false, app_errors.ParseDBError(err)
	}
	return count > 0, nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
