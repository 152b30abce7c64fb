package services

import (
	"strings"
	"time"

	"vigil/internal/clock"
	app_errors "vigil/internal/errors"
	"vigil/internal/i18n"
	"vigil/internal/messenger"
	"vigil/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionWindow is how long after an inbound message free-form outbound
// content remains permitted by the channel's messaging policy.
const SessionWindow = 24 * time.Hour

// ComplianceGate enforces the messaging channel's consent rules: every send
// requires an explicit opt-in, the category must be enabled for the recipient,
// and free-form text is only allowed inside the 24-hour inbound session
// window. It also processes inbound control keywords synchronously so that a
// STOP is effective before the next scheduler tick.
type ComplianceGate struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewComplianceGate creates the gate.
func NewComplianceGate(db *gorm.DB, clk clock.Clock) *ComplianceGate {
	return &ComplianceGate{db: db, clock: clk}
}

// Authorize decides whether a message in the given category may be sent to
// the recipient right now, and in which mode. The zero-value return mode is
// only meaningful when err is nil.
func (g *ComplianceGate) Authorize(recipient, category string) (string, error) {
	var state models.ComplianceState
	err := g.db.Where("recipient_id = ?", recipient).First(&state).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", app_errors.ErrNotOptedIn
		}
		return "", app_errors.ParseDBError(err)
	}

	if !state.OptedIn {
		return "", app_errors.ErrNotOptedIn
	}
	if !state.CategoryEnabled(category) {
		return "", app_errors.NewForbiddenError("recipient has disabled this message category")
	}

	if state.WithinSessionWindow(g.clock.Now(), SessionWindow) {
		return messenger.ModeText, nil
	}
	return messenger.ModeTemplate, nil
}

// OptIn records explicit consent for the recipient.
func (g *ComplianceGate) OptIn(recipient, method string) error {
	now := g.clock.Now()
	state := models.ComplianceState{
		RecipientID:   recipient,
		OptedIn:       true,
		OptInAt:       &now,
		OptInMethod:   method,
		SlotReminders: true,
		DailyContent:  true,
		Broadcast:     true,
	}
	err := g.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "recipient_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"opted_in", "opt_in_at", "opt_in_method", "updated_at"}),
	}).Create(&state).Error
	if err != nil {
		return app_errors.ParseDBError(err)
	}

	logrus.WithFields(logrus.Fields{"recipient": recipient, "method": method}).Info("Recipient opted in")
	return nil
}

// OptOut withdraws consent. All sends stop until a new opt-in.
func (g *ComplianceGate) OptOut(recipient string) error {
	err := g.db.Model(&models.ComplianceState{}).
		Where("recipient_id = ?", recipient).
		Update("opted_in", false).Error
	if err != nil {
		return app_errors.ParseDBError(err)
	}
	logrus.WithField("recipient", recipient).Info("Recipient opted out")
	return nil
}

// GetState returns the compliance state for a recipient.
func (g *ComplianceGate) GetState(recipient string) (*models.ComplianceState, error) {
	var state models.ComplianceState
	if err := g.db.Where("recipient_id = ?", recipient).First(&state).Error; err != nil {
		return nil, app_errors.ParseDBError(err)
	}
	return &state, nil
}

// HandleInbound processes one inbound message: it refreshes the 24-hour
// session window, applies any control keyword, and returns the localized
// reply to send back. The reply is always permitted as free-form text because
// the inbound message just opened the session window.
func (g *ComplianceGate) HandleInbound(msg messenger.InboundMessage, lang string) (string, error) {
	if err := g.touchInbound(msg.Sender); err != nil {
		return "", err
	}

	localizer := i18n.GetLocalizer(lang)
	keyword := strings.ToUpper(strings.TrimSpace(msg.Body))

	switch keyword {
	case "STOP", "UNSUBSCRIBE", "CANCEL":
		if err := g.OptOut(msg.Sender); err != nil {
			return "", err
		}
		return i18n.T(localizer, "compliance.opted_out"), nil

	case "START", "UNSTOP", "SUBSCRIBE":
		if err := g.OptIn(msg.Sender, "keyword"); err != nil {
			return "", err
		}
		return i18n.T(localizer, "compliance.opted_in"), nil

	case "SETTINGS":
		state, err := g.GetState(msg.Sender)
		if err != nil {
			if apiErr, ok := err.(*app_errors.APIError); ok && apiErr.Code == app_errors.ErrResourceNotFound.Code {
				return i18n.T(localizer, "compliance.help"), nil
			}
			return "", err
		}
		return i18n.T(localizer, "compliance.settings", map[string]any{
			"Reminders": onOff(state.SlotReminders),
			"Daily":     onOff(state.DailyContent),
			"Broadcast": onOff(state.Broadcast),
		}), nil
	}

	if category, enabled, ok := parseCategoryToggle(keyword); ok {
		if err := g.setCategory(msg.Sender, category, enabled); err != nil {
			return "", err
		}
		return i18n.T(localizer, "compliance.category_updated", map[string]any{
			"Category": strings.ToLower(category),
			"State":    onOff(enabled),
		}), nil
	}

	// Not a control keyword: the session window is refreshed, nothing else
	return i18n.T(localizer, "compliance.help"), nil
}

// touchInbound upserts the compliance row and stamps LastInboundAt.
func (g *ComplianceGate) touchInbound(recipient string) error {
	now := g.clock.Now()
	state := models.ComplianceState{
		RecipientID:   recipient,
		LastInboundAt: &now,
		SlotReminders: true,
		DailyContent:  true,
		Broadcast:     true,
	}
	err := g.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "recipient_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_inbound_at", "updated_at"}),
	}).Create(&state).Error
	if err != nil {
		return app_errors.ParseDBError(err)
	}
	return nil
}

func (g *ComplianceGate) setCategory(recipient, category string, enabled bool) error {
	var column string
	switch category {
	case models.CategorySlotReminder:
		column = "slot_reminders"
	case models.CategoryDailyContent:
		column = "daily_content"
	case models.CategoryBroadcast:
		column = "broadcast"
	default:
		return app_errors.NewValidationError("unknown message category")
	}
	err := g.db.Model(&models.ComplianceState{}).
		Where("recipient_id = ?", recipient).
		Update(column, enabled).Error
	if err != nil {
		return app_errors.ParseDBError(err)
	}
	return nil
}

// parseCategoryToggle maps "STOP DAILY" style keywords onto category updates.
func parseCategoryToggle(keyword string) (category string, enabled bool, ok bool) {
	fields := strings.Fields(keyword)
	if len(fields) != 2 {
		return "", false, false
	}

	switch fields[0] {
	case "STOP":
		enabled = false
	case "START":
		enabled = true
	default:
		return "", false, false
	}

	switch fields[1] {
	case "REMINDERS":
		return models.CategorySlotReminder, enabled, true
	case "DAILY":
		return models.CategoryDailyContent, enabled, true
	case "UPDATES":
		return models.CategoryBroadcast, enabled, true
	}
	return "", false, false
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
