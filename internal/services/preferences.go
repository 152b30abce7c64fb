package services

import (
	"time"

	app_errors "vigil/internal/errors"
	"vigil/internal/models"
	"vigil/internal/types"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PreferenceService manages per-holder reminder preferences. Holders without a
// stored row get the system defaults.
type PreferenceService struct {
	db       *gorm.DB
	settings func() types.SystemSettings
}

// NewPreferenceService creates the service.
func NewPreferenceService(db *gorm.DB, settings func() types.SystemSettings) *PreferenceService {
	return &PreferenceService{db: db, settings: settings}
}

// Get returns the holder's preferences, falling back to defaults.
func (s *PreferenceService) Get(holderID string) (*models.ReminderPreference, error) {
	var pref models.ReminderPreference
	err := s.db.Where("holder_id = ?", holderID).First(&pref).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			def := s.defaults(holderID)
			return &def, nil
		}
		return nil, app_errors.ParseDBError(err)
	}
	return &pref, nil
}

// Update validates and upserts the holder's preferences.
func (s *PreferenceService) Update(pref *models.ReminderPreference) error {
	if pref.HolderID == "" {
		return app_errors.NewValidationError("holder_id is required")
	}
	if pref.LeadMinutes < 1 || pref.LeadMinutes > 24*60 {
		return app_errors.NewValidationError("lead_minutes must be between 1 and 1440")
	}
	if pref.QuietStartMinute < 0 || pref.QuietStartMinute >= 24*60 ||
		pref.QuietEndMinute < 0 || pref.QuietEndMinute >= 24*60 {
		return app_errors.NewValidationError("quiet hour minutes must be between 0 and 1439")
	}
	if _, err := time.LoadLocation(pref.Timezone); err != nil {
		return app_errors.NewValidationError("unknown timezone: " + pref.Timezone)
	}

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "holder_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "lead_minutes", "timezone",
			"quiet_start_minute", "quiet_end_minute",
			"slot_reminders", "daily_content", "broadcast_updates",
			"updated_at",
		}),
	}).Create(pref).Error
	if err != nil {
		return app_errors.ParseDBError(err)
	}
	return nil
}

func (s *PreferenceService) defaults(holderID string) models.ReminderPreference {
	return models.ReminderPreference{
		HolderID:         holderID,
		Enabled:          true,
		LeadMinutes:      s.settings().DefaultLeadMinutes,
		Timezone:         "UTC",
		SlotReminders:    true,
		DailyContent:     true,
		BroadcastUpdates: true,
	}
}
