// Package models defines the persisted entities of the slot/attendance/reminder engine.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// Assignment status constants
const (
	AssignmentStatusActive   = "active"
	AssignmentStatusPaused   = "paused"
	AssignmentStatusReleased = "released"
)

// Attendance outcome constants
const (
	AttendanceOutcomeAttended = "attended"
	AttendanceOutcomeMissed   = "missed"
)

// Dispatch status constants
const (
	DispatchStatusPending = "pending"
	DispatchStatusSent    = "sent"
	DispatchStatusFailed  = "failed"
	DispatchStatusSkipped = "skipped"
)

// Notification categories
const (
	CategorySlotReminder = "slot_reminder"
	CategoryDailyContent = "daily_content"
	CategoryBroadcast    = "broadcast"
)

// SlotsPerDay is the number of fixed half-hour windows covering 24 hours.
const SlotsPerDay = 48

// SystemSetting corresponds to the system_settings table.
type SystemSetting struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SettingKey   string    `gorm:"type:varchar(255);not null;unique" json:"setting_key"`
	SettingValue string    `gorm:"type:text;not null" json:"setting_value"`
	Description  string    `gorm:"type:varchar(512)" json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Slot corresponds to the slots table: one of the 48 fixed daily half-hour
// windows. WindowIndex 0 is 00:00-00:30 UTC, 47 is 23:30-24:00.
type Slot struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	WindowIndex int       `gorm:"not null;uniqueIndex:idx_slots_window" json:"window_index"`
	Available   bool      `gorm:"default:true;not null" json:"available"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StartOffset returns the offset of the slot start from midnight UTC.
func (s *Slot) StartOffset() time.Duration {
	return time.Duration(s.WindowIndex) * 30 * time.Minute
}

// Assignment binds one holder to one slot window, with lifecycle state.
// A holder has at most one open (active or paused) assignment at a time;
// the registry enforces this transactionally because SQLite and MySQL do
// not support partial unique indexes through AutoMigrate.
type Assignment struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	HolderID    string     `gorm:"type:varchar(64);not null;index:idx_assignments_holder_status" json:"holder_id"`
	WindowIndex int        `gorm:"not null;index:idx_assignments_window_status" json:"window_index"`
	Status      string     `gorm:"type:varchar(20);not null;default:'active';index:idx_assignments_holder_status;index:idx_assignments_window_status" json:"status"`
	MissedCount int        `gorm:"not null;default:0" json:"missed_count"`
	ReleasedAt  *time.Time `json:"released_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsOpen reports whether the assignment still occupies its slot.
func (a *Assignment) IsOpen() bool {
	return a.Status == AssignmentStatusActive || a.Status == AssignmentStatusPaused
}

// CanTransition reports whether the lifecycle permits moving to the target status.
// released is terminal; a re-claim creates a new Assignment instead.
func (a *Assignment) CanTransition(to string) bool {
	switch a.Status {
	case AssignmentStatusActive:
		return to == AssignmentStatusPaused || to == AssignmentStatusReleased
	case AssignmentStatusPaused:
		return to == AssignmentStatusActive || to == AssignmentStatusReleased
	default:
		return false
	}
}

// HolderContact is the engine's read-model of the external profile store:
// the registered identifiers needed to match meeting participants (email)
// and to address notifications (messaging recipient ID). Profile storage
// itself lives outside this system.
type HolderContact struct {
	HolderID    string    `gorm:"type:varchar(64);primaryKey" json:"holder_id"`
	Email       string    `gorm:"type:varchar(255);not null;index" json:"email"`
	Recipient   string    `gorm:"type:varchar(64);not null;index" json:"recipient"`
	DisplayName string    `gorm:"type:varchar(128)" json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PauseWindow is a holder-requested interval exempting them from absence
// penalties. Expired windows are kept for audit and simply ignored.
type PauseWindow struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	HolderID  string    `gorm:"type:varchar(64);not null;index" json:"holder_id"`
	StartAt   time.Time `gorm:"not null" json:"start_at"`
	EndAt     time.Time `gorm:"not null" json:"end_at"`
	Reason    string    `gorm:"type:varchar(255)" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Covers reports whether the pause window contains the given instant.
func (p *PauseWindow) Covers(at time.Time) bool {
	return !at.Before(p.StartAt) && at.Before(p.EndAt)
}

// AttendanceRecord is the append-once reconciliation outcome for one
// (holder, calendar date) pair. Date is a UTC calendar date (2006-01-02);
// the composite unique index is the idempotency guard for concurrent
// reconciliation passes.
type AttendanceRecord struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	HolderID    string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_attendance_holder_date" json:"holder_id"`
	Date        string     `gorm:"type:varchar(10);not null;uniqueIndex:idx_attendance_holder_date" json:"date"`
	WindowIndex int        `gorm:"not null" json:"window_index"`
	Outcome     string     `gorm:"type:varchar(20);not null" json:"outcome"`
	JoinedAt    *time.Time `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at"`
	MeetingUID  *string    `gorm:"type:varchar(128)" json:"meeting_uid"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ReminderPreference holds per-holder notification settings. Quiet hours are
// minutes-of-day in the holder's timezone; QuietStartMinute == QuietEndMinute
// means no quiet hours.
type ReminderPreference struct {
	HolderID         string    `gorm:"type:varchar(64);primaryKey" json:"holder_id"`
	Enabled          bool      `gorm:"default:true;not null" json:"enabled"`
	LeadMinutes      int       `gorm:"not null;default:30" json:"lead_minutes"`
	Timezone         string    `gorm:"type:varchar(64);not null;default:'UTC'" json:"timezone"`
	QuietStartMinute int       `gorm:"not null;default:0" json:"quiet_start_minute"`
	QuietEndMinute   int       `gorm:"not null;default:0" json:"quiet_end_minute"`
	SlotReminders    bool      `gorm:"default:true;not null" json:"slot_reminders"`
	DailyContent     bool      `gorm:"default:true;not null" json:"daily_content"`
	BroadcastUpdates bool      `gorm:"default:true;not null" json:"broadcast_updates"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasQuietHours reports whether a quiet interval is configured.
func (p *ReminderPreference) HasQuietHours() bool {
	return p.QuietStartMinute != p.QuietEndMinute
}

// CategoryEnabled reports whether the given notification category is on.
func (p *ReminderPreference) CategoryEnabled(category string) bool {
	switch category {
	case CategorySlotReminder:
		return p.SlotReminders
	case CategoryDailyContent:
		return p.DailyContent
	case CategoryBroadcast:
		return p.BroadcastUpdates
	default:
		return false
	}
}

// ComplianceState tracks per-recipient consent and the 24-hour inbound window.
// RecipientID is the messaging-channel identity of the holder.
type ComplianceState struct {
	RecipientID   string     `gorm:"type:varchar(64);primaryKey" json:"recipient_id"`
	OptedIn       bool       `gorm:"default:false;not null" json:"opted_in"`
	OptInAt       *time.Time `json:"opt_in_at"`
	OptInMethod   string     `gorm:"type:varchar(32)" json:"opt_in_method"`
	LastInboundAt *time.Time `json:"last_inbound_at"`
	SlotReminders bool       `gorm:"default:true;not null" json:"slot_reminders"`
	DailyContent  bool       `gorm:"default:true;not null" json:"daily_content"`
	Broadcast     bool       `gorm:"default:true;not null" json:"broadcast"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// WithinSessionWindow reports whether free-form content may still be sent,
// i.e. the last inbound message arrived less than window ago.
func (c *ComplianceState) WithinSessionWindow(now time.Time, window time.Duration) bool {
	return c.LastInboundAt != nil && now.Sub(*c.LastInboundAt) < window
}

// CategoryEnabled reports whether the recipient allows the given category.
func (c *ComplianceState) CategoryEnabled(category string) bool {
	switch category {
	case CategorySlotReminder:
		return c.SlotReminders
	case CategoryDailyContent:
		return c.DailyContent
	case CategoryBroadcast:
		return c.Broadcast
	default:
		return false
	}
}

// DispatchRecord is the append-only audit/dedupe record for one attempted
// outbound notification. The composite unique index makes concurrent
// scheduler instances safe: the first insert wins, later inserts conflict
// and abort their send.
type DispatchRecord struct {
	ID           string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Recipient    string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_dispatch_dedupe" json:"recipient"`
	Category     string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_dispatch_dedupe" json:"category"`
	LogicalKey   string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_dispatch_dedupe" json:"logical_key"`
	Status       string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Mode         string         `gorm:"type:varchar(16)" json:"mode"` // "text" or "template"
	TemplateName string         `gorm:"type:varchar(64)" json:"template_name"`
	Params       datatypes.JSON `gorm:"type:json" json:"params"`
	SentAt       *time.Time     `json:"sent_at"`
	RetryCount   int            `gorm:"not null;default:0" json:"retry_count"`
	LastError    string         `gorm:"type:varchar(512)" json:"last_error"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
