package locales

// EnUS contains the English message catalog.
var EnUS = map[string]string{
	"common.success": "Success",

	"slot.claimed":         "Slot claimed",
	"slot.released":        "Slot released",
	"slot.transferred":     "Slot transferred",
	"slot.already_held":    "That slot is already held by another member",
	"slot.holder_assigned": "You already hold a slot; transfer or release it first",
	"slot.no_assignment":   "You have no open slot assignment",
	"slot.force_released":  "Assignment force-released",
	"slot.missed_reset":    "Missed count reset",

	"pause.created":        "Pause window recorded",
	"pause.invalid_window": "Pause end must be after its start",
	"pause.overlap":        "This pause overlaps an existing pause window",

	"preference.updated": "Reminder preferences updated",

	"compliance.opted_out":        "You will no longer receive messages. Reply START to resume.",
	"compliance.opted_in":         "You are opted in and will receive reminders.",
	"compliance.settings":         "Reminders: {{.Reminders}}. Daily content: {{.Daily}}. Updates: {{.Broadcast}}.",
	"compliance.category_updated": "Preference saved: {{.Category}} is now {{.State}}.",
	"compliance.help":             "Commands: STOP, START, SETTINGS, STOP/START REMINDERS, STOP/START DAILY, STOP/START UPDATES.",
}
