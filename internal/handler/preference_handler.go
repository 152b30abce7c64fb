package handler

import (
	app_errors "vigil/internal/errors"
	"vigil/internal/models"
	"vigil/internal/response"

	"github.com/gin-gonic/gin"
)

// PreferenceRequest defines the payload for updating reminder preferences.
type PreferenceRequest struct {
	Enabled          *bool  `json:"enabled" binding:"required"`
	LeadMinutes      int    `json:"lead_minutes" binding:"required"`
	Timezone         string `json:"timezone" binding:"required"`
	QuietStartMinute int    `json:"quiet_start_minute"`
	QuietEndMinute   int    `json:"quiet_end_minute"`
	SlotReminders    *bool  `json:"slot_reminders" binding:"required"`
	DailyContent     *bool  `json:"daily_content" binding:"required"`
	BroadcastUpdates *bool  `json:"broadcast_updates" binding:"required"`
}

// GetPreferences handles GET /api/holders/:holder_id/preferences.
func (s *Server) GetPreferences(c *gin.Context) {
	pref, err := s.Preferences.Get(c.Param("holder_id"))
	if HandleServiceError(c, err) {
		return
	}
	response.Success(c, pref)
}

// UpdatePreferences handles PUT /api/holders/:holder_id/preferences.
func (s *Server) UpdatePreferences(c *gin.Context) {
	var req PreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}

	pref := &models.ReminderPreference{
		HolderID:         c.Param("holder_id"),
		Enabled:          *req.Enabled,
		LeadMinutes:      req.LeadMinutes,
		Timezone:         req.Timezone,
		QuietStartMinute: req.QuietStartMinute,
		QuietEndMinute:   req.QuietEndMinute,
		SlotReminders:    *req.SlotReminders,
		DailyContent:     *req.DailyContent,
		BroadcastUpdates: *req.BroadcastUpdates,
	}
	if HandleServiceError(c, s.Preferences.Update(pref)) {
		return
	}
	response.SuccessI18n(c, "preference.updated", pref)
}

// ContactRequest defines the payload for registering holder contact details.
type ContactRequest struct {
	Email       string `json:"email" binding:"required"`
	Recipient   string `json:"recipient" binding:"required"`
	DisplayName string `json:"display_name"`
}

// UpsertContact handles PUT /api/holders/:holder_id/contact.
func (s *Server) UpsertContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}

	contact := &models.HolderContact{
		HolderID:    c.Param("holder_id"),
		Email:       req.Email,
		Recipient:   req.Recipient,
		DisplayName: req.DisplayName,
	}
	if HandleServiceError(c, s.Directory.Upsert(contact)) {
		return
	}
	response.Success(c, contact)
}

// GetContact handles GET /api/holders/:holder_id/contact.
func (s *Server) GetContact(c *gin.Context) {
	contact, err := s.Directory.Get(c.Param("holder_id"))
	if HandleServiceError(c, err) {
		return
	}
	response.Success(c, contact)
}

// OptIn handles POST /api/holders/:holder_id/opt-in. It records explicit
// consent for the holder's registered messaging recipient.
func (s *Server) OptIn(c *gin.Context) {
	contact, err := s.Directory.Get(c.Param("holder_id"))
	if HandleServiceError(c, err) {
		return
	}

	if HandleServiceError(c, s.Gate.OptIn(contact.Recipient, "api")) {
		return
	}
	response.SuccessI18n(c, "compliance.opted_in", nil)
}

// GetComplianceState handles GET /api/holders/:holder_id/compliance.
func (s *Server) GetComplianceState(c *gin.Context) {
	contact, err := s.Directory.Get(c.Param("holder_id"))
	if HandleServiceError(c, err) {
		return
	}

	state, err := s.Gate.GetState(contact.Recipient)
	if HandleServiceError(c, err) {
		return
	}
	response.Success(c, state)
}
