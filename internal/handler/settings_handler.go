package handler

import (
	app_errors "vigil/internal/errors"
	"vigil/internal/response"

	"github.com/gin-gonic/gin"
)

// GetSettings handles the GET /api/settings request.
func (s *Server) GetSettings(c *gin.Context) {
	response.Success(c, s.SettingsManager.GetSettings())
}

// UpdateSettings handles the PUT /api/settings request.
func (s *Server) UpdateSettings(c *gin.Context) {
	var settingsMap map[string]any
	if err := c.ShouldBindJSON(&settingsMap); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}
	if len(settingsMap) == 0 {
		response.Success(c, nil)
		return
	}

	if err := s.SettingsManager.UpdateSettings(settingsMap); err != nil {
		response.Error(c, app_errors.NewValidationError(err.Error()))
		return
	}
	response.Success(c, s.SettingsManager.GetSettings())
}
