package handler

import (
	"strconv"
	"time"

	app_errors "vigil/internal/errors"
	"vigil/internal/response"

	"github.com/gin-gonic/gin"
)

// PauseRequest defines the payload for requesting a pause window.
type PauseRequest struct {
	StartAt time.Time `json:"start_at" binding:"required"`
	EndAt   time.Time `json:"end_at" binding:"required"`
	Reason  string    `json:"reason"`
}

// CreatePause handles POST /api/holders/:holder_id/pauses.
func (s *Server) CreatePause(c *gin.Context) {
	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}

	pause, err := s.Pauses.RequestPause(c.Param("holder_id"), req.StartAt, req.EndAt, req.Reason)
	if HandleServiceError(c, err) {
		return
	}
	response.SuccessI18n(c, "pause.created", pause)
}

// ListPauses handles GET /api/holders/:holder_id/pauses.
func (s *Server) ListPauses(c *gin.Context) {
	pauses, err := s.Pauses.ListForHolder(c.Param("holder_id"))
	if HandleServiceError(c, err) {
		return
	}
	response.Success(c, pauses)
}

// CancelPause handles DELETE /api/holders/:holder_id/pauses/:pause_id.
func (s *Server) CancelPause(c *gin.Context) {
	pauseID, err := strconv.ParseUint(c.Param("pause_id"), 10, 32)
	if err != nil {
		response.Error(c, app_errors.NewValidationError("invalid pause id"))
		return
	}

	if HandleServiceError(c, s.Pauses.CancelPause(c.Param("holder_id"), uint(pauseID))) {
		return
	}
	response.Success(c, nil)
}
