package handler

import (
	"time"

	app_errors "vigil/internal/errors"
	"vigil/internal/models"
	"vigil/internal/response"

	"github.com/gin-gonic/gin"
)

// ListAttendance handles GET /api/holders/:holder_id/attendance.
func (s *Server) ListAttendance(c *gin.Context) {
	query := s.DB.Model(&models.AttendanceRecord{}).
		Where("holder_id = ?", c.Param("holder_id")).
		Order("date desc")

	var records []models.AttendanceRecord
	page, err := response.Paginate(c, query, &records)
	if HandleServiceError(c, err) {
		return
	}
	response.Success(c, page)
}

// AdminListAttendance handles GET /api/admin/attendance with optional filters.
func (s *Server) AdminListAttendance(c *gin.Context) {
	query := s.DB.Model(&models.AttendanceRecord{}).Order("date desc, holder_id asc")
	if holderID := c.Query("holder_id"); holderID != "" {
		query = query.Where("holder_id = ?", holderID)
	}
	if outcome := c.Query("outcome"); outcome != "" {
		query = query.Where("outcome = ?", outcome)
	}
	if date := c.Query("date"); date != "" {
		query = query.Where("date = ?", date)
	}

	var records []models.AttendanceRecord
	page, err := response.Paginate(c, query, &records)
	if HandleServiceError(c, err) {
		return
	}
	response.Success(c, page)
}

// ReconcileRequest defines the payload for a manual reconciliation trigger.
type ReconcileRequest struct {
	HolderID string `json:"holder_id" binding:"required"`
	Date     string `json:"date" binding:"required"`
}

// TriggerReconcile handles POST /api/admin/reconcile for one (holder, date).
func (s *Server) TriggerReconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}

	date, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		response.Error(c, app_errors.NewValidationError("date must be formatted as 2006-01-02"))
		return
	}

	if HandleServiceError(c, s.Reconciler.ReconcileHolderDate(c.Request.Context(), req.HolderID, date)) {
		return
	}
	response.Success(c, nil)
}
