package handler

import (
	app_errors "vigil/internal/errors"
	"vigil/internal/models"
	"vigil/internal/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ListDispatches handles GET /api/admin/dispatches with optional filters.
func (s *Server) ListDispatches(c *gin.Context) {
	query := s.DB.Model(&models.DispatchRecord{}).Order("created_at desc")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if recipient := c.Query("recipient"); recipient != "" {
		query = query.Where("recipient = ?", recipient)
	}
	if category := c.Query("category"); category != "" {
		query = query.Where("category = ?", category)
	}

	var records []models.DispatchRecord
	page, err := response.Paginate(c, query, &records)
	if HandleServiceError(c, err) {
		return
	}
	response.Success(c, page)
}

// BroadcastRequest defines the payload for an admin broadcast.
type BroadcastRequest struct {
	ID       string `json:"id"`
	Category string `json:"category" binding:"required"`
	Subject  string `json:"subject" binding:"required"`
	Body     string `json:"body"`
}

// Broadcast handles POST /api/admin/broadcast. A caller-supplied ID makes the
// operation idempotent; one is generated when absent.
func (s *Server) Broadcast(c *gin.Context) {
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	sent, err := s.Scheduler.Broadcast(c.Request.Context(), req.ID, req.Category, req.Subject, req.Body)
	if HandleServiceError(c, err) {
		return
	}
	response.Success(c, gin.H{"broadcast_id": req.ID, "sent": sent})
}
