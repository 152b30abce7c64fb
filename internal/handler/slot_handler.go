package handler

import (
	app_errors "vigil/internal/errors"
	"vigil/internal/models"
	"vigil/internal/response"

	"github.com/gin-gonic/gin"
)

// ClaimRequest defines the payload for claiming a slot.
type ClaimRequest struct {
	HolderID    string `json:"holder_id" binding:"required"`
	WindowIndex *int   `json:"window_index" binding:"required"`
}

// TransferRequest defines the payload for transferring to another slot.
type TransferRequest struct {
	HolderID    string `json:"holder_id" binding:"required"`
	WindowIndex *int   `json:"window_index" binding:"required"`
}

// ReleaseRequest defines the payload for releasing a held slot.
type ReleaseRequest struct {
	HolderID string `json:"holder_id" binding:"required"`
}

// ListSlots handles GET /api/slots.
func (s *Server) ListSlots(c *gin.Context) {
	slots, err := s.Registry.ListSlots()
	if HandleServiceError(c, err) {
		return
	}
	response.Success(c, slots)
}

// ClaimSlot handles POST /api/slots/claim.
func (s *Server) ClaimSlot(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}

	assignment, err := s.Registry.Claim(req.HolderID, *req.WindowIndex)
	if HandleServiceError(c, err) {
		return
	}
	response.SuccessI18n(c, "slot.claimed", assignment)
}

// ReleaseSlot handles POST /api/slots/release.
func (s *Server) ReleaseSlot(c *gin.Context) {
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}

	assignment, err := s.Registry.Release(req.HolderID)
	if HandleServiceError(c, err) {
		return
	}
	response.SuccessI18n(c, "slot.released", assignment)
}

// TransferSlot handles POST /api/slots/transfer.
func (s *Server) TransferSlot(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, err.Error()))
		return
	}

	assignment, err := s.Registry.Transfer(req.HolderID, *req.WindowIndex)
	if HandleServiceError(c, err) {
		return
	}
	response.SuccessI18n(c, "slot.transferred", assignment)
}

// GetAssignment handles GET /api/holders/:holder_id/assignment.
func (s *Server) GetAssignment(c *gin.Context) {
	assignment, err := s.Registry.GetOpenAssignment(c.Param("holder_id"))
	if HandleServiceError(c, err) {
		return
	}
	response.Success(c, assignment)
}

// ListAssignments handles GET /api/admin/assignments with optional status filter.
func (s *Server) ListAssignments(c *gin.Context) {
	query := s.DB.Model(&models.Assignment{}).Order("window_index asc")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var assignments []models.Assignment
	page, err := response.Paginate(c, query, &assignments)
	if HandleServiceError(c, err) {
		return
	}
	response.Success(c, page)
}

// ForceRelease handles POST /api/admin/assignments/:holder_id/force-release.
func (s *Server) ForceRelease(c *gin.Context) {
	assignment, err := s.Registry.ForceRelease(c.Param("holder_id"))
	if HandleServiceError(c, err) {
		return
	}
	response.SuccessI18n(c, "slot.force_released", assignment)
}

// ResetMissed handles POST /api/admin/assignments/:holder_id/reset-missed.
func (s *Server) ResetMissed(c *gin.Context) {
	if HandleServiceError(c, s.Registry.ResetMissedCount(c.Param("holder_id"))) {
		return
	}
	response.SuccessI18n(c, "slot.missed_reset", nil)
}
