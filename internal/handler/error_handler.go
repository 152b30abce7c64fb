package handler

import (
	app_errors "vigil/internal/errors"
	"vigil/internal/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// localizedErrorKeys maps holder-facing domain error codes to their message
// catalog IDs; errors without an entry keep their built-in message.
var localizedErrorKeys = map[string]string{
	app_errors.ErrSlotAlreadyHeld.Code:       "slot.already_held",
	app_errors.ErrHolderAlreadyAssigned.Code: "slot.holder_assigned",
	app_errors.ErrNoActiveAssignment.Code:    "slot.no_assignment",
	app_errors.ErrInvalidPauseWindow.Code:    "pause.invalid_window",
	app_errors.ErrPauseOverlap.Code:          "pause.overlap",
}

// HandleServiceError handles service errors uniformly across all handlers.
// Returns true if an error was handled (response already sent to client).
func HandleServiceError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	if apiErr, ok := err.(*app_errors.APIError); ok {
		if msgID, ok := localizedErrorKeys[apiErr.Code]; ok {
			response.ErrorI18n(c, apiErr, msgID)
		} else {
			response.Error(c, apiErr)
		}
		return true
	}

	if dbErr := app_errors.ParseDBError(err); dbErr != nil {
		response.Error(c, dbErr)
		return true
	}

	logrus.WithContext(c.Request.Context()).WithError(err).Error("unexpected service error")
	response.Error(c, app_errors.ErrInternalServer)
	return true
}
