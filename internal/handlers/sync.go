package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/edwardrichtofen115/subscout/internal/ingest"
	"github.com/edwardrichtofen115/subscout/internal/models"
)

// SyncRequest represents a manual sync trigger
type SyncRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ManualSync runs the pipeline in recency mode over the latest messages
// and returns the aggregate counts.
func (h *Handlers) ManualSync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	summary, err := h.orchestrator.Run(c.Request.Context(), req.Email, ingest.Options{
		Mode: ingest.ModeRecency,
	})
	if err == ingest.ErrUnknownAccount {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Account not connected",
			Code:    http.StatusNotFound,
		})
		return
	}
	if err != nil {
		logrus.Errorf("Manual sync failed for %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "sync_error",
			Message: "Failed to sync mailbox",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}
