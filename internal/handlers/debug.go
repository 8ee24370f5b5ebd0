package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/edwardrichtofen115/subscout/internal/ingest"
	"github.com/edwardrichtofen115/subscout/internal/models"
)

// DebugScanRequest represents a diagnostic scan trigger
type DebugScanRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Count     int    `json:"count"`
	SkipDedup bool   `json:"skip_dedup"`
}

// DebugScan runs a recency-mode scan returning per-message classification
// results, for operational verification only. Gated by a shared secret.
func (h *Handlers) DebugScan(c *gin.Context) {
	if h.secrets.DebugSecret == "" || c.GetHeader("X-Debug-Secret") != h.secrets.DebugSecret {
		c.JSON(http.StatusForbidden, models.ErrorResponse{
			Error:   "forbidden",
			Message: "Invalid debug secret",
			Code:    http.StatusForbidden,
		})
		return
	}

	var req DebugScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	summary, err := h.orchestrator.Run(c.Request.Context(), req.Email, ingest.Options{
		Mode:        ingest.ModeRecency,
		RecentLimit: req.Count,
		SkipDedup:   req.SkipDedup,
		Collect:     true,
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
		logrus.Errorf("Debug scan failed for %s: %v", req.Email, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "scan_error",
			Message: "Failed to scan mailbox",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}
