package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/edwardrichtofen115/subscout/internal/models"
)

// RenewWatches runs the watch renewal pass over all accounts inside the
// renewal window. Secret-gated, intended for an external cron trigger.
func (h *Handlers) RenewWatches(c *gin.Context) {
	if h.secrets.CronSecret == "" || c.Query("secret") != h.secrets.CronSecret {
		c.JSON(http.StatusForbidden, models.ErrorResponse{
			Error:   "forbidden",
			Message: "Invalid cron secret",
			Code:    http.StatusForbidden,
		})
		return
	}

	results, err := h.watches.RenewExpiring(c.Request.Context())
	if err != nil {
		logrus.Errorf("Renewal sweep failed: %v", err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "renewal_error",
			Message: "Failed to run renewal sweep",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	renewed := 0
	for _, r := range results {
		if r.Renewed {
			renewed++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"renewed": renewed,
		"total":   len(results),
		"results": results,
	})
}
