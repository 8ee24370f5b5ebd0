package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/edwardrichtofen115/subscout/internal/models"
)

// GetSettings returns the settings for an account
func (h *Handlers) GetSettings(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "email query parameter is required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	account, err := h.store.GetAccountByEmail(email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch account",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if account == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Account not connected",
			Code:    http.StatusNotFound,
		})
		return
	}

	settings, err := h.store.GetSettings(account.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch settings",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	response := models.SettingsResponse{
		Email:            account.Email,
		ReminderLeadDays: h.reminderCfg.DefaultLeadDays,
		WatchActive:      account.WatchExpiry != nil,
	}
	if settings != nil {
		response.ReminderLeadDays = settings.ReminderLeadDays
		response.MonitoringEnabled = settings.MonitoringEnabled
	}

	c.JSON(http.StatusOK, response)
}

// UpdateSettings writes the settings for an account. Flipping the
// monitoring flag drives the watch lifecycle synchronously: enabling
// registers the inbox watch, disabling tears it down and clears the
// cursor.
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var req models.SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if req.ReminderLeadDays < h.reminderCfg.MinLeadDays || req.ReminderLeadDays > h.reminderCfg.MaxLeadDays {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "reminder_lead_days out of range",
			Code:    http.StatusBadRequest,
		})
		return
	}

	account, err := h.store.GetAccountByEmail(req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch account",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if account == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Account not connected",
			Code:    http.StatusNotFound,
		})
		return
	}

	previous, err := h.store.GetSettings(account.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch settings",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	enabled := *req.MonitoringEnabled
	settings := &models.Settings{
		AccountID:         account.ID,
		ReminderLeadDays:  req.ReminderLeadDays,
		MonitoringEnabled: enabled,
	}
	if err := h.store.SaveSettings(settings); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to save settings",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	wasEnabled := previous != nil && previous.MonitoringEnabled
	if enabled != wasEnabled {
		var watchErr error
		if enabled {
			watchErr = h.watches.Enable(c.Request.Context(), account)
		} else {
			watchErr = h.watches.Disable(c.Request.Context(), account)
		}
		if watchErr != nil {
			// Settings are saved; the watch change failed and is retryable.
			logrus.Errorf("Watch lifecycle change failed for %s: %v", req.Email, watchErr)
			c.JSON(http.StatusBadGateway, models.ErrorResponse{
				Error:   "watch_error",
				Message: "Settings saved but the inbox watch could not be updated",
				Code:    http.StatusBadGateway,
			})
			return
		}
	}

	c.JSON(http.StatusOK, models.SettingsResponse{
		Email:             account.Email,
		ReminderLeadDays:  settings.ReminderLeadDays,
		MonitoringEnabled: settings.MonitoringEnabled,
		WatchActive:       account.WatchExpiry != nil,
	})
}
