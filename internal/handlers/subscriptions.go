package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/edwardrichtofen115/subscout/internal/calendar"
	"github.com/edwardrichtofen115/subscout/internal/models"
)

// ListSubscriptions returns all subscriptions for an account, with the
// lifecycle status recomputed from the end date at read time.
func (h *Handlers) ListSubscriptions(c *gin.Context) {
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

	subs, err := h.store.ListSubscriptions(account.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch subscriptions",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	now := time.Now()
	for i := range subs {
		subs[i].Status = subs[i].DeriveStatus(now)
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subs})
}

// GetSubscription returns a single subscription
func (h *Handlers) GetSubscription(c *gin.Context) {
	sub, ok := h.subscriptionFromPath(c)
	if !ok {
		return
	}

	sub.Status = sub.DeriveStatus(time.Now())
	c.JSON(http.StatusOK, sub)
}

// UpdateSubscription applies a user correction: a status change or an end
// date fix. An end date change moves the reminder event best-effort.
func (h *Handlers) UpdateSubscription(c *gin.Context) {
	sub, ok := h.subscriptionFromPath(c)
	if !ok {
		return
	}

	var req models.SubscriptionUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if req.Status != nil {
		switch *req.Status {
		case models.StatusActive, models.StatusExpiringSoon, models.StatusExpired, models.StatusCancelled:
			sub.Status = *req.Status
		default:
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: "Invalid status",
				Code:    http.StatusBadRequest,
			})
			return
		}
	}

	if req.EndDate != nil {
		endDate, err := time.Parse("2006-01-02", *req.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   "validation_error",
				Message: "end_date must be YYYY-MM-DD",
				Code:    http.StatusBadRequest,
			})
			return
		}
		sub.EndDate = &endDate
		h.moveReminder(c, sub)
	}

	if req.Status != nil && *req.Status == models.StatusCancelled {
		h.cancelReminder(c, sub)
	}

	if err := h.store.UpdateSubscription(sub); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to update subscription",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, sub)
}

// DeleteSubscription removes a subscription, cancelling its reminder
// first. A failed cancellation never blocks the delete.
func (h *Handlers) DeleteSubscription(c *gin.Context) {
	sub, ok := h.subscriptionFromPath(c)
	if !ok {
		return
	}

	h.cancelReminder(c, sub)

	if err := h.store.DeleteSubscription(sub.ID); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to delete subscription",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// subscriptionFromPath loads the subscription addressed by the :id path
// parameter, writing the error response itself when that fails.
func (h *Handlers) subscriptionFromPath(c *gin.Context) (*models.Subscription, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid subscription ID",
			Code:    http.StatusBadRequest,
		})
		return nil, false
	}

	sub, err := h.store.GetSubscriptionByID(uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch subscription",
			Code:    http.StatusInternalServerError,
		})
		return nil, false
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: "Subscription not found",
			Code:    http.StatusNotFound,
		})
		return nil, false
	}
	return sub, true
}

func (h *Handlers) moveReminder(c *gin.Context, sub *models.Subscription) {
	if sub.ReminderEventID == nil || sub.EndDate == nil {
		return
	}
	scheduler := h.reminderScheduler(c.Request.Context(), sub.AccountID)
	if scheduler == nil {
		return
	}
	err := scheduler.UpdateReminder(c.Request.Context(), *sub.ReminderEventID, calendar.Reminder{
		ServiceName: sub.ServiceName,
		Kind:        sub.Kind,
		EndDate:     *sub.EndDate,
		LeadDays:    h.reminderCfg.DefaultLeadDays,
	})
	if err != nil {
		logrus.Warnf("Failed to move reminder for subscription %d: %v", sub.ID, err)
	}
}

func (h *Handlers) cancelReminder(c *gin.Context, sub *models.Subscription) {
	if sub.ReminderEventID == nil {
		return
	}
	scheduler := h.reminderScheduler(c.Request.Context(), sub.AccountID)
	if scheduler == nil {
		return
	}
	if err := scheduler.DeleteReminder(c.Request.Context(), *sub.ReminderEventID); err != nil {
		logrus.Warnf("Failed to cancel reminder for subscription %d: %v", sub.ID, err)
		return
	}
	sub.ReminderEventID = nil
}
