package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/edwardrichtofen115/subscout/internal/ingest"
)

// PushNotification is the Pub/Sub push envelope delivered to the webhook.
type PushNotification struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// inboxChange is the decoded Gmail notification payload.
type inboxChange struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// GmailWebhook handles inbox change notifications. Delivery is
// at-least-once and a non-2xx response triggers the source's own retry
// storm, so the handler acknowledges every authenticated request even
// when processing fails internally.
func (h *Handlers) GmailWebhook(c *gin.Context) {
	if c.Query("token") != h.secrets.WebhookToken {
		h.metrics.WebhooksRejected.Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid verification token"})
		return
	}
	h.metrics.WebhooksReceived.Inc()

	var notification PushNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		logrus.Warnf("Malformed push notification envelope: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	payload, err := base64.StdEncoding.DecodeString(notification.Message.Data)
	if err != nil {
		logrus.Warnf("Failed to decode push notification data: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	var change inboxChange
	if err := json.Unmarshal(payload, &change); err != nil || change.EmailAddress == "" {
		logrus.Warnf("Failed to parse inbox change payload: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	summary, err := h.orchestrator.Run(c.Request.Context(), change.EmailAddress, ingest.Options{
		Mode:       ingest.ModeCursor,
		CursorHint: change.HistoryID.String(),
	})
	switch {
	case err == ingest.ErrUnknownAccount:
		// Acknowledge without processing; not our account.
		logrus.WithField("account", change.EmailAddress).Debug("Notification for unknown account")
	case err != nil:
		logrus.Errorf("Webhook ingestion failed for %s: %v", change.EmailAddress, err)
	default:
		logrus.WithFields(logrus.Fields{
			"account":   change.EmailAddress,
			"processed": summary.Processed,
		}).Debug("Webhook ingestion completed")
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
