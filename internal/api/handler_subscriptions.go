package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cassette-tracker-backend/internal/model"
	"cassette-tracker-backend/internal/notification"
)

type putSubscriptionRequest struct {
	Endpoint          string   `json:"endpoint" binding:"required"`
	P256DH            string   `json:"p256dh" binding:"required"`
	Auth              string   `json:"auth" binding:"required"`
	SubscribedTickets []string `json:"subscribed_tickets"` // ticket IDs or TKT- numbers
}

// PutSubscription handles PUT /api/subscriptions. The ticket list replaces
// whatever the endpoint followed before.
func (h *Handler) PutSubscription(c *gin.Context) {
	var req putSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub := model.PushSubscription{Endpoint: req.Endpoint, P256DH: req.P256DH, Auth: req.Auth}
	if err := notification.SaveSubscription(c.Request.Context(), h.store.DB(), sub, req.SubscribedTickets); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles DELETE /api/subscriptions.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := notification.DeleteSubscription(c.Request.Context(), h.store.DB(), req.Endpoint); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSubscription handles GET /api/subscriptions?endpoint=.
// Push endpoints are matched byte for byte, so the value is read undecoded.
func (h *Handler) GetSubscription(c *gin.Context) {
	endpoint := ""
	for _, kv := range strings.Split(c.Request.URL.RawQuery, "&") {
		if v, ok := strings.CutPrefix(kv, "endpoint="); ok {
			endpoint = v
			break
		}
	}
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	ids, err := notification.SubscribedTickets(c.Request.Context(), h.store.DB(), endpoint)
	if errors.Is(err, notification.ErrSubscriptionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "NOT_FOUND"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed_tickets": ids})
}

// GetVAPIDPublicKey returns the key browsers need to create a push subscription.
// Push is optional, so a server without keys answers 503.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications are disabled", "code": "PUSH_DISABLED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}
