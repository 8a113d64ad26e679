package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cassette-tracker-backend/internal/core"
	"cassette-tracker-backend/internal/mw"
	"cassette-tracker-backend/internal/store"
)

type shipRequest struct {
	CassetteID     string `json:"cassette_id" binding:"required"`
	Courier        string `json:"courier"`
	TrackingNumber string `json:"tracking_number"`
}

// ShipToRepairCenter handles POST /api/tickets/:id/deliveries.
func (h *Handler) ShipToRepairCenter(c *gin.Context) {
	var req shipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.core.ShipToRepairCenter(c.Request.Context(), c.Param("id"), req.CassetteID,
		core.ShippingMeta{Courier: req.Courier, TrackingNumber: req.TrackingNumber}, mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusCreated, gin.H{
		"delivery": res.Delivery,
		"cassette": res.Cassette,
		"ticket":   res.Ticket,
		"events":   res.Events,
	})
}

// TicketDeliveries handles GET /api/tickets/:id/deliveries.
func (h *Handler) TicketDeliveries(c *gin.Context) {
	deliveries, err := h.core.ListDeliveries(c.Request.Context(), store.DeliveryFilter{
		TicketID:       c.Param("id"),
		IncludeDeleted: includeDeleted(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, deliveries)
}

// GetDelivery handles GET /api/deliveries/:id.
func (h *Handler) GetDelivery(c *gin.Context) {
	d, err := h.core.GetDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ReceiveDelivery handles POST /api/deliveries/:id/receive.
func (h *Handler) ReceiveDelivery(c *gin.Context) {
	res, err := h.core.ReceiveAtRepairCenter(c.Request.Context(), c.Param("id"), mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusOK, gin.H{
		"delivery": res.Delivery,
		"repair":   res.Repair,
		"cassette": res.Cassette,
		"ticket":   res.Ticket,
		"events":   res.Events,
	})
}

type shipReturnRequest struct {
	Courier        string `json:"courier"`
	TrackingNumber string `json:"tracking_number"`
}

// ShipReturn handles POST /api/tickets/:id/returns.
func (h *Handler) ShipReturn(c *gin.Context) {
	var req shipReturnRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	res, err := h.core.ShipReturn(c.Request.Context(), c.Param("id"),
		core.ShippingMeta{Courier: req.Courier, TrackingNumber: req.TrackingNumber}, mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusCreated, returnBody(res))
}

// GetReturn handles GET /api/returns/:id.
func (h *Handler) GetReturn(c *gin.Context) {
	r, err := h.core.GetReturn(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ReceiveReturn handles POST /api/returns/:id/receive.
func (h *Handler) ReceiveReturn(c *gin.Context) {
	res, err := h.core.ReceiveReturn(c.Request.Context(), c.Param("id"), mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusOK, returnBody(res))
}

func returnBody(res core.ReturnResult) gin.H {
	return gin.H{
		"return":    res.Return,
		"cassettes": res.Cassettes,
		"ticket":    res.Ticket,
		"events":    res.Events,
	}
}
