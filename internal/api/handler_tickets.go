package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cassette-tracker-backend/internal/core"
	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/mw"
)

type createTicketRequest struct {
	CassetteIDs []string           `json:"cassette_ids" binding:"required"`
	Priority    lifecycle.Priority `json:"priority"`
}

// CreateTicket handles POST /api/tickets.
func (h *Handler) CreateTicket(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.core.CreateTicket(c.Request.Context(), core.CreateTicketInput{
		CassetteIDs: req.CassetteIDs,
		Priority:    req.Priority,
		Reporter:    mw.ActorOf(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusCreated, gin.H{"ticket": res.Ticket, "events": res.Events})
}

// GetTicket handles GET /api/tickets/:id.
func (h *Handler) GetTicket(c *gin.Context) {
	t, err := h.core.GetTicket(c.Request.Context(), c.Param("id"), includeDeleted(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// TicketCassettes handles GET /api/tickets/:id/cassettes.
func (h *Handler) TicketCassettes(c *gin.Context) {
	ids, err := h.core.AffectedCassetteIDs(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"cassette_ids": ids})
}

// AdvanceTicket handles POST /api/tickets/:id/advance.
func (h *Handler) AdvanceTicket(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.core.Advance(c.Request.Context(), c.Param("id"), lifecycle.TicketStatus(req.Status), mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusOK, gin.H{"ticket": res.Ticket, "events": res.Events})
}

type resolveTicketRequest struct {
	Outcome string `json:"outcome"`
	Notes   string `json:"notes"`
}

// ResolveTicket handles POST /api/tickets/:id/resolve.
func (h *Handler) ResolveTicket(c *gin.Context) {
	var req resolveTicketRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	res, err := h.core.Resolve(c.Request.Context(), core.ResolveInput{
		TicketID: c.Param("id"),
		Outcome:  req.Outcome,
		Notes:    req.Notes,
	}, mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusOK, gin.H{"ticket": res.Ticket, "events": res.Events})
}

// DeleteTicket handles DELETE /api/tickets/:id (soft delete).
func (h *Handler) DeleteTicket(c *gin.Context) {
	res, err := h.core.SoftDeleteTicket(c.Request.Context(), c.Param("id"), mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusOK, gin.H{"ticket": res.Ticket, "events": res.Events, "reconciled": res.Reconciled})
}

// RestoreTicket handles POST /api/tickets/:id/restore.
func (h *Handler) RestoreTicket(c *gin.Context) {
	res, err := h.core.RestoreTicket(c.Request.Context(), c.Param("id"), mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusOK, gin.H{"ticket": res.Ticket, "events": res.Events, "reconciled": res.Reconciled})
}
