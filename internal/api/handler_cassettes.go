package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cassette-tracker-backend/internal/core"
	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/mw"
	"cassette-tracker-backend/internal/store"
)

const maxPageSize = 500

type registerCassetteRequest struct {
	SerialNumber string              `json:"serial_number" binding:"required"`
	Type         string              `json:"type"`
	BankCode     string              `json:"bank_code"`
	MachineID    string              `json:"machine_id"`
	UsageRole    lifecycle.UsageRole `json:"usage_role"`
}

// RegisterCassette handles POST /api/cassettes.
func (h *Handler) RegisterCassette(c *gin.Context) {
	var req registerCassetteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cassette, err := h.core.Register(c.Request.Context(), core.RegisterCassetteInput{
		SerialNumber: req.SerialNumber,
		Type:         req.Type,
		BankCode:     req.BankCode,
		MachineID:    req.MachineID,
		UsageRole:    req.UsageRole,
	}, mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cassette)
}

// ListCassettes handles GET /api/cassettes?status=&bank_code=&after=&limit=.
func (h *Handler) ListCassettes(c *gin.Context) {
	filter := store.CassetteFilter{
		Status:   lifecycle.CassetteStatus(c.Query("status")),
		BankCode: c.Query("bank_code"),
		AfterID:  c.Query("after"),
		Limit:    100,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		filter.Limit = n
	}

	cassettes, err := h.core.ListCassettes(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cassettes)
}

// GetCassette handles GET /api/cassettes/:id.
func (h *Handler) GetCassette(c *gin.Context) {
	cassette, err := h.core.GetCassette(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cassette)
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
}

// TransitionCassette handles POST /api/cassettes/:id/transitions.
func (h *Handler) TransitionCassette(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.core.Transition(c.Request.Context(), c.Param("id"), lifecycle.CassetteStatus(req.Status), mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusOK, gin.H{"cassette": res.Cassette, "events": res.Events})
}

// ReportFault handles POST /api/cassettes/:id/fault.
func (h *Handler) ReportFault(c *gin.Context) {
	res, err := h.core.ReportFault(c.Request.Context(), c.Param("id"), mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusOK, gin.H{"cassette": res.Cassette, "events": res.Events})
}

// ReconcileCassette handles POST /api/cassettes/:id/reconcile.
func (h *Handler) ReconcileCassette(c *gin.Context) {
	actor := mw.ActorOf(c)
	if actor == "" {
		actor = core.SystemActor
	}
	if _, err := h.core.GetCassette(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	res, err := h.core.Reconcile(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusOK, res)
}

// CassetteTickets handles GET /api/cassettes/:id/tickets.
func (h *Handler) CassetteTickets(c *gin.Context) {
	tickets, err := h.core.ListTicketsForCassette(c.Request.Context(), c.Param("id"), includeDeleted(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tickets)
}

// CassetteRepairs handles GET /api/cassettes/:id/repairs.
func (h *Handler) CassetteRepairs(c *gin.Context) {
	repairs, err := h.core.ListRepairs(c.Request.Context(), c.Param("id"), includeDeleted(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, repairs)
}

// History returns a handler for GET /api/<entity>/:id/history.
func (h *Handler) History(entity lifecycle.EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := h.core.History(c.Request.Context(), entity, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}
