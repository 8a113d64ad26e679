package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cassette-tracker-backend/internal/core"
	"cassette-tracker-backend/internal/lifecycle"
	"cassette-tracker-backend/internal/mw"
)

// GetRepair handles GET /api/repairs/:id.
func (h *Handler) GetRepair(c *gin.Context) {
	r, err := h.core.GetRepair(c.Request.Context(), c.Param("id"), includeDeleted(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// AdvanceRepair handles POST /api/repairs/:id/advance.
func (h *Handler) AdvanceRepair(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.core.AdvanceRepair(c.Request.Context(), c.Param("id"), lifecycle.RepairStatus(req.Status), mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusOK, repairBody(res))
}

type completeRepairRequest struct {
	QCPassed          *bool  `json:"qc_passed" binding:"required"`
	RepairActionTaken string `json:"repair_action_taken"`
	PartsReplaced     string `json:"parts_replaced"`
	Notes             string `json:"notes"`
}

// CompleteRepair handles POST /api/repairs/:id/complete.
func (h *Handler) CompleteRepair(c *gin.Context) {
	var req completeRepairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.core.CompleteRepair(c.Request.Context(), core.CompleteRepairInput{
		RepairID:          c.Param("id"),
		QCPassed:          *req.QCPassed,
		RepairActionTaken: req.RepairActionTaken,
		PartsReplaced:     req.PartsReplaced,
		Notes:             req.Notes,
	}, mw.ActorOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(res.Events)
	c.JSON(http.StatusOK, repairBody(res))
}

func repairBody(res core.RepairResult) gin.H {
	return gin.H{
		"repair":   res.Repair,
		"cassette": res.Cassette,
		"tickets":  res.Tickets,
		"events":   res.Events,
	}
}
