package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"mt5-trader/internal/risk"

	"github.com/gin-gonic/gin"
)

type listExecutionsQuery struct {
	Limit int `form:"limit"`
}

func (q *listExecutionsQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) getStatus(c *gin.Context) {
	resp := gin.H{
		"meta":   s.Meta,
		"engine": s.Engine.Status(c.Request.Context()),
	}
	if s.Metrics != nil {
		resp["metrics"] = s.Metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getPositions(c *gin.Context) {
	positions := s.Engine.Positions()
	c.JSON(http.StatusOK, gin.H{
		"positions": positions,
		"count":     len(positions),
	})
}

func (s *Server) getExecutions(c *gin.Context) {
	var q listExecutionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_QUERY",
			"error": err.Error(),
		})
		return
	}
	q.normalize()

	rows, err := s.Engine.Executions(c.Request.Context(), q.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": rows})
}

func (s *Server) enableTrading(c *gin.Context) {
	s.Engine.EnableTrading(c.Request.Context(), CurrentActor(c))
	c.JSON(http.StatusOK, gin.H{"trading_enabled": true})
}

func (s *Server) disableTrading(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_REASON",
			"error": "reason is required",
		})
		return
	}
	reason := strings.TrimSpace(req.Reason) + " (by " + CurrentActor(c) + ")"
	if err := s.Engine.DisableTrading(c.Request.Context(), reason); err != nil {
		if errors.Is(err, risk.ErrTradingDisabled) {
			c.JSON(http.StatusConflict, gin.H{
				"code":  "ALREADY_DISABLED",
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trading_enabled": false})
}

func (s *Server) emergencyStop(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual emergency stop"
	}
	reason += " (by " + CurrentActor(c) + ")"

	// A client hanging up must not abort the liquidation sweep.
	ctx := context.WithoutCancel(c.Request.Context())
	closed := s.Engine.EmergencyStop(ctx, reason)
	c.JSON(http.StatusOK, gin.H{
		"trading_enabled":  false,
		"positions_closed": closed,
	})
}
