package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	journaldomain "github.com/lunahealth/lumen/internal/journal/domain"
)

func (s *Server) RecordCycleEntry(c *gin.Context) {
	var req journaldomain.RecordCycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	entry, err := s.journalSvc.RecordCycle(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) ListCycleEntries(c *gin.Context) {
	userID, limit, err := journalListParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries, err := s.journalSvc.ListRecentCycles(c.Request.Context(), userID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) RecordDailyEntry(c *gin.Context) {
	var req journaldomain.RecordDailyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	entry, err := s.journalSvc.RecordDaily(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) ListDailyEntries(c *gin.Context) {
	userID, limit, err := journalListParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	entries, err := s.journalSvc.ListRecentDaily(c.Request.Context(), userID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func journalListParams(c *gin.Context) (string, int, error) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		return "", 0, newValidationError("user_id", "required", "user_id is required")
	}

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return "", 0, newValidationError("limit", "invalid", "limit must be a non-negative integer")
		}
		limit = parsed
	}
	return userID, limit, nil
}
