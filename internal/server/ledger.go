package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/lunahealth/lumen/internal/ledger/domain"
)

func (s *Server) ListLedger(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		AbortWithError(c, newValidationError("user_id", "required", "user_id is required"))
		return
	}

	pageSize := int32(0)
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 0 {
			AbortWithError(c, newValidationError("page_size", "invalid", "page_size must be a non-negative integer"))
			return
		}
		pageSize = int32(parsed)
	}

	resp, err := s.ledgerSvc.History(c.Request.Context(), ledgerdomain.HistoryRequest{
		UserID:    userID,
		PageToken: c.Query("page_token"),
		PageSize:  pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
