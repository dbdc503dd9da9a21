package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lunahealth/lumen/internal/ratelimit"
)

const tickLockTTL = 2 * time.Minute

type tickRequest struct {
	UserID string `json:"user_id"`
}

// SchedulerTick runs one decide+dispatch cycle for a single user, behind
// the same per-user lock the scheduler takes. The 23h floor makes the call
// idempotent: a second tick inside the gap is a no-op.
func (s *Server) SchedulerTick(c *gin.Context) {
	var req tickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		AbortWithError(c, newValidationError("user_id", "required", "user_id is required"))
		return
	}

	ctx := c.Request.Context()
	key := ratelimit.InsightLockKey(userID)
	token, ok, err := s.locker.TryLock(ctx, key, tickLockTTL)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, errorResponse{Error: errorPayload{
			Type:    "locked",
			Message: "an insight run for this user is already in flight",
		}})
		return
	}
	defer func() {
		_ = s.locker.Release(ctx, key, token)
	}()

	decision, err := s.insightSvc.Run(ctx, userID, time.Now().UTC())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}
