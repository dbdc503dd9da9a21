package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	meteringdomain "github.com/lunahealth/lumen/internal/metering/domain"
	"github.com/lunahealth/lumen/internal/providers/llm"
	"go.uber.org/zap"
)

type chargeRequest struct {
	UserID        string        `json:"user_id"`
	ActionKind    string        `json:"action_kind"`
	CorrelationID string        `json:"correlation_id"`
	Messages      []llm.Message `json:"messages"`
}

type chargeResponse struct {
	Success bool `json:"success"`
	meteringdomain.ChargeResult
}

// chargeFailureResponse is the shape for a charge whose ledger write
// failed: the caller keeps the operation output and the computed debit,
// because the debit is parked and will still be settled by reconciliation.
type chargeFailureResponse struct {
	Success bool         `json:"success"`
	Error   errorPayload `json:"error"`
	meteringdomain.ChargeResult
}

// ChargeRateLimit throttles charge requests per user before any balance or
// provider work happens.
func (s *Server) ChargeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.chargeLimiter.Enabled() {
			c.Next()
			return
		}

		var req chargeRequest
		if err := c.ShouldBindBodyWithJSON(&req); err != nil {
			AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
			return
		}

		res, err := s.chargeLimiter.Allow(c.Request.Context(), req.UserID)
		if err != nil {
			// A broken limiter must not take charging down with it.
			s.log.Warn("charge rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many charge requests, slow down",
			}})
			return
		}
		c.Next()
	}
}

func (s *Server) Charge(c *gin.Context) {
	var req chargeRequest
	if err := c.ShouldBindBodyWithJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		AbortWithError(c, newValidationError("user_id", "required", "user_id is required"))
		return
	}
	if strings.TrimSpace(req.CorrelationID) == "" {
		AbortWithError(c, newValidationError("correlation_id", "required", "correlation_id is required"))
		return
	}
	if len(req.Messages) == 0 {
		AbortWithError(c, newValidationError("messages", "required", "messages must not be empty"))
		return
	}

	result, err := s.meteringSvc.Charge(c.Request.Context(), meteringdomain.ChargeRequest{
		UserID:        req.UserID,
		ActionKind:    req.ActionKind,
		CorrelationID: req.CorrelationID,
		Operation: func(ctx context.Context) (*meteringdomain.OperationResult, error) {
			completion, err := s.llmProvider.Complete(ctx, req.Messages)
			if err != nil {
				return nil, err
			}
			return &meteringdomain.OperationResult{
				Output:     completion.Text,
				TokensUsed: completion.TotalTokens,
			}, nil
		},
	})
	if err != nil {
		if result != nil && errors.Is(err, meteringdomain.ErrLedgerWriteFailed) {
			status, payload := mapError(err)
			c.JSON(status, chargeFailureResponse{Error: payload, ChargeResult: *result})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, chargeResponse{Success: true, ChargeResult: *result})
}

func (s *Server) GetBalance(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		AbortWithError(c, newValidationError("user_id", "required", "user_id is required"))
		return
	}

	status, err := s.meteringSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
