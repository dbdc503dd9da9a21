package domain

import (
	"context"
	"errors"

	"github.com/lunahealth/lumen/pkg/db/pagination"
)

type DebitRequest struct {
	UserID        string         `json:"user_id"`
	ActionKind    string         `json:"action_kind"`
	CorrelationID string         `json:"correlation_id"`
	ProviderUsage int64          `json:"provider_usage"`
	Multiplier    float64        `json:"multiplier"`
	Debit         int64          `json:"debit"`
	Metadata      map[string]any `json:"metadata"`
}

type DebitResult struct {
	Entry     *LedgerEntry `json:"entry"`
	Duplicate bool         `json:"duplicate"`
}

type HistoryRequest struct {
	UserID    string `json:"user_id"`
	PageToken string `json:"page_token"`
	PageSize  int32  `json:"page_size"`
}

type HistoryResponse struct {
	pagination.PageInfo
	Entries []LedgerEntry `json:"entries"`
}

type Service interface {
	ApplyDebit(context.Context, DebitRequest) (*DebitResult, error)
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	SeedBalance(ctx context.Context, userID string, tokens int64) (*Balance, error)
	FindByCorrelationID(ctx context.Context, userID, correlationID string) (*LedgerEntry, error)
	History(context.Context, HistoryRequest) (HistoryResponse, error)
	EnqueuePendingDebit(ctx context.Context, req DebitRequest, cause error) error
	ReplayPendingDebits(ctx context.Context, limit int) (int, error)
}

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidCorrelationID = errors.New("invalid_correlation_id")
	ErrInvalidDebit         = errors.New("invalid_debit")
	ErrBalanceNotFound      = errors.New("balance_not_found")
	ErrInsufficientBalance  = errors.New("insufficient_balance")
	ErrBalanceContention    = errors.New("balance_contention")
)
