// Package domain defines the metering gateway contract. Every billable
// action flows through Charge: pre-flight check, provider invocation,
// debit settlement, and the transparency message back to the user.
package domain

import (
	"context"
	"errors"

	ledgerdomain "github.com/lunahealth/lumen/internal/ledger/domain"
)

// OperationResult is what a billable operation produced and what the
// provider said it consumed.
type OperationResult struct {
	Output     string
	TokensUsed int64
}

// Operation performs the billable work. It is only invoked after the
// pre-flight balance check passes.
type Operation func(ctx context.Context) (*OperationResult, error)

type ChargeRequest struct {
	UserID        string
	ActionKind    string
	CorrelationID string
	Operation     Operation
}

type ChargeResult struct {
	Output       string `json:"output"`
	TokensUsed   int64  `json:"tokens_used"`
	Debit        int64  `json:"debit"`
	BalanceAfter int64  `json:"balance_after"`
	Duplicate    bool   `json:"duplicate"`
	Message      string `json:"message"`
	Warning      string `json:"warning,omitempty"`
}

type BalanceStatus struct {
	UserID          string `json:"user_id"`
	TokensAvailable int64  `json:"tokens_available"`
	Warning         string `json:"warning,omitempty"`
}

type Service interface {
	Charge(context.Context, ChargeRequest) (*ChargeResult, error)
	Balance(ctx context.Context, userID string) (*BalanceStatus, error)
}

const (
	WarningCritical = "critical"
	WarningLow      = "low"
	WarningReminder = "reminder"
)

var (
	ErrInvalidRequest    = errors.New("invalid_charge_request")
	ErrUnknownAction     = errors.New("unknown_action_kind")
	ErrProviderFailure   = errors.New("provider_failure")
	ErrLedgerWriteFailed = errors.New("ledger_write_failed")

	// Shared with the ledger so errors.Is works across both layers.
	ErrInsufficientBalance = ledgerdomain.ErrInsufficientBalance
	ErrBalanceNotFound     = ledgerdomain.ErrBalanceNotFound
)
