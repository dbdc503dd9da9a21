package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/lunahealth/lumen/internal/catalog"
	"github.com/lunahealth/lumen/internal/config"
	ledgerdomain "github.com/lunahealth/lumen/internal/ledger/domain"
	meteringdomain "github.com/lunahealth/lumen/internal/metering/domain"
	obsmetrics "github.com/lunahealth/lumen/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	Ledger  ledgerdomain.Service
	Policy  *config.PolicyConfigHolder
	Metrics *obsmetrics.MeteringMetrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	ledger  ledgerdomain.Service
	policy  *config.PolicyConfigHolder
	metrics *obsmetrics.MeteringMetrics
}

func NewService(p ServiceParam) meteringdomain.Service {
	return &Service{
		log:     p.Log.Named("metering.service"),
		ledger:  p.Ledger,
		policy:  p.Policy,
		metrics: p.Metrics,
	}
}

// Charge runs one billable action end to end. The operation is never
// invoked when the user cannot pay, and a failed operation never debits.
// A ledger write failure after a successful operation is the one case
// where the caller gets both a result and an error: the work happened,
// the debit is parked for reconciliation.
func (s *Service) Charge(ctx context.Context, req meteringdomain.ChargeRequest) (*meteringdomain.ChargeResult, error) {
	userID := strings.TrimSpace(req.UserID)
	correlationID := strings.TrimSpace(req.CorrelationID)
	if userID == "" || correlationID == "" || req.Operation == nil {
		return nil, meteringdomain.ErrInvalidRequest
	}
	kind, ok := catalog.Parse(req.ActionKind)
	if !ok {
		return nil, meteringdomain.ErrUnknownAction
	}

	policy := s.policy.Get()

	// Replay check before anything else: a retried correlation id returns
	// the recorded outcome without touching the provider or the balance.
	existing, err := s.ledger.FindByCorrelationID(ctx, userID, correlationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.metrics.IncCharge(string(kind), obsmetrics.ChargeOutcomeDuplicate)
		return s.resultFromEntry(policy, existing, true), nil
	}

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, meteringdomain.ErrBalanceNotFound
	}
	if balance.TokensAvailable <= 0 {
		s.metrics.IncCharge(string(kind), obsmetrics.ChargeOutcomeInsufficient)
		return nil, meteringdomain.ErrInsufficientBalance
	}

	projectedLow := balance.TokensAvailable < catalog.EstimatedCost(policy, kind)

	opResult, err := req.Operation(ctx)
	if err != nil {
		s.metrics.IncCharge(string(kind), obsmetrics.ChargeOutcomeProvider)
		return nil, fmt.Errorf("%w: %v", meteringdomain.ErrProviderFailure, err)
	}
	if opResult == nil || opResult.TokensUsed <= 0 {
		s.metrics.IncCharge(string(kind), obsmetrics.ChargeOutcomeProvider)
		return nil, fmt.Errorf("%w: no usage reported", meteringdomain.ErrProviderFailure)
	}

	debit := int64(math.Ceil(float64(opResult.TokensUsed) * policy.TokenMultiplier))

	debitReq := ledgerdomain.DebitRequest{
		UserID:        userID,
		ActionKind:    string(kind),
		CorrelationID: correlationID,
		ProviderUsage: opResult.TokensUsed,
		Multiplier:    policy.TokenMultiplier,
		Debit:         debit,
		Metadata: map[string]any{
			"output":        opResult.Output,
			"projected_low": projectedLow,
		},
	}

	settled, err := s.ledger.ApplyDebit(ctx, debitReq)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientBalance) {
			s.metrics.IncCharge(string(kind), obsmetrics.ChargeOutcomeInsufficient)
			return nil, meteringdomain.ErrInsufficientBalance
		}

		// The work is done but the debit is not recorded. Park it so the
		// reconciliation job can settle it, and tell the caller the truth.
		s.log.Error("ledger write failed, parking debit",
			zap.String("user_id", userID),
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
		if enqueueErr := s.ledger.EnqueuePendingDebit(ctx, debitReq, err); enqueueErr != nil {
			s.log.Error("failed to park pending debit", zap.Error(enqueueErr))
		} else {
			s.metrics.IncPendingDebit()
		}
		s.metrics.IncCharge(string(kind), obsmetrics.ChargeOutcomeLedger)

		return &meteringdomain.ChargeResult{
			Output:     opResult.Output,
			TokensUsed: opResult.TokensUsed,
			Debit:      debit,
		}, meteringdomain.ErrLedgerWriteFailed
	}

	if settled.Duplicate {
		s.metrics.IncCharge(string(kind), obsmetrics.ChargeOutcomeDuplicate)
		return s.resultFromEntry(policy, settled.Entry, true), nil
	}

	s.metrics.IncCharge(string(kind), obsmetrics.ChargeOutcomeSuccess)
	s.metrics.ObserveDebit(debit)

	return s.resultFromEntry(policy, settled.Entry, false), nil
}

func (s *Service) Balance(ctx context.Context, userID string) (*meteringdomain.BalanceStatus, error) {
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, meteringdomain.ErrBalanceNotFound
	}
	return &meteringdomain.BalanceStatus{
		UserID:          balance.UserID,
		TokensAvailable: balance.TokensAvailable,
		Warning:         warningTier(s.policy.Get(), balance.TokensAvailable),
	}, nil
}

func (s *Service) resultFromEntry(policy config.PolicyConfig, entry *ledgerdomain.LedgerEntry, duplicate bool) *meteringdomain.ChargeResult {
	output := ""
	if entry.Metadata != nil {
		if v, ok := entry.Metadata["output"].(string); ok {
			output = v
		}
	}
	return &meteringdomain.ChargeResult{
		Output:       output,
		TokensUsed:   entry.ProviderUsage,
		Debit:        entry.Debit,
		BalanceAfter: entry.BalanceAfter,
		Duplicate:    duplicate,
		Message:      chargeMessage(entry),
		Warning:      warningTier(policy, entry.BalanceAfter),
	}
}

// chargeMessage is the transparency line shown with every charge.
func chargeMessage(entry *ledgerdomain.LedgerEntry) string {
	return fmt.Sprintf("This %s used %d provider tokens and debited %d from your balance. %d tokens remain.",
		entry.ActionKind, entry.ProviderUsage, entry.Debit, entry.BalanceAfter)
}

func warningTier(policy config.PolicyConfig, balance int64) string {
	switch {
	case balance <= policy.Warnings.Critical:
		return meteringdomain.WarningCritical
	case balance <= policy.Warnings.Low:
		return meteringdomain.WarningLow
	case balance <= policy.Warnings.Reminder:
		return meteringdomain.WarningReminder
	default:
		return ""
	}
}
