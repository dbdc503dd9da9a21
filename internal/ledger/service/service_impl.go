package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/lunahealth/lumen/internal/ledger/domain"
	"github.com/lunahealth/lumen/pkg/db/option"
	"github.com/lunahealth/lumen/pkg/db/pagination"
	"github.com/lunahealth/lumen/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// applyDebitMaxRetries bounds the optimistic retry loop on balance contention.
const applyDebitMaxRetries = 5

var (
	errDuplicateEntry  = errors.New("duplicate_ledger_entry")
	errBalanceConflict = errors.New("balance_version_conflict")
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	entryrepo   repository.Repository[ledgerdomain.LedgerEntry]
	pendingrepo repository.Repository[ledgerdomain.PendingDebit]
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,

		entryrepo:   repository.ProvideStore[ledgerdomain.LedgerEntry](p.DB),
		pendingrepo: repository.ProvideStore[ledgerdomain.PendingDebit](p.DB),
	}
}

// ApplyDebit settles one debit atomically: the ledger insert and the balance
// update commit together or not at all. The balance write is an optimistic
// compare-and-swap on the previously read value, retried on conflict.
// A single debit may push the balance negative; the next one is rejected.
func (s *Service) ApplyDebit(ctx context.Context, req ledgerdomain.DebitRequest) (*ledgerdomain.DebitResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}
	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		return nil, ledgerdomain.ErrInvalidCorrelationID
	}
	if req.Debit <= 0 {
		return nil, ledgerdomain.ErrInvalidDebit
	}

	for attempt := 0; attempt < applyDebitMaxRetries; attempt++ {
		balance, err := s.GetBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		if balance == nil {
			return nil, ledgerdomain.ErrBalanceNotFound
		}
		if balance.TokensAvailable <= 0 {
			return nil, ledgerdomain.ErrInsufficientBalance
		}

		now := time.Now().UTC()
		entry := &ledgerdomain.LedgerEntry{
			ID:            s.genID.Generate(),
			UserID:        userID,
			ActionKind:    strings.TrimSpace(req.ActionKind),
			CorrelationID: correlationID,
			ProviderUsage: req.ProviderUsage,
			Multiplier:    req.Multiplier,
			Debit:         req.Debit,
			BalanceBefore: balance.TokensAvailable,
			BalanceAfter:  balance.TokensAvailable - req.Debit,
			CreatedAt:     now,
		}
		if req.Metadata != nil {
			entry.Metadata = datatypes.JSONMap(req.Metadata)
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			inserted, err := s.insertLedgerEntry(ctx, tx, entry)
			if err != nil {
				return err
			}
			if !inserted {
				return errDuplicateEntry
			}

			result := tx.WithContext(ctx).Model(&ledgerdomain.Balance{}).
				Where("user_id = ? AND tokens_available = ?", userID, entry.BalanceBefore).
				Updates(map[string]any{
					"tokens_available": entry.BalanceAfter,
					"updated_at":       now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return errBalanceConflict
			}
			return nil
		})

		switch {
		case err == nil:
			return &ledgerdomain.DebitResult{Entry: entry}, nil
		case errors.Is(err, errDuplicateEntry):
			existing, ferr := s.FindByCorrelationID(ctx, userID, correlationID)
			if ferr != nil {
				return nil, ferr
			}
			if existing == nil {
				return nil, errors.New("missing_ledger_entry")
			}
			return &ledgerdomain.DebitResult{Entry: existing, Duplicate: true}, nil
		case errors.Is(err, errBalanceConflict):
			continue
		default:
			return nil, err
		}
	}

	s.log.Warn("debit retries exhausted",
		zap.String("user_id", userID),
		zap.String("correlation_id", correlationID),
	)
	return nil, ledgerdomain.ErrBalanceContention
}

func (s *Service) insertLedgerEntry(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.LedgerEntry) (bool, error) {
	if strings.EqualFold(tx.Dialector.Name(), "sqlite") {
		return s.insertLedgerEntrySQLite(ctx, tx, entry)
	}
	result := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "correlation_id"},
		},
		DoNothing: true,
	}).Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) insertLedgerEntrySQLite(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.LedgerEntry) (bool, error) {
	query := `INSERT INTO ledger_entries (
		id, user_id, action_kind, correlation_id, provider_usage,
		multiplier, debit, balance_before, balance_after, metadata, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, correlation_id) DO NOTHING`
	result := tx.WithContext(ctx).Exec(
		query,
		entry.ID,
		entry.UserID,
		entry.ActionKind,
		entry.CorrelationID,
		entry.ProviderUsage,
		entry.Multiplier,
		entry.Debit,
		entry.BalanceBefore,
		entry.BalanceAfter,
		entry.Metadata,
		entry.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) GetBalance(ctx context.Context, userID string) (*ledgerdomain.Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}
	var balance ledgerdomain.Balance
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

// SeedBalance grants the starter token pool once. Re-seeding an existing
// balance is a no-op and returns the current row.
func (s *Service) SeedBalance(ctx context.Context, userID string, tokens int64) (*ledgerdomain.Balance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}

	now := time.Now().UTC()
	balance := &ledgerdomain.Balance{
		UserID:          userID,
		TokensAvailable: tokens,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(balance).Error
	if err != nil {
		return nil, err
	}
	return s.GetBalance(ctx, userID)
}

func (s *Service) FindByCorrelationID(ctx context.Context, userID, correlationID string) (*ledgerdomain.LedgerEntry, error) {
	userID = strings.TrimSpace(userID)
	correlationID = strings.TrimSpace(correlationID)
	if userID == "" || correlationID == "" {
		return nil, nil
	}
	var entry ledgerdomain.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND correlation_id = ?", userID, correlationID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Service) History(ctx context.Context, req ledgerdomain.HistoryRequest) (ledgerdomain.HistoryResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return ledgerdomain.HistoryResponse{}, ledgerdomain.ErrInvalidUser
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.entryrepo.Find(ctx, &ledgerdomain.LedgerEntry{UserID: userID},
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return ledgerdomain.HistoryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(e *ledgerdomain.LedgerEntry) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        e.ID.String(),
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})

	if len(items) > int(pageSize) {
		items = items[:pageSize]
	}
	entries := make([]ledgerdomain.LedgerEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, *item)
	}

	return ledgerdomain.HistoryResponse{
		PageInfo: *pageInfo,
		Entries:  entries,
	}, nil
}

// EnqueuePendingDebit parks a debit after a failed ledger write. The
// idempotency pair dedupes enqueue retries the same way the ledger does.
func (s *Service) EnqueuePendingDebit(ctx context.Context, req ledgerdomain.DebitRequest, cause error) error {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return ledgerdomain.ErrInvalidUser
	}
	correlationID := strings.TrimSpace(req.CorrelationID)
	if correlationID == "" {
		return ledgerdomain.ErrInvalidCorrelationID
	}

	now := time.Now().UTC()
	pending := &ledgerdomain.PendingDebit{
		ID:            s.genID.Generate(),
		UserID:        userID,
		ActionKind:    strings.TrimSpace(req.ActionKind),
		CorrelationID: correlationID,
		ProviderUsage: req.ProviderUsage,
		Multiplier:    req.Multiplier,
		Debit:         req.Debit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if cause != nil {
		pending.LastError = cause.Error()
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "correlation_id"},
		},
		DoNothing: true,
	}).Create(pending).Error
}

// ReplayPendingDebits retries parked debits oldest first and returns how
// many settled. Rows that settle (or turn out to be duplicates) are removed;
// the rest keep their attempt count and last error for the next run.
func (s *Service) ReplayPendingDebits(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	var pending []ledgerdomain.PendingDebit
	err := s.db.WithContext(ctx).
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&pending).Error
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, row := range pending {
		if err := ctx.Err(); err != nil {
			return settled, err
		}

		result, err := s.ApplyDebit(ctx, ledgerdomain.DebitRequest{
			UserID:        row.UserID,
			ActionKind:    row.ActionKind,
			CorrelationID: row.CorrelationID,
			ProviderUsage: row.ProviderUsage,
			Multiplier:    row.Multiplier,
			Debit:         row.Debit,
		})
		if err != nil {
			s.log.Warn("pending debit replay failed",
				zap.String("user_id", row.UserID),
				zap.String("correlation_id", row.CorrelationID),
				zap.Error(err),
			)
			updateErr := s.db.WithContext(ctx).Model(&ledgerdomain.PendingDebit{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{
					"attempts":   row.Attempts + 1,
					"last_error": err.Error(),
					"updated_at": time.Now().UTC(),
				}).Error
			if updateErr != nil {
				s.log.Warn("pending debit update failed", zap.Error(updateErr))
			}
			continue
		}

		if err := s.db.WithContext(ctx).Delete(&ledgerdomain.PendingDebit{}, "id = ?", row.ID).Error; err != nil {
			return settled, err
		}
		if result != nil && !result.Duplicate {
			settled++
		}
	}

	return settled, nil
}
