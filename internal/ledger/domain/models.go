// Package domain contains persistence models for the usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Balance tracks the spendable token pool per user.
type Balance struct {
	UserID          string    `gorm:"primaryKey;type:text"`
	TokensAvailable int64     `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Balance) TableName() string { return "balances" }

// LedgerEntry records one settled debit. Rows are immutable.
type LedgerEntry struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	UserID        string            `gorm:"type:text;not null;uniqueIndex:idx_ledger_user_correlation"`
	ActionKind    string            `gorm:"type:text;not null"`
	CorrelationID string            `gorm:"type:text;not null;uniqueIndex:idx_ledger_user_correlation"`
	ProviderUsage int64             `gorm:"not null"`
	Multiplier    float64           `gorm:"not null"`
	Debit         int64             `gorm:"not null"`
	BalanceBefore int64             `gorm:"not null"`
	BalanceAfter  int64             `gorm:"not null"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// PendingDebit parks a debit whose ledger write failed so the
// reconciliation job can replay it.
type PendingDebit struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	UserID        string       `gorm:"type:text;not null;uniqueIndex:idx_pending_user_correlation"`
	ActionKind    string       `gorm:"type:text;not null"`
	CorrelationID string       `gorm:"type:text;not null;uniqueIndex:idx_pending_user_correlation"`
	ProviderUsage int64        `gorm:"not null"`
	Multiplier    float64      `gorm:"not null"`
	Debit         int64        `gorm:"not null"`
	Attempts      int          `gorm:"not null;default:0"`
	LastError     string       `gorm:"type:text"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PendingDebit) TableName() string { return "pending_debits" }
