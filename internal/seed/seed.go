// Package seed creates the rows a fresh deployment needs on first boot.
package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	ledgerdomain "github.com/lunahealth/lumen/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureStarterBalance grants the starter token pool to a user when no
// balance row exists yet. Safe to run on every boot.
func EnsureStarterBalance(db *gorm.DB, userID string, tokens int64) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("seed user id is required")
	}
	if tokens <= 0 {
		return errors.New("seed balance must be positive")
	}

	ctx := context.Background()
	now := time.Now().UTC()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&ledgerdomain.Balance{
		UserID:          userID,
		TokensAvailable: tokens,
		CreatedAt:       now,
		UpdatedAt:       now,
	}).Error
}
