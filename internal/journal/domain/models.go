// Package domain contains persistence models for the health journal.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CycleEntry marks one logged period day. Amending a day rewrites the same
// row; entries are never deleted.
type CycleEntry struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	UserID    string       `gorm:"type:text;not null;uniqueIndex:idx_cycle_user_date"`
	EntryDate time.Time    `gorm:"type:date;not null;uniqueIndex:idx_cycle_user_date"`
	IsPeriod  bool         `gorm:"not null;default:true"`
	Notes     string       `gorm:"type:text"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CycleEntry) TableName() string { return "cycle_entries" }

// DailyEntry captures one day of self-reported wellbeing. Scores run 1 to 5,
// zero means not reported.
type DailyEntry struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	UserID       string       `gorm:"type:text;not null;uniqueIndex:idx_daily_user_date"`
	EntryDate    time.Time    `gorm:"type:date;not null;uniqueIndex:idx_daily_user_date"`
	HotFlashes   int          `gorm:"not null;default:0"`
	SleepQuality int          `gorm:"not null;default:0"`
	Mood         int          `gorm:"not null;default:0"`
	Notes        string       `gorm:"type:text"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (DailyEntry) TableName() string { return "daily_entries" }
