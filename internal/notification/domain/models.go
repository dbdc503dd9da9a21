// Package domain contains persistence models for notification preferences
// and delivery history.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	CadenceDaily   = "daily"
	CadenceWeekly  = "weekly"
	CadenceMonthly = "monthly"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

const ChannelEmail = "email"

// Preference is the user-controlled notification contract. A user without
// a row gets the defaults.
type Preference struct {
	UserID         string    `gorm:"primaryKey;type:text"`
	ChannelEnabled bool      `gorm:"not null;default:true"`
	Cadence        string    `gorm:"type:text;not null;default:daily"`
	PreferredTime  string    `gorm:"type:text;not null;default:09:00"`
	Weekday        int       `gorm:"not null;default:1"`
	MonthDay       int       `gorm:"not null;default:1"`
	Email          string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Preference) TableName() string { return "notification_preferences" }

// History is append only. A row is written for every dispatch attempt,
// failed ones included, because the send-gap floor keys off it.
type History struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	UserID      string       `gorm:"type:text;not null;index:idx_notification_history_user_sent"`
	InsightKind string       `gorm:"type:text;not null"`
	Title       string       `gorm:"type:text;not null"`
	Message     string       `gorm:"type:text;not null"`
	Channel     string       `gorm:"type:text;not null"`
	Status      string       `gorm:"type:text;not null"`
	Error       string       `gorm:"type:text"`
	SentAt      time.Time    `gorm:"not null;index:idx_notification_history_user_sent"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (History) TableName() string { return "notification_history" }
