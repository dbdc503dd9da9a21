package domain

import (
	"context"
	"errors"
)

// DateLayout is the wire format for journal dates.
const DateLayout = "2006-01-02"

type RecordCycleRequest struct {
	UserID   string `json:"user_id"`
	Date     string `json:"date"`
	IsPeriod *bool  `json:"is_period"`
	Notes    string `json:"notes"`
}

type RecordDailyRequest struct {
	UserID       string `json:"user_id"`
	Date         string `json:"date"`
	HotFlashes   int    `json:"hot_flashes"`
	SleepQuality int    `json:"sleep_quality"`
	Mood         int    `json:"mood"`
	Notes        string `json:"notes"`
}

type Service interface {
	RecordCycle(context.Context, RecordCycleRequest) (*CycleEntry, error)
	RecordDaily(context.Context, RecordDailyRequest) (*DailyEntry, error)
	ListRecentCycles(ctx context.Context, userID string, limit int) ([]CycleEntry, error)
	ListRecentDaily(ctx context.Context, userID string, limit int) ([]DailyEntry, error)
}

var (
	ErrInvalidUser  = errors.New("invalid_user")
	ErrInvalidDate  = errors.New("invalid_date")
	ErrInvalidScore = errors.New("invalid_score")
)
