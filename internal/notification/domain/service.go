package domain

import (
	"context"
	"errors"
)

type UpdatePreferenceRequest struct {
	UserID         string `json:"user_id"`
	ChannelEnabled *bool  `json:"channel_enabled"`
	Cadence        string `json:"cadence"`
	PreferredTime  string `json:"preferred_time"`
	Weekday        *int   `json:"weekday"`
	MonthDay       *int   `json:"month_day"`
	Email          string `json:"email"`
}

type Service interface {
	// GetPreference returns the stored preference or the defaults when the
	// user has never saved one.
	GetPreference(ctx context.Context, userID string) (*Preference, error)
	UpdatePreference(context.Context, UpdatePreferenceRequest) (*Preference, error)
	LatestHistory(ctx context.Context, userID string) (*History, error)
	ListHistory(ctx context.Context, userID string, limit int) ([]History, error)
	AppendHistory(ctx context.Context, row *History) error
	// ListEnabledUserIDs pages through users with notifications switched on,
	// keyset style: pass the last seen user id to get the next batch.
	ListEnabledUserIDs(ctx context.Context, afterUserID string, limit int) ([]string, error)
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidCadence = errors.New("invalid_cadence")
	ErrInvalidTime    = errors.New("invalid_preferred_time")
	ErrInvalidDay     = errors.New("invalid_day")

	// ErrDeliveryFailure marks a provider send that failed. It ends up in
	// the history row's error column, never on the HTTP surface.
	ErrDeliveryFailure = errors.New("delivery_failure")
)
