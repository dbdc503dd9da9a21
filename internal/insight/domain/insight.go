// Package domain defines the insight decision contract: whether a user
// should be notified right now, and with what.
package domain

import (
	"context"
	"time"
)

type Insight struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Decision is the outcome of one evaluation tick for one user. Reason is
// set when ShouldNotify is false and explains which gate closed.
type Decision struct {
	ShouldNotify bool     `json:"should_notify"`
	Reason       string   `json:"reason,omitempty"`
	Insight      *Insight `json:"insight,omitempty"`
}

const (
	ReasonDisabled      = "disabled"
	ReasonTooSoon       = "too soon"
	ReasonOffCadence    = "off cadence"
	ReasonOutsideWindow = "outside window"
)

type Service interface {
	// Decide evaluates the gates and picks an insight. It never dispatches.
	Decide(ctx context.Context, userID string, now time.Time) (*Decision, error)
	// Run decides and, when due, dispatches through the notifier.
	Run(ctx context.Context, userID string, now time.Time) (*Decision, error)
}

// Dispatcher delivers a decided insight. Implemented by the notification
// package.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID string, insight *Insight) error
}
