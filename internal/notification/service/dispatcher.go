package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lunahealth/lumen/internal/clock"
	insightdomain "github.com/lunahealth/lumen/internal/insight/domain"
	notificationdomain "github.com/lunahealth/lumen/internal/notification/domain"
	obsmetrics "github.com/lunahealth/lumen/internal/observability/metrics"
	"github.com/lunahealth/lumen/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const dispatchTimeout = 15 * time.Second

type DispatcherParam struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Service notificationdomain.Service
	Email   email.Provider
	Metrics *obsmetrics.NotificationMetrics `optional:"true"`
}

// Dispatcher renders a decided insight and delivers it over email. Every
// attempt leaves a history row; a failed send is recorded, not retried,
// because the next scheduler tick is the retry.
type Dispatcher struct {
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	service notificationdomain.Service
	email   email.Provider
	metrics *obsmetrics.NotificationMetrics
}

func NewDispatcher(p DispatcherParam) insightdomain.Dispatcher {
	return &Dispatcher{
		log:     p.Log.Named("notification.dispatcher"),
		genID:   p.GenID,
		clock:   p.Clock,
		service: p.Service,
		email:   p.Email,
		metrics: p.Metrics,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, userID string, insight *insightdomain.Insight) error {
	userID = strings.TrimSpace(userID)
	if userID == "" || insight == nil {
		return notificationdomain.ErrInvalidUser
	}

	pref, err := d.service.GetPreference(ctx, userID)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	sendErr := d.send(sendCtx, pref, insight)

	status := notificationdomain.StatusSent
	errMsg := ""
	if sendErr != nil {
		status = notificationdomain.StatusFailed
		errMsg = sendErr.Error()
		d.log.Warn("insight dispatch failed",
			zap.String("user_id", userID),
			zap.String("insight_kind", insight.Kind),
			zap.Error(sendErr),
		)
	}
	d.metrics.IncDispatch(notificationdomain.ChannelEmail, status)

	row := &notificationdomain.History{
		ID:          d.genID.Generate(),
		UserID:      userID,
		InsightKind: insight.Kind,
		Title:       insight.Title,
		Message:     insight.Message,
		Channel:     notificationdomain.ChannelEmail,
		Status:      status,
		Error:       errMsg,
		SentAt:      d.clock.Now(),
	}
	return d.service.AppendHistory(ctx, row)
}

func (d *Dispatcher) send(ctx context.Context, pref *notificationdomain.Preference, insight *insightdomain.Insight) error {
	recipient := strings.TrimSpace(pref.Email)
	if recipient == "" {
		// No address on file; the NoOp path still records history.
		recipient = pref.UserID
	}
	err := d.email.SendTemplate(ctx, []string{recipient}, "insight", map[string]interface{}{
		"subject": insight.Title,
		"title":   insight.Title,
		"message": insight.Message,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", notificationdomain.ErrDeliveryFailure, err)
	}
	return nil
}
