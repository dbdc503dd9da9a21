package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/lunahealth/lumen/internal/config"
	insightdomain "github.com/lunahealth/lumen/internal/insight/domain"
	journaldomain "github.com/lunahealth/lumen/internal/journal/domain"
	journalservice "github.com/lunahealth/lumen/internal/journal/service"
	notificationdomain "github.com/lunahealth/lumen/internal/notification/domain"
	notificationservice "github.com/lunahealth/lumen/internal/notification/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	insights []*insightdomain.Insight
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, userID string, insight *insightdomain.Insight) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.insights = append(d.insights, insight)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.insights)
}

type insightFixture struct {
	svc           insightdomain.Service
	journal       journaldomain.Service
	notifications notificationdomain.Service
	dispatcher    *recordingDispatcher
	node          *snowflake.Node
}

func setupInsightService(t *testing.T) *insightFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, db.AutoMigrate(
		&journaldomain.CycleEntry{},
		&journaldomain.DailyEntry{},
		&notificationdomain.Preference{},
		&notificationdomain.History{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	journal := journalservice.NewService(journalservice.ServiceParam{
		DB: db, Log: zap.NewNop(), GenID: node,
	})
	notifications := notificationservice.NewService(notificationservice.ServiceParam{
		DB: db, Log: zap.NewNop(),
	})
	dispatcher := &recordingDispatcher{}

	svc := NewService(ServiceParam{
		Log:           zap.NewNop(),
		Policy:        config.NewStaticPolicyHolder(config.DefaultPolicyConfig()),
		Journal:       journal,
		Notifications: notifications,
		Dispatcher:    dispatcher,
	})

	return &insightFixture{
		svc:           svc,
		journal:       journal,
		notifications: notifications,
		dispatcher:    dispatcher,
		node:          node,
	}
}

// 09:30 sits inside the default 09:00 + 4h window.
var dueTime = time.Date(2026, time.August, 31, 9, 30, 0, 0, time.UTC)

func TestDecideDisabled(t *testing.T) {
	f := setupInsightService(t)
	ctx := context.Background()

	disabled := false
	_, err := f.notifications.UpdatePreference(ctx, notificationdomain.UpdatePreferenceRequest{
		UserID:         "user-1",
		ChannelEnabled: &disabled,
	})
	require.NoError(t, err)

	decision, err := f.svc.Decide(ctx, "user-1", dueTime)
	require.NoError(t, err)
	assert.False(t, decision.ShouldNotify)
	assert.Equal(t, insightdomain.ReasonDisabled, decision.Reason)
}

func TestDecideTooSoon(t *testing.T) {
	f := setupInsightService(t)
	ctx := context.Background()

	require.NoError(t, f.notifications.AppendHistory(ctx, &notificationdomain.History{
		ID:          f.node.Generate(),
		UserID:      "user-1",
		InsightKind: "wellness_tip",
		Title:       "t",
		Message:     "m",
		Channel:     notificationdomain.ChannelEmail,
		Status:      notificationdomain.StatusSent,
		SentAt:      dueTime.Add(-10 * time.Hour),
	}))

	decision, err := f.svc.Decide(ctx, "user-1", dueTime)
	require.NoError(t, err)
	assert.False(t, decision.ShouldNotify)
	assert.Equal(t, insightdomain.ReasonTooSoon, decision.Reason)
}

func TestDecideFailedSendStillCountsForFloor(t *testing.T) {
	f := setupInsightService(t)
	ctx := context.Background()

	require.NoError(t, f.notifications.AppendHistory(ctx, &notificationdomain.History{
		ID:          f.node.Generate(),
		UserID:      "user-1",
		InsightKind: "wellness_tip",
		Title:       "t",
		Message:     "m",
		Channel:     notificationdomain.ChannelEmail,
		Status:      notificationdomain.StatusFailed,
		SentAt:      dueTime.Add(-2 * time.Hour),
	}))

	decision, err := f.svc.Decide(ctx, "user-1", dueTime)
	require.NoError(t, err)
	assert.Equal(t, insightdomain.ReasonTooSoon, decision.Reason)
}

func TestDecideOffCadence(t *testing.T) {
	f := setupInsightService(t)
	ctx := context.Background()

	weekday := (int(dueTime.Weekday()) + 1) % 7
	_, err := f.notifications.UpdatePreference(ctx, notificationdomain.UpdatePreferenceRequest{
		UserID:  "user-1",
		Cadence: notificationdomain.CadenceWeekly,
		Weekday: &weekday,
	})
	require.NoError(t, err)

	decision, err := f.svc.Decide(ctx, "user-1", dueTime)
	require.NoError(t, err)
	assert.Equal(t, insightdomain.ReasonOffCadence, decision.Reason)
}

func TestDecideOutsideWindow(t *testing.T) {
	f := setupInsightService(t)

	evening := time.Date(2026, time.August, 31, 20, 0, 0, 0, time.UTC)
	decision, err := f.svc.Decide(context.Background(), "user-1", evening)
	require.NoError(t, err)
	assert.Equal(t, insightdomain.ReasonOutsideWindow, decision.Reason)
}

func TestDecideGenericInsightWithoutRecords(t *testing.T) {
	f := setupInsightService(t)

	decision, err := f.svc.Decide(context.Background(), "user-1", dueTime)
	require.NoError(t, err)
	assert.True(t, decision.ShouldNotify)
	require.NotNil(t, decision.Insight)
	assert.Equal(t, "getting_started", decision.Insight.Kind)
}

func TestDecideCycleTrendWins(t *testing.T) {
	f := setupInsightService(t)
	ctx := context.Background()

	// Period starts 30, 26 and 21 days apart: a shortening trend.
	start := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	dates := []time.Time{start, start.AddDate(0, 0, 30), start.AddDate(0, 0, 56), start.AddDate(0, 0, 77)}
	for _, d := range dates {
		_, err := f.journal.RecordCycle(ctx, journaldomain.RecordCycleRequest{
			UserID: "user-1",
			Date:   d.Format(journaldomain.DateLayout),
		})
		require.NoError(t, err)
	}

	decision, err := f.svc.Decide(ctx, "user-1", dueTime)
	require.NoError(t, err)
	require.True(t, decision.ShouldNotify)
	assert.Equal(t, "cycle_trend", decision.Insight.Kind)
}

func TestDecideSymptomPattern(t *testing.T) {
	f := setupInsightService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.journal.RecordDaily(ctx, journaldomain.RecordDailyRequest{
			UserID:     "user-1",
			Date:       dueTime.AddDate(0, 0, -i).Format(journaldomain.DateLayout),
			HotFlashes: 4,
			Mood:       3,
		})
		require.NoError(t, err)
	}

	decision, err := f.svc.Decide(ctx, "user-1", dueTime)
	require.NoError(t, err)
	require.True(t, decision.ShouldNotify)
	assert.Equal(t, "symptom_pattern", decision.Insight.Kind)
}

func TestRunDispatchesWhenDue(t *testing.T) {
	f := setupInsightService(t)
	ctx := context.Background()

	decision, err := f.svc.Run(ctx, "user-1", dueTime)
	require.NoError(t, err)
	assert.True(t, decision.ShouldNotify)
	assert.Equal(t, 1, f.dispatcher.count())

	// A second run right away hits the floor and must not dispatch.
	// The recording dispatcher does not write history, so fake the row.
	require.NoError(t, f.notifications.AppendHistory(ctx, &notificationdomain.History{
		ID:          f.node.Generate(),
		UserID:      "user-1",
		InsightKind: decision.Insight.Kind,
		Title:       decision.Insight.Title,
		Message:     decision.Insight.Message,
		Channel:     notificationdomain.ChannelEmail,
		Status:      notificationdomain.StatusSent,
		SentAt:      dueTime,
	}))

	again, err := f.svc.Run(ctx, "user-1", dueTime.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, again.ShouldNotify)
	assert.Equal(t, 1, f.dispatcher.count())
}
