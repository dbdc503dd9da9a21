package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/lunahealth/lumen/internal/clock"
	insightdomain "github.com/lunahealth/lumen/internal/insight/domain"
	notificationdomain "github.com/lunahealth/lumen/internal/notification/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupNotificationDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.AutoMigrate(&notificationdomain.Preference{}, &notificationdomain.History{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func setupNotificationService(t *testing.T) (notificationdomain.Service, *gorm.DB) {
	t.Helper()
	db := setupNotificationDB(t)
	return NewService(ServiceParam{DB: db, Log: zap.NewNop()}), db
}

func TestGetPreferenceDefaults(t *testing.T) {
	svc, _ := setupNotificationService(t)

	pref, err := svc.GetPreference(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !pref.ChannelEnabled {
		t.Fatal("expected notifications enabled by default")
	}
	if pref.Cadence != notificationdomain.CadenceDaily {
		t.Fatalf("expected daily cadence, got %q", pref.Cadence)
	}
	if pref.PreferredTime != "09:00" {
		t.Fatalf("expected 09:00 default, got %q", pref.PreferredTime)
	}
}

func TestUpdatePreferenceUpsert(t *testing.T) {
	svc, _ := setupNotificationService(t)
	ctx := context.Background()

	disabled := false
	weekday := int(time.Friday)
	pref, err := svc.UpdatePreference(ctx, notificationdomain.UpdatePreferenceRequest{
		UserID:         "user-1",
		ChannelEnabled: &disabled,
		Cadence:        "weekly",
		PreferredTime:  "18:30",
		Weekday:        &weekday,
		Email:          "user@example.com",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if pref.ChannelEnabled {
		t.Fatal("expected disabled")
	}

	// Second update only flips the flag; everything else survives.
	enabled := true
	pref, err = svc.UpdatePreference(ctx, notificationdomain.UpdatePreferenceRequest{
		UserID:         "user-1",
		ChannelEnabled: &enabled,
	})
	if err != nil {
		t.Fatalf("update again: %v", err)
	}
	if pref.Cadence != notificationdomain.CadenceWeekly || pref.PreferredTime != "18:30" || pref.Weekday != weekday {
		t.Fatalf("partial update clobbered fields: %+v", pref)
	}

	_, err = svc.UpdatePreference(ctx, notificationdomain.UpdatePreferenceRequest{
		UserID:  "user-1",
		Cadence: "hourly",
	})
	if !errors.Is(err, notificationdomain.ErrInvalidCadence) {
		t.Fatalf("expected invalid cadence, got %v", err)
	}
}

func TestLatestHistoryOrdering(t *testing.T) {
	svc, _ := setupNotificationService(t)
	ctx := context.Background()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("node: %v", err)
	}

	base := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := svc.AppendHistory(ctx, &notificationdomain.History{
			ID:          node.Generate(),
			UserID:      "user-1",
			InsightKind: "cycle_trend",
			Title:       fmt.Sprintf("title-%d", i),
			Message:     "m",
			Channel:     notificationdomain.ChannelEmail,
			Status:      notificationdomain.StatusSent,
			SentAt:      base.Add(time.Duration(i) * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	latest, err := svc.LatestHistory(ctx, "user-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Title != "title-2" {
		t.Fatalf("expected most recent row, got %q", latest.Title)
	}

	none, err := svc.LatestHistory(ctx, "user-2")
	if err != nil {
		t.Fatalf("latest empty: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil for user without history, got %+v", none)
	}
}

func TestListEnabledUserIDsKeyset(t *testing.T) {
	svc, _ := setupNotificationService(t)
	ctx := context.Background()

	enabled := true
	disabled := false
	for i, state := range []*bool{&enabled, &enabled, &disabled, &enabled} {
		_, err := svc.UpdatePreference(ctx, notificationdomain.UpdatePreferenceRequest{
			UserID:         fmt.Sprintf("user-%d", i),
			ChannelEnabled: state,
		})
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	first, err := svc.ListEnabledUserIDs(ctx, "", 2)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if len(first) != 2 || first[0] != "user-0" || first[1] != "user-1" {
		t.Fatalf("unexpected first batch %v", first)
	}

	second, err := svc.ListEnabledUserIDs(ctx, first[len(first)-1], 2)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(second) != 1 || second[0] != "user-3" {
		t.Fatalf("expected disabled user skipped, got %v", second)
	}
}

type failingEmail struct{}

func (f *failingEmail) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return errors.New("smtp unreachable")
}

func (f *failingEmail) SendTemplate(ctx context.Context, to []string, templateName string, data interface{}) error {
	return errors.New("smtp unreachable")
}

func TestDispatchFailureStillRecordsHistory(t *testing.T) {
	db := setupNotificationDB(t)
	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop()})

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	now := time.Date(2026, time.August, 31, 9, 30, 0, 0, time.UTC)

	dispatcher := NewDispatcher(DispatcherParam{
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.NewFakeClock(now),
		Service: svc,
		Email:   &failingEmail{},
	})

	err = dispatcher.Dispatch(context.Background(), "user-1", &insightdomain.Insight{
		Kind:    "cycle_trend",
		Title:   "Your cycles are shifting",
		Message: "The last few cycles came closer together.",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	latest, err := svc.LatestHistory(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil {
		t.Fatal("expected history row despite failed send")
	}
	if latest.Status != notificationdomain.StatusFailed {
		t.Fatalf("expected failed status, got %q", latest.Status)
	}
	if !strings.HasPrefix(latest.Error, notificationdomain.ErrDeliveryFailure.Error()) {
		t.Fatalf("expected delivery_failure class recorded, got %q", latest.Error)
	}
	if !latest.SentAt.Equal(now) {
		t.Fatalf("expected clock time %v, got %v", now, latest.SentAt)
	}
}
