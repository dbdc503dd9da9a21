package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	journaldomain "github.com/lunahealth/lumen/internal/journal/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupJournalService(t *testing.T) journaldomain.Service {
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

	if err := db.AutoMigrate(&journaldomain.CycleEntry{}, &journaldomain.DailyEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	return NewService(ServiceParam{DB: db, Log: zap.NewNop(), GenID: node})
}

func TestRecordCycleAmendsSameDay(t *testing.T) {
	svc := setupJournalService(t)
	ctx := context.Background()

	first, err := svc.RecordCycle(ctx, journaldomain.RecordCycleRequest{
		UserID: "user-1",
		Date:   "2026-08-01",
	})
	if err != nil {
		t.Fatalf("record first: %v", err)
	}
	if !first.IsPeriod {
		t.Fatal("expected is_period default true")
	}

	second, err := svc.RecordCycle(ctx, journaldomain.RecordCycleRequest{
		UserID: "user-1",
		Date:   "2026-08-01",
		Notes:  "light",
	})
	if err != nil {
		t.Fatalf("record amend: %v", err)
	}
	if second.Notes != "light" {
		t.Fatalf("expected amended notes, got %q", second.Notes)
	}

	entries, err := svc.ListRecentCycles(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after amend, got %d", len(entries))
	}
}

func TestListRecentCyclesAscending(t *testing.T) {
	svc := setupJournalService(t)
	ctx := context.Background()

	for _, date := range []string{"2026-03-01", "2026-01-02", "2026-02-01"} {
		if _, err := svc.RecordCycle(ctx, journaldomain.RecordCycleRequest{
			UserID: "user-1",
			Date:   date,
		}); err != nil {
			t.Fatalf("record %s: %v", date, err)
		}
	}

	entries, err := svc.ListRecentCycles(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i-1].EntryDate.Before(entries[i].EntryDate) {
			t.Fatalf("entries out of order: %v before %v", entries[i-1].EntryDate, entries[i].EntryDate)
		}
	}
}

func TestRecordDailyValidation(t *testing.T) {
	svc := setupJournalService(t)
	ctx := context.Background()

	_, err := svc.RecordDaily(ctx, journaldomain.RecordDailyRequest{
		UserID:       "user-1",
		Date:         "2026-08-01",
		SleepQuality: 9,
	})
	if !errors.Is(err, journaldomain.ErrInvalidScore) {
		t.Fatalf("expected invalid score, got %v", err)
	}

	_, err = svc.RecordDaily(ctx, journaldomain.RecordDailyRequest{
		UserID: "user-1",
		Date:   "not-a-date",
	})
	if !errors.Is(err, journaldomain.ErrInvalidDate) {
		t.Fatalf("expected invalid date, got %v", err)
	}

	entry, err := svc.RecordDaily(ctx, journaldomain.RecordDailyRequest{
		UserID:       "user-1",
		Date:         "2026-08-01",
		HotFlashes:   3,
		SleepQuality: 2,
		Mood:         4,
	})
	if err != nil {
		t.Fatalf("record daily: %v", err)
	}
	if entry.HotFlashes != 3 || entry.SleepQuality != 2 || entry.Mood != 4 {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestRecordDailyAmendsScores(t *testing.T) {
	svc := setupJournalService(t)
	ctx := context.Background()

	if _, err := svc.RecordDaily(ctx, journaldomain.RecordDailyRequest{
		UserID:     "user-1",
		Date:       "2026-08-01",
		HotFlashes: 1,
		Mood:       2,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	amended, err := svc.RecordDaily(ctx, journaldomain.RecordDailyRequest{
		UserID:     "user-1",
		Date:       "2026-08-01",
		HotFlashes: 5,
		Mood:       3,
	})
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if amended.HotFlashes != 5 || amended.Mood != 3 {
		t.Fatalf("expected amended scores, got %+v", amended)
	}

	entries, err := svc.ListRecentDaily(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}
